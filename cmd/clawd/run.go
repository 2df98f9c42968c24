package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ClawAgent/internal/orchestrator"
	"ClawAgent/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   `run "<task>"`,
	Short: "在前台执行一次编排并输出最终答案",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := initLogger(cfg); err != nil {
			return err
		}
		defer logger.Sync()

		pairs, _ := cmd.Flags().GetStringToString("context")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		d, err := newDaemon(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()
		d.start(ctx)

		outcome := d.orchestrator.Execute(ctx, orchestrator.Input{
			RunID:   uuid.NewString(),
			Task:    strings.Join(args, " "),
			Context: pairs,
		})

		out := cmd.OutOrStdout()
		if asJSON {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(outcome)
		}
		_, err = fmt.Fprintln(out, outcome.FinalResult)
		return err
	},
}

func init() {
	runCmd.Flags().StringToString("context", nil, "附加上下文，key=value，可重复")
	runCmd.Flags().Bool("json", false, "以 JSON 输出完整编排结果")
}
