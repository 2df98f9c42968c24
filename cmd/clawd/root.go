package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ClawAgent/internal/config"
	"ClawAgent/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "clawd",
	Short:         "ClawAgent 编排守护进程",
	Long:          `clawd 把自然语言任务拆解为计划，逐步调用终端与浏览器工具执行，并汇总最终答案。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 解析命令行并运行子命令，收到 SIGINT/SIGTERM 时取消 ctx。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "clawd 运行失败: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "配置文件路径，默认读取 $CLAW_CONFIG 或 configs/claw.json")
	rootCmd.AddCommand(serveCmd, runCmd, toolsCmd)
}

// loadConfig 读取配置；未显式指定且默认文件不存在时使用内置默认值。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path := config.ResolvePath(explicit)
	if explicit == "" && os.Getenv(config.EnvConfigPath) == "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			wd, _ := os.Getwd()
			return config.Default(wd), nil
		}
	}
	return config.Load(path)
}

func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:       cfg.Logging.Audit.Enabled,
			Dir:           cfg.Logging.Audit.Dir,
			RetentionDays: cfg.Logging.Audit.RetentionDays,
		},
	})
}
