package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "列出模型可见的工具目录",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		catalog, err := loadCatalog(cfg.Tools)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), catalog.Describe())
		return err
	},
}
