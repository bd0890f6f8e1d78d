package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bulkload/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := reportIssues(cmd.ErrOrStderr(), config.Validate(cfg)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
