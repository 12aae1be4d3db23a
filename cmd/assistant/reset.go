package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcui26/multiagent-coding-assistant/internal/assistant"
)

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Wipe the workspace and restore the default project memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			logger, err := a.newLogger(cfg)
			if err != nil {
				return err
			}
			msg, err := assistant.Reset(cfg, logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, msg)
			return nil
		},
	}
}
