package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/engine"
)

func newReplCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Read requests interactively until exit or quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			asst, logger, err := a.newAssistant(cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			fmt.Fprintln(a.stdout, "assistant ready. Type a request, or exit to quit.")
			scanner := bufio.NewScanner(a.stdin)
			scanner.Buffer(make([]byte, 64*1024), 1<<20)
			for {
				fmt.Fprint(a.stdout, "\nUser: ")
				if !scanner.Scan() {
					fmt.Fprintln(a.stdout)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch strings.ToLower(line) {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				res, err := asst.RunWith(ctx, line, engine.RunOptions{})
				if res != nil {
					printResult(a.stdout, res)
				}
				if err != nil {
					fmt.Fprintln(a.stderr, "error:", err)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		},
	}
}
