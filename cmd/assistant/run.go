package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/engine"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

func newRunCmd(a *app) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Run one request through the pipeline",
		Long: `Run one request through the pipeline and print the outcome.

Exit status is 0 when the run committed, 2 when the request was rejected,
3 when the fix loop ran out of iterations and 1 on failure.

Examples:
  assistant run "Build a calculator in Python"
  assistant run --config assistant.yaml --logs-root ./runs "Add a README"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := strings.TrimSpace(strings.Join(args, " "))
			if request == "" {
				return fmt.Errorf("request is empty")
			}
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
			res, err := asst.RunWith(ctx, request, engine.RunOptions{RunID: runID})
			if res == nil {
				return err
			}
			printResult(a.stdout, res)
			if err != nil {
				fmt.Fprintln(a.stderr, "error:", err)
			}
			if code := res.FinalStatus.ExitCode(); code != 0 {
				return exitCode(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (defaults to a fresh ULID)")
	return cmd
}

// printResult writes the human-readable outcome of a run.
func printResult(w io.Writer, res *engine.Result) {
	fmt.Fprintf(w, "run_id: %s\n", res.RunID)
	fmt.Fprintf(w, "status: %s\n", res.FinalStatus)
	rc := res.Context
	switch res.FinalStatus {
	case runtime.FinalCommitted:
		fmt.Fprintf(w, "summary: %s\n", rc.Summary)
	case runtime.FinalRejected:
		fmt.Fprintf(w, "rejected: %s\n", rc.RejectionReason)
	case runtime.FinalExhausted:
		fmt.Fprintf(w, "iterations: %d\n", rc.LoopIterations)
		if rc.Summary != "" {
			fmt.Fprintf(w, "summary: %s\n", rc.Summary)
		}
		fmt.Fprintf(w, "last feedback:\n%s\n", res.LastFeedback)
	default:
		if rc.Failure != "" {
			fmt.Fprintf(w, "failure: %s\n", rc.Failure)
		}
	}
	if res.CheckpointSHA != "" {
		fmt.Fprintf(w, "checkpoint: %s\n", res.CheckpointSHA)
	}
	if res.LogsDir != "" {
		fmt.Fprintf(w, "logs: %s\n", res.LogsDir)
	}
}
