package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runstate"
)

func newStatusCmd(a *app) *cobra.Command {
	var runID string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a run from its logs",
		Long: `Show the state of a run from its logs directory.

--logs-root may point at a single run directory or at the root holding
many runs. With a root, --run-id picks one run; otherwise the latest run
is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root := a.logsRoot
			if root == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				root = cfg.Logs.Root
			}
			if root == "" {
				return fmt.Errorf("--logs-root is required (or set logs.root in the config)")
			}
			dir, err := runstate.ResolveRunDir(root, runID)
			if err != nil {
				return err
			}
			snap, err := runstate.LoadSnapshot(dir)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSnapshot(a.stdout, snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to show when --logs-root holds many runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func printSnapshot(w io.Writer, s *runstate.Snapshot) {
	fmt.Fprintf(w, "logs_dir=%s\n", s.LogsDir)
	if s.RunID != "" {
		fmt.Fprintf(w, "run_id=%s\n", s.RunID)
	}
	fmt.Fprintf(w, "state=%s\n", s.State)
	if s.Request != "" {
		fmt.Fprintf(w, "request=%q\n", s.Request)
	}
	if s.CurrentStage != "" {
		fmt.Fprintf(w, "current_stage=%s\n", s.CurrentStage)
	}
	if s.LastEvent != "" {
		fmt.Fprintf(w, "last_event=%s\n", s.LastEvent)
	}
	fmt.Fprintf(w, "loop_iterations=%d\n", s.LoopIterations)
	if s.Summary != "" {
		fmt.Fprintf(w, "summary=%s\n", s.Summary)
	}
	if s.RejectionReason != "" {
		fmt.Fprintf(w, "rejection_reason=%s\n", s.RejectionReason)
	}
	if s.FailureReason != "" {
		fmt.Fprintf(w, "failure_reason=%s\n", s.FailureReason)
	}
	if s.LastFeedback != "" {
		fmt.Fprintf(w, "last_feedback=%s\n", firstLine(s.LastFeedback))
	}
	for _, st := range s.Stages {
		line := fmt.Sprintf("  %03d %-9s %s (%dms)", st.Seq, st.Stage, st.Outcome, st.DurationMS)
		if st.Next != "" {
			line += " -> " + string(st.Next)
		}
		fmt.Fprintln(w, line)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
