package runtime

import (
	"fmt"
	"strings"
	"time"
)

// Outcome values recorded in history entries.
const (
	OutcomeAllowed             = "allowed"
	OutcomeRejected            = "rejected"
	OutcomeRoutedPlan          = "routed_plan"
	OutcomeRoutedDirect        = "routed_direct"
	OutcomePlanned             = "planned"
	OutcomeReset               = "reset"
	OutcomeWrote               = "wrote"
	OutcomeDegenerate          = "degenerate"
	OutcomeSyntaxError         = "syntax_error"
	OutcomeNoTests             = "no_tests"
	OutcomeApproved            = "approved"
	OutcomeChangesRequested    = "changes_requested"
	OutcomeCollaboratorFailure = "collaborator_failure"
	OutcomeExhausted           = "exhausted"
	OutcomeCommitted           = "committed"
	OutcomeCommitParseFailure  = "commit_parse_failure"
	OutcomePanic               = "panic"
)

// FileDigest identifies a workspace file as it was when a stage touched it.
type FileDigest struct {
	Path   string `json:"path"`
	Digest string `json:"digest,omitempty"`
}

// HistoryEntry is one immutable line of the run's audit trail.
type HistoryEntry struct {
	Actor   StageID      `json:"actor"`
	Outcome string       `json:"outcome"`
	Detail  string       `json:"detail,omitempty"`
	Files   []FileDigest `json:"files,omitempty"`
	Errors  []string     `json:"errors,omitempty"`
	At      time.Time    `json:"at"`
}

func (h HistoryEntry) clone() HistoryEntry {
	if h.Files != nil {
		h.Files = append([]FileDigest(nil), h.Files...)
	}
	if h.Errors != nil {
		h.Errors = append([]string(nil), h.Errors...)
	}
	return h
}

// Paths returns the file paths recorded on the entry.
func (h HistoryEntry) Paths() []string {
	out := make([]string, 0, len(h.Files))
	for _, f := range h.Files {
		out = append(out, f.Path)
	}
	return out
}

// String renders the entry as a single summary line.
func (h HistoryEntry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s: %s", strings.ToUpper(string(h.Actor)), h.Outcome)
	var extras []string
	if paths := h.Paths(); len(paths) > 0 {
		extras = append(extras, "files: "+strings.Join(paths, ", "))
	}
	if d := strings.TrimSpace(h.Detail); d != "" {
		extras = append(extras, firstLine(d, 200))
	}
	if len(h.Errors) > 0 {
		extras = append(extras, "errors: "+strings.Join(h.Errors, "; "))
	}
	if len(extras) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(extras, " | "))
	}
	return b.String()
}

// SummarizeHistory renders one line per entry, in invocation order.
func SummarizeHistory(entries []HistoryEntry) string {
	if len(entries) == 0 {
		return "(no history)"
	}
	lines := make([]string, 0, len(entries))
	for _, h := range entries {
		lines = append(lines, h.String())
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if max > 0 && len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
