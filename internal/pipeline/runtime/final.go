package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type FinalStatus string

const (
	FinalCommitted FinalStatus = "committed"
	FinalRejected  FinalStatus = "rejected"
	FinalExhausted FinalStatus = "exhausted"
	FinalFailed    FinalStatus = "failed"
)

// ExitCode maps a final status to the CLI's process exit code.
func (s FinalStatus) ExitCode() int {
	switch s {
	case FinalCommitted:
		return 0
	case FinalRejected:
		return 2
	case FinalExhausted:
		return 3
	default:
		return 1
	}
}

type FinalOutcome struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    FinalStatus `json:"status"`

	RunID   string `json:"run_id"`
	Request string `json:"request"`

	Summary         string `json:"summary,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	LastFeedback    string `json:"last_feedback,omitempty"`

	LoopIterations int    `json:"loop_iterations"`
	Steps          int    `json:"steps"`
	CheckpointSHA  string `json:"checkpoint_sha,omitempty"`
}

// StatusOf derives the final status from a terminal run context.
func StatusOf(rc *RunContext) FinalStatus {
	switch {
	case rc == nil:
		return FinalFailed
	case rc.Failure != "":
		return FinalFailed
	case rc.Rejected():
		return FinalRejected
	case rc.Exhausted:
		return FinalExhausted
	case rc.Summary != "" || rc.MemoryUpdate != nil:
		return FinalCommitted
	default:
		return FinalFailed
	}
}

func (fo *FinalOutcome) Save(path string) error {
	if fo == nil {
		return fmt.Errorf("final outcome is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(fo, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// LoadFinal reads a final.json written by Save.
func LoadFinal(path string) (*FinalOutcome, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fo FinalOutcome
	if err := json.Unmarshal(b, &fo); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &fo, nil
}
