package server

import "time"

// SubmitRunRequest is the POST /runs request body.
type SubmitRunRequest struct {
	// Request is the user's natural-language request. Required.
	Request string `json:"request"`

	// RunID is optional. If empty, a ULID is generated.
	RunID string `json:"run_id,omitempty"`
}

// RunStatus is returned by GET /runs/{id}.
type RunStatus struct {
	RunID           string     `json:"run_id"`
	State           string     `json:"state"`
	Request         string     `json:"request"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	CurrentStage    string     `json:"current_stage,omitempty"`
	LastEvent       string     `json:"last_event,omitempty"`
	LastEventAt     *time.Time `json:"last_event_at,omitempty"`
	LoopIterations  int        `json:"loop_iterations"`
	Summary         string     `json:"summary,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	LastFeedback    string     `json:"last_feedback,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	LogsDir         string     `json:"logs_dir,omitempty"`
	CheckpointSHA   string     `json:"checkpoint_sha,omitempty"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
