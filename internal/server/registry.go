package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/engine"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

const (
	stateQueued  = "queued"
	stateRunning = "running"
)

// RunState tracks a single queued, running or completed run.
type RunState struct {
	RunID       string
	Request     string
	Broadcaster *Broadcaster
	Cancel      context.CancelCauseFunc
	SubmittedAt time.Time

	mu      sync.Mutex
	started bool
	rc      *runtime.RunContext
	result  *engine.Result
	err     error
	done    bool
}

// MarkStarted records that the run acquired the run lock.
func (rs *RunState) MarkStarted() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.started = true
}

// SetContext stores the latest context snapshot published by the engine.
func (rs *RunState) SetContext(rc runtime.RunContext) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rc = &rc
}

// SetResult records the terminal outcome of the run.
func (rs *RunState) SetResult(res *engine.Result, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.result = res
	rs.err = err
	rs.done = true
	if res != nil {
		snap := res.Context.Snapshot()
		rs.rc = &snap
	}
}

// Done reports whether the run has reached a terminal state.
func (rs *RunState) Done() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.done
}

// Status returns the current run status for the HTTP API.
func (rs *RunState) Status() RunStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	status := RunStatus{
		RunID:       rs.RunID,
		Request:     rs.Request,
		SubmittedAt: rs.SubmittedAt,
		State:       stateQueued,
	}
	if rs.started {
		status.State = stateRunning
	}
	if rs.rc != nil {
		status.LoopIterations = rs.rc.LoopIterations
		status.RejectionReason = rs.rc.RejectionReason
		status.Summary = rs.rc.Summary
	}
	if rs.done {
		switch {
		case rs.result != nil:
			status.State = string(rs.result.FinalStatus)
			status.LogsDir = rs.result.LogsDir
			status.LastFeedback = rs.result.LastFeedback
			status.CheckpointSHA = rs.result.CheckpointSHA
			if rs.err != nil {
				status.FailureReason = rs.err.Error()
			}
		default:
			status.State = string(runtime.FinalFailed)
			if rs.err != nil {
				status.FailureReason = rs.err.Error()
			}
		}
	}

	if rs.Broadcaster != nil {
		history := rs.Broadcaster.History()
		if !rs.done {
			for i := len(history) - 1; i >= 0; i-- {
				if stage, ok := history[i]["stage"].(string); ok && stage != "" {
					status.CurrentStage = stage
					break
				}
			}
		}
		if len(history) > 0 {
			last := history[len(history)-1]
			if evt, ok := last["event"].(string); ok {
				status.LastEvent = evt
			}
			if ts, ok := last["ts"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
					status.LastEventAt = &t
				}
			}
		}
	}
	return status
}

// Context returns the latest context snapshot, or nil if the engine has not
// published one yet.
func (rs *RunState) Context() *runtime.RunContext {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.rc == nil {
		return nil
	}
	snap := rs.rc.Snapshot()
	return &snap
}

// RunRegistry tracks all runs submitted to this server instance.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*RunState
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		runs: make(map[string]*RunState),
	}
}

// Register adds a run to the registry. Returns error if ID already exists.
func (r *RunRegistry) Register(runID string, rs *RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[runID]; exists {
		return fmt.Errorf("run %s already exists", runID)
	}
	r.runs[runID] = rs
	return nil
}

// Get returns a run by ID, or nil and false if not found.
func (r *RunRegistry) Get(runID string) (*RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.runs[runID]
	return rs, ok
}

// List returns all run IDs in sorted order. ULIDs sort by submission time.
func (r *RunRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Active counts runs that have not finished.
func (r *RunRegistry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rs := range r.runs {
		if !rs.Done() {
			n++
		}
	}
	return n
}

// CancelAll cancels all runs with the given reason.
func (r *RunRegistry) CancelAll(reason string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rs := range r.runs {
		if rs.Cancel != nil {
			rs.Cancel(fmt.Errorf("%s", reason))
		}
	}
}
