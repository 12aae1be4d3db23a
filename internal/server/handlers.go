package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/engine"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

// validRunID matches ULIDs and other safe identifiers.
var validRunID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

// maxRequestBody caps POST /runs bodies.
const maxRequestBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   len(s.registry.List()),
		"active": s.registry.Active(),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.List()
	out := make([]RunStatus, 0, len(ids))
	for _, id := range ids {
		if rs, ok := s.registry.Get(id); ok {
			out = append(out, rs.Status())
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	request := strings.TrimSpace(req.Request)
	if request == "" {
		writeError(w, http.StatusBadRequest, "request is required")
		return
	}

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = engine.NewRunID()
	}
	if !validRunID.MatchString(runID) {
		writeError(w, http.StatusBadRequest, "run_id must be alphanumeric with dashes/underscores, 1-128 chars")
		return
	}

	broadcaster := NewBroadcaster()
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	rs := &RunState{
		RunID:       runID,
		Request:     request,
		Broadcaster: broadcaster,
		Cancel:      cancel,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.registry.Register(runID, rs); err != nil {
		cancel(nil)
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	go s.execute(ctx, rs)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "accepted",
	})
}

// execute waits for the run lock and then drives the run to completion.
func (s *Server) execute(ctx context.Context, rs *RunState) {
	defer rs.Broadcaster.Close()
	defer rs.Cancel(nil)
	logger := s.logger.With(zap.String("run_id", rs.RunID))

	if err := s.acquireRun(ctx); err != nil {
		logger.Info("run canceled before start", zap.Error(err))
		rs.SetResult(nil, fmt.Errorf("canceled before start: %w", err))
		return
	}
	defer s.releaseRun()
	rs.MarkStarted()

	res, err := s.safeRun(ctx, rs)
	if err != nil {
		logger.Warn("run ended with error", zap.Error(err))
	}
	rs.SetResult(res, err)
}

func (s *Server) safeRun(ctx context.Context, rs *RunState) (res *engine.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("run panicked: %v", r)
		}
	}()
	return s.runner.RunWith(ctx, rs.Request, engine.RunOptions{
		RunID:        rs.RunID,
		ProgressSink: rs.Broadcaster.Send,
		OnContext:    rs.SetContext,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rs.Status())
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookup(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, rs.Broadcaster)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if rs.Done() {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s already finished", rs.RunID))
		return
	}
	rs.Cancel(errors.New("canceled via HTTP API"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookup(w, r)
	if !ok {
		return
	}
	rc := rs.Context()
	if rc == nil {
		rc = runtime.NewRunContext(rs.RunID, rs.Request)
	}
	writeJSON(w, http.StatusOK, rc)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*RunState, bool) {
	runID := r.PathValue("id")
	if !validRunID.MatchString(runID) {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return nil, false
	}
	rs, ok := s.registry.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return nil, false
	}
	return rs, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
