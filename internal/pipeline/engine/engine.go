package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	rdebug "runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/logging"
	"github.com/dcui26/multiagent-coding-assistant/internal/metrics"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

// ErrEmptyRequest is returned by Run for a blank request.
var ErrEmptyRequest = errors.New("request is empty")

// Checkpointer snapshots the workspace after a stage. An empty sha with a
// nil error means there was nothing to record.
type Checkpointer interface {
	Checkpoint(ctx context.Context, message string) (sha string, err error)
}

type Options struct {
	Limits Limits

	// LogsRoot, when set, receives <LogsRoot>/<run_id>/ run logs.
	LogsRoot string

	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Checkpointer Checkpointer

	// ProgressSink receives every progress event. It is called synchronously.
	ProgressSink func(map[string]any)
	// OnContext receives a snapshot after every merge.
	OnContext func(runtime.RunContext)

	Now func() time.Time
}

type Engine struct {
	graph    *Graph
	registry *Registry
	opts     Options
	logger   *zap.Logger
}

// New validates the graph against the registry and applies defaults.
func New(g *Graph, reg *Registry, opts Options) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("stage registry is nil")
	}
	if err := g.Validate(reg); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	limits, err := opts.Limits.withDefaults()
	if err != nil {
		return nil, err
	}
	opts.Limits = limits
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		graph:    g,
		registry: reg,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
	}, nil
}

func (e *Engine) Limits() Limits { return e.opts.Limits }

type Result struct {
	RunID       string
	LogsDir     string
	FinalStatus runtime.FinalStatus
	Context     runtime.RunContext
	Steps       int
	// LastFeedback is the verifier's final feedback for exhausted runs.
	LastFeedback  string
	CheckpointSHA string
}

// RunOptions are per-run overrides.
type RunOptions struct {
	// RunID defaults to a fresh ULID.
	RunID string
	// ProgressSink is called in addition to Options.ProgressSink.
	ProgressSink func(map[string]any)
	// OnContext is called in addition to Options.OnContext.
	OnContext func(runtime.RunContext)
}

// Run executes one request to a terminal state. It returns an error only for
// engine-level faults (cancellation, step budget, contract violations, stage
// errors); every such run still gets a failed final outcome.
func (e *Engine) Run(ctx context.Context, request string, ro RunOptions) (*Result, error) {
	if strings.TrimSpace(request) == "" {
		return nil, ErrEmptyRequest
	}
	runID := ro.RunID
	if runID == "" {
		runID = NewRunID()
	}
	r := &run{
		eng:    e,
		rc:     runtime.NewRunContext(runID, request),
		logger: e.logger.With(zap.String("run_id", runID)),
	}
	r.onContext = joinContextHooks(e.opts.OnContext, ro.OnContext)
	r.log = &runLog{
		runID:  runID,
		sink:   joinSinks(e.opts.ProgressSink, ro.ProgressSink),
		logger: r.logger,
		now:    e.opts.Now,
	}
	if root := strings.TrimSpace(e.opts.LogsRoot); root != "" {
		dir := filepath.Join(root, runID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run logs dir: %w", err)
		}
		r.log.dir = dir
	}
	return r.execute(ctx)
}

type run struct {
	eng       *Engine
	rc        *runtime.RunContext
	log       *runLog
	logger    *zap.Logger
	onContext func(runtime.RunContext)

	steps   int
	repeats repeatTracker
	sha     string
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	e := r.eng
	limits := e.opts.Limits
	e.opts.Metrics.RunStarted()
	r.log.appendProgress(map[string]any{
		"event":          "run_started",
		"request":        r.rc.Request,
		"max_iterations": limits.MaxIterations,
		"max_steps":      limits.MaxSteps,
	})
	r.logger.Info("run started", zap.Int("max_iterations", limits.MaxIterations))

	current := e.graph.Start
	for current != runtime.End {
		if err := ctx.Err(); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				err = cause
			}
			return r.fail(fmt.Errorf("run canceled: %w", err))
		}
		if r.steps >= limits.MaxSteps {
			return r.fail(fmt.Errorf("step budget exceeded (%d stage invocations)", limits.MaxSteps))
		}
		stage, ok := e.registry.Resolve(current)
		if !ok {
			return r.fail(fmt.Errorf("missing stage: %s", current))
		}
		next, err := r.step(ctx, stage)
		if err != nil {
			return r.fail(err)
		}
		current = next
	}
	return r.finish(nil)
}

// step invokes one stage, merges its patch and resolves the next hop.
func (r *run) step(ctx context.Context, stage Stage) (runtime.StageID, error) {
	e := r.eng
	id := stage.ID()
	r.steps++
	seq := r.steps
	started := e.opts.Now()
	r.log.appendProgress(map[string]any{
		"event":           "stage_started",
		"stage":           string(id),
		"seq":             seq,
		"loop_iterations": r.rc.LoopIterations,
	})

	out, panicked, err := r.invoke(ctx, stage)
	dur := e.opts.Now().Sub(started)
	e.opts.Metrics.ObserveStage(string(id), dur)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", id, err)
	}

	var u runtime.Update
	if out.Patch != nil {
		u = out.Patch.Update()
	}
	u.History = runtime.Stamp(u.History, id, e.opts.Now().UTC())
	if panicked != "" {
		u = runtime.Update{
			Failure: runtime.Ptr(panicked),
			History: []runtime.HistoryEntry{{Actor: id, Outcome: runtime.OutcomePanic, Detail: panicked, At: e.opts.Now().UTC()}},
		}
	}
	if err := r.rc.Merge(u); err != nil {
		return "", fmt.Errorf("stage %s: merge: %w", id, err)
	}
	if out.Degraded != nil {
		e.opts.Metrics.CollaboratorFailure(string(id))
		r.logger.Warn("collaborator failure absorbed", zap.String("stage", string(id)), zap.Error(out.Degraded))
	}
	r.checkpoint(ctx, id)

	next, source, err := r.nextHop(id, out)
	if err != nil {
		return "", err
	}
	r.emitContext()

	fields := []zap.Field{
		zap.String("stage", string(id)),
		zap.Int("iteration", r.rc.LoopIterations),
		zap.String("next", string(next)),
		zap.Duration("duration", dur),
	}
	if last := lastOutcome(u.History); last != "" {
		fields = append(fields, zap.String("outcome", last))
	}
	r.logger.Info("stage finished", fields...)

	degraded := ""
	if out.Degraded != nil {
		degraded = out.Degraded.Error()
	}
	r.log.writeStage(stageRecord{
		Seq:        seq,
		Stage:      id,
		StartedAt:  started.UTC(),
		DurationMS: dur.Milliseconds(),
		Next:       next,
		Notes:      out.Notes,
		Degraded:   degraded,
		History:    u.History,
		Context:    r.rc.Snapshot(),
	})
	r.log.appendProgress(map[string]any{
		"event":           "stage_finished",
		"stage":           string(id),
		"seq":             seq,
		"outcome":         lastOutcome(u.History),
		"duration_ms":     dur.Milliseconds(),
		"loop_iterations": r.rc.LoopIterations,
		"loop_done":       r.rc.LoopDone,
		"notes":           out.Notes,
	})
	r.log.appendProgress(map[string]any{
		"event":      "edge_selected",
		"from_stage": string(id),
		"to_stage":   string(next),
		"hop_source": source,
	})
	return next, nil
}

// invoke runs the stage with panic recovery. A panic is reported as a reason
// string rather than an error so the run can end with a failed outcome.
func (r *run) invoke(ctx context.Context, stage Stage) (out runtime.Outcome, panicked string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			panicked = fmt.Sprintf("panic: %v", rec)
			stack := string(rdebug.Stack())
			r.logger.Error("stage panic recovered",
				zap.String("stage", string(stage.ID())),
				zap.String("panic", fmt.Sprint(rec)),
				zap.String("stack", stack))
			if r.log.dir != "" {
				p := filepath.Join(r.log.dir, "stages", fmt.Sprintf("%03d-%s.panic.txt", r.steps, stage.ID()))
				_ = os.MkdirAll(filepath.Dir(p), 0o755)
				_ = os.WriteFile(p, []byte(fmt.Sprintf("%v\n\n%s", rec, stack)), 0o644)
			}
			out, err = runtime.Outcome{}, nil
		}
	}()
	out, err = stage.Execute(ctx, r.rc.Snapshot())
	return out, "", err
}

// nextHop applies, in order: the failure and rejection terminals, the
// stage's own override, the edge table, and finally the loop guard.
func (r *run) nextHop(from runtime.StageID, out runtime.Outcome) (runtime.StageID, string, error) {
	if r.rc.Failure != "" {
		return runtime.End, "failure", nil
	}
	if r.rc.Rejected() {
		return runtime.End, "rejection", nil
	}

	var next runtime.StageID
	source := "edge"
	if out.Next != "" {
		if _, ok := r.eng.registry.Resolve(out.Next); !ok && out.Next != runtime.End {
			return "", "", fmt.Errorf("stage %s: override to unknown stage %q", from, out.Next)
		}
		next, source = out.Next, "override"
	} else {
		edge, err := selectNextEdge(r.eng.graph, from, r.rc)
		if err != nil {
			return "", "", fmt.Errorf("stage %s: select edge: %w", from, err)
		}
		if edge == nil {
			return "", "", fmt.Errorf("stage %s: no eligible outgoing edge", from)
		}
		next = edge.To
	}

	if from == runtime.StageVerifier && !r.rc.LoopDone && next != runtime.StageCommitter {
		if reason := r.guardTripped(); reason != "" {
			r.exhaust(reason)
			return runtime.StageCommitter, "loop_guard", nil
		}
	}
	return next, source, nil
}

// guardTripped reports why the producer/verifier loop must stop, or "".
func (r *run) guardTripped() string {
	limits := r.eng.opts.Limits
	if limits.RepeatFeedbackLimit > 0 {
		sig := feedbackSignature(r.rc.Feedback)
		count := r.repeats.observe(sig)
		r.log.appendProgress(map[string]any{
			"event":           "feedback_repeat_check",
			"signature":       sig,
			"signature_count": count,
			"signature_limit": limits.RepeatFeedbackLimit,
		})
		if count >= limits.RepeatFeedbackLimit {
			return fmt.Sprintf("identical feedback repeated %d times", count)
		}
	}
	if r.rc.LoopIterations >= limits.MaxIterations {
		return fmt.Sprintf("no approval after %d iterations", r.rc.LoopIterations)
	}
	return ""
}

func (r *run) exhaust(reason string) {
	detail := reason
	if fb := strings.TrimSpace(r.rc.Feedback); fb != "" {
		detail = reason + ": " + fb
	}
	_ = r.rc.Merge(runtime.Update{
		Exhausted: runtime.Ptr(true),
		History: []runtime.HistoryEntry{{
			Actor:   runtime.ActorEngine,
			Outcome: runtime.OutcomeExhausted,
			Detail:  detail,
			At:      r.eng.opts.Now().UTC(),
		}},
	})
	r.logger.Warn("loop guard fired", zap.String("reason", reason), zap.Int("iteration", r.rc.LoopIterations))
	r.log.appendProgress(map[string]any{
		"event":           "loop_exhausted",
		"reason":          reason,
		"loop_iterations": r.rc.LoopIterations,
	})
}

func (r *run) checkpoint(ctx context.Context, id runtime.StageID) {
	cp := r.eng.opts.Checkpointer
	if cp == nil {
		return
	}
	sha, err := cp.Checkpoint(ctx, fmt.Sprintf("%s: %s", r.rc.RunID, id))
	if err != nil {
		r.logger.Warn("checkpoint failed", zap.String("stage", string(id)), zap.Error(err))
		return
	}
	if sha == "" {
		return
	}
	r.sha = sha
	r.log.appendProgress(map[string]any{
		"event": "checkpoint_saved",
		"stage": string(id),
		"sha":   sha,
	})
}

func (r *run) emitContext() {
	if r.onContext != nil {
		r.onContext(r.rc.Snapshot())
	}
}

func (r *run) fail(err error) (*Result, error) {
	_ = r.rc.Merge(runtime.Update{Failure: runtime.Ptr(err.Error())})
	r.emitContext()
	return r.finish(err)
}

func (r *run) finish(runErr error) (*Result, error) {
	e := r.eng
	status := runtime.StatusOf(r.rc)
	fo := &runtime.FinalOutcome{
		Timestamp:       e.opts.Now().UTC(),
		Status:          status,
		RunID:           r.rc.RunID,
		Request:         r.rc.Request,
		Summary:         r.rc.Summary,
		RejectionReason: r.rc.RejectionReason,
		FailureReason:   r.rc.Failure,
		LoopIterations:  r.rc.LoopIterations,
		Steps:           r.steps,
		CheckpointSHA:   r.sha,
	}
	if status == runtime.FinalExhausted {
		fo.LastFeedback = r.rc.Feedback
	}
	r.log.writeFinal(fo)
	e.opts.Metrics.RunFinished(string(status), r.rc.LoopIterations)
	r.log.appendProgress(map[string]any{
		"event":           "run_finished",
		"status":          string(status),
		"steps":           r.steps,
		"loop_iterations": r.rc.LoopIterations,
	})
	if runErr != nil {
		r.logger.Error("run failed", zap.Error(runErr), zap.Int("steps", r.steps))
	} else {
		r.logger.Info("run finished", zap.String("status", string(status)), zap.Int("steps", r.steps))
	}
	res := &Result{
		RunID:         r.rc.RunID,
		LogsDir:       r.log.dir,
		FinalStatus:   status,
		Context:       r.rc.Snapshot(),
		Steps:         r.steps,
		CheckpointSHA: r.sha,
	}
	if status == runtime.FinalExhausted {
		res.LastFeedback = r.rc.Feedback
	}
	return res, runErr
}

func lastOutcome(h []runtime.HistoryEntry) string {
	if len(h) == 0 {
		return ""
	}
	return h[len(h)-1].Outcome
}

func joinSinks(a, b func(map[string]any)) func(map[string]any) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ev map[string]any) {
		a(ev)
		b(ev)
	}
}

func joinContextHooks(a, b func(runtime.RunContext)) func(runtime.RunContext) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(rc runtime.RunContext) {
		a(rc)
		b(rc)
	}
}
