package runtime

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// StageID names a node in the workflow graph.
type StageID string

const (
	StageGate      StageID = "gate"
	StageRouter    StageID = "router"
	StagePlanner   StageID = "planner"
	StageProducer  StageID = "producer"
	StageVerifier  StageID = "verifier"
	StageCommitter StageID = "committer"

	// End is the terminal marker. It is never registered as a stage.
	End StageID = "end"

	// ActorEngine is used for history entries written by the engine itself.
	ActorEngine StageID = "engine"
)

func (s StageID) String() string { return string(s) }

// Route is the Router's planning decision.
type Route string

const (
	RouteUnset  Route = ""
	RoutePlan   Route = "plan"
	RouteDirect Route = "direct"
)

// ParseRoute accepts the canonical names plus the legacy node names a model
// may echo back ("architect", "dev_loop").
func ParseRoute(s string) (Route, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'.`)) {
	case "plan", "architect":
		return RoutePlan, true
	case "direct", "dev_loop", "devloop":
		return RouteDirect, true
	default:
		return RouteUnset, false
	}
}

// RunContext is the record threaded through one run. Stages receive a
// snapshot and never mutate the engine's copy directly.
type RunContext struct {
	RunID   string `json:"run_id"`
	Request string `json:"request"`

	InScope         bool   `json:"in_scope"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	Admin           bool   `json:"admin,omitempty"`

	Route       Route  `json:"route,omitempty"`
	ContextBlob string `json:"context_blob,omitempty"`

	Plan string `json:"plan,omitempty"`

	LoopDone       bool   `json:"loop_done"`
	LoopIterations int    `json:"loop_iterations"`
	Feedback       string `json:"feedback,omitempty"`

	History []HistoryEntry `json:"history"`

	MemoryUpdate map[string]any `json:"memory_update,omitempty"`
	Summary      string         `json:"summary,omitempty"`

	Exhausted bool   `json:"exhausted,omitempty"`
	Failure   string `json:"failure,omitempty"`

	sealed sealedFields
}

type sealedFields struct {
	gate        bool
	route       bool
	contextBlob bool
}

func NewRunContext(runID, request string) *RunContext {
	return &RunContext{
		RunID:   runID,
		Request: request,
		History: []HistoryEntry{},
	}
}

// Snapshot returns a deep copy that is safe to hand to a stage.
func (rc *RunContext) Snapshot() RunContext {
	if rc == nil {
		return RunContext{}
	}
	out := *rc
	out.History = make([]HistoryEntry, len(rc.History))
	for i, h := range rc.History {
		out.History[i] = h.clone()
	}
	if rc.MemoryUpdate != nil {
		out.MemoryUpdate = maps.Clone(rc.MemoryUpdate)
	}
	return out
}

// Rejected reports whether the gate decided the request is out of scope.
func (rc *RunContext) Rejected() bool {
	return rc != nil && rc.sealed.gate && !rc.InScope
}

// HasPlan reports whether the Planner produced a plan.
func (rc *RunContext) HasPlan() bool {
	return rc != nil && strings.TrimSpace(rc.Plan) != ""
}

// LastEntry returns the most recent history entry written by actor.
func (rc *RunContext) LastEntry(actor StageID) (HistoryEntry, bool) {
	if rc == nil {
		return HistoryEntry{}, false
	}
	for i := len(rc.History) - 1; i >= 0; i-- {
		if rc.History[i].Actor == actor {
			return rc.History[i], true
		}
	}
	return HistoryEntry{}, false
}

// RoutingKeys lists the keys Lookup understands. Edge conditions may only
// reference these.
var RoutingKeys = []string{
	"request", "in_scope", "rejection_reason", "admin", "route", "plan",
	"loop_done", "loop_iterations", "feedback", "exhausted", "failed",
}

// Lookup resolves a routing key to its string form. Unknown keys resolve to
// the empty string, matching edge-condition semantics.
func (rc *RunContext) Lookup(key string) string {
	if rc == nil {
		return ""
	}
	switch strings.TrimSpace(key) {
	case "request":
		return rc.Request
	case "in_scope":
		return strconv.FormatBool(rc.InScope)
	case "rejection_reason":
		return rc.RejectionReason
	case "admin":
		return strconv.FormatBool(rc.Admin)
	case "route":
		return string(rc.Route)
	case "plan":
		if rc.HasPlan() {
			return "present"
		}
		return ""
	case "loop_done":
		return strconv.FormatBool(rc.LoopDone)
	case "loop_iterations":
		return strconv.Itoa(rc.LoopIterations)
	case "feedback":
		if strings.TrimSpace(rc.Feedback) != "" {
			return "present"
		}
		return ""
	case "exhausted":
		return strconv.FormatBool(rc.Exhausted)
	case "failed":
		return strconv.FormatBool(rc.Failure != "")
	default:
		return ""
	}
}

// Update is a field-scoped patch. Nil fields are left untouched; History is
// appended, never replaced.
type Update struct {
	InScope         *bool
	RejectionReason *string
	Admin           *bool
	Route           *Route
	ContextBlob     *string
	Plan            *string
	LoopDone        *bool
	LoopIterations  *int
	Feedback        *string
	History         []HistoryEntry
	MemoryUpdate    map[string]any
	Summary         *string
	Exhausted       *bool
	Failure         *string
}

// Ptr is a helper for building Updates.
func Ptr[T any](v T) *T { return &v }

// Merge applies u last-write-wins per field. Gate fields, route and
// context_blob are write-once: a second write with a different value is an
// error. loop_iterations may never decrease.
func (rc *RunContext) Merge(u Update) error {
	if rc == nil {
		return fmt.Errorf("merge into nil run context")
	}
	if u.InScope != nil || u.RejectionReason != nil {
		inScope := rc.InScope
		if u.InScope != nil {
			inScope = *u.InScope
		}
		reason := rc.RejectionReason
		if u.RejectionReason != nil {
			reason = strings.TrimSpace(*u.RejectionReason)
		}
		if inScope {
			reason = ""
		} else if reason == "" {
			reason = "request rejected"
		}
		if rc.sealed.gate && (inScope != rc.InScope || reason != rc.RejectionReason) {
			return fmt.Errorf("in_scope is already decided (in_scope=%t)", rc.InScope)
		}
		rc.InScope, rc.RejectionReason = inScope, reason
		rc.sealed.gate = true
	}
	if u.Admin != nil {
		rc.Admin = *u.Admin
	}
	if u.Route != nil {
		if rc.sealed.route && *u.Route != rc.Route {
			return fmt.Errorf("route is already %q", rc.Route)
		}
		rc.Route = *u.Route
		rc.sealed.route = rc.Route != RouteUnset
	}
	if u.ContextBlob != nil {
		if rc.sealed.contextBlob && *u.ContextBlob != rc.ContextBlob {
			return fmt.Errorf("context_blob is read-only once set")
		}
		rc.ContextBlob = *u.ContextBlob
		rc.sealed.contextBlob = true
	}
	set(&rc.Plan, u.Plan)
	if u.LoopIterations != nil {
		if *u.LoopIterations < rc.LoopIterations {
			return fmt.Errorf("loop_iterations cannot decrease (%d -> %d)", rc.LoopIterations, *u.LoopIterations)
		}
		rc.LoopIterations = *u.LoopIterations
	}
	set(&rc.LoopDone, u.LoopDone)
	set(&rc.Feedback, u.Feedback)
	if rc.LoopDone {
		rc.Feedback = ""
	}
	for _, h := range u.History {
		rc.History = append(rc.History, h.clone())
	}
	if u.MemoryUpdate != nil {
		rc.MemoryUpdate = maps.Clone(u.MemoryUpdate)
	}
	set(&rc.Summary, u.Summary)
	set(&rc.Exhausted, u.Exhausted)
	set(&rc.Failure, u.Failure)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Stamp fills in defaults for history entries produced by a stage.
func Stamp(entries []HistoryEntry, actor StageID, now time.Time) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, h := range entries {
		if h.Outcome == "" {
			continue
		}
		if h.Actor == "" {
			h.Actor = actor
		}
		if h.At.IsZero() {
			h.At = now
		}
		out = append(out, h)
	}
	return out
}
