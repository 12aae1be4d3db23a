package runtime

// Patch is implemented by each stage's narrow output type. It converts the
// variant into the generic Update the engine merges.
type Patch interface {
	Update() Update
}

// Outcome is what a stage hands back to the engine.
type Outcome struct {
	Patch Patch
	// Next optionally forces the next stage, bypassing the edge table.
	Next StageID
	// Notes is a free-form line for progress events.
	Notes string
	// Degraded carries a collaborator failure the stage already converted
	// into context fields. It is logged and counted, never used for routing.
	Degraded error
}

func entries(e HistoryEntry) []HistoryEntry {
	if e.Outcome == "" {
		return nil
	}
	return []HistoryEntry{e}
}

// GatePatch is the Gate's output. Admin forces the direct route.
type GatePatch struct {
	InScope         bool
	RejectionReason string
	Admin           bool
	Entry           HistoryEntry
}

func (p GatePatch) Update() Update {
	u := Update{
		InScope:         Ptr(p.InScope),
		RejectionReason: Ptr(p.RejectionReason),
		History:         entries(p.Entry),
	}
	if p.InScope && p.Admin {
		u.Admin = Ptr(true)
		u.Route = Ptr(RouteDirect)
	}
	return u
}

// RouterPatch is the Router's output. It also initializes the loop state.
type RouterPatch struct {
	Route       Route
	ContextBlob string
	Entry       HistoryEntry
}

func (p RouterPatch) Update() Update {
	route := p.Route
	if route == RouteUnset {
		route = RoutePlan
	}
	return Update{
		Route:          Ptr(route),
		ContextBlob:    Ptr(p.ContextBlob),
		LoopIterations: Ptr(0),
		LoopDone:       Ptr(false),
		History:        entries(p.Entry),
	}
}

// PlannerPatch is the Planner's output. Reset short-circuits the loop.
type PlannerPatch struct {
	Plan  string
	Reset bool
	Entry HistoryEntry
}

func (p PlannerPatch) Update() Update {
	u := Update{
		LoopIterations: Ptr(0),
		LoopDone:       Ptr(p.Reset),
		History:        entries(p.Entry),
	}
	if !p.Reset {
		u.Plan = Ptr(p.Plan)
	}
	return u
}

// ProducerPatch is the Producer's output. Iteration is the new counter value.
type ProducerPatch struct {
	Iteration int
	Entry     HistoryEntry
}

func (p ProducerPatch) Update() Update {
	return Update{
		LoopIterations: Ptr(p.Iteration),
		History:        entries(p.Entry),
	}
}

// VerifierPatch is the Verifier's output. Feedback is dropped on approval.
type VerifierPatch struct {
	Approved bool
	Feedback string
	Entry    HistoryEntry
}

func (p VerifierPatch) Update() Update {
	fb := p.Feedback
	if p.Approved {
		fb = ""
	}
	return Update{
		LoopDone: Ptr(p.Approved),
		Feedback: Ptr(fb),
		History:  entries(p.Entry),
	}
}

// CommitterPatch is the Committer's output.
type CommitterPatch struct {
	MemoryUpdate map[string]any
	Summary      string
	Entry        HistoryEntry
}

func (p CommitterPatch) Update() Update {
	mem := p.MemoryUpdate
	if mem == nil {
		mem = map[string]any{}
	}
	return Update{
		MemoryUpdate: mem,
		Summary:      Ptr(p.Summary),
		History:      entries(p.Entry),
	}
}
