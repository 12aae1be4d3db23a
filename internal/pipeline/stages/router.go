package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

// Router loads project memory into the context blob and picks between a
// full plan and a direct fix. Unclear answers default to planning.
type Router struct {
	deps Deps
}

func NewRouter(d Deps) *Router { return &Router{deps: d} }

func (r *Router) ID() runtime.StageID { return runtime.StageRouter }

func (r *Router) Execute(ctx context.Context, rc runtime.RunContext) (runtime.Outcome, error) {
	logger := r.deps.logger(rc, runtime.StageRouter)
	manifest, memory := r.deps.Mind.Load()
	blob := ContextBlob(manifest, memory)

	user := fmt.Sprintf("User Request: %s\n\nCurrent Context:\n%s", rc.Request, blob)
	text, err := r.deps.LLM.Complete(ctx, routerSystem, user)
	if err != nil {
		logger.Warn("routing unavailable, defaulting to plan", zap.Error(err))
		return runtime.Outcome{
			Patch: runtime.RouterPatch{
				Route:       runtime.RoutePlan,
				ContextBlob: blob,
				Entry: runtime.HistoryEntry{
					Outcome: runtime.OutcomeRoutedPlan,
					Detail:  "routing unavailable, defaulting to plan: " + err.Error(),
				},
			},
			Degraded: err,
		}, nil
	}

	route, ok := runtime.ParseRoute(text)
	detail := ""
	if !ok {
		route = runtime.RoutePlan
		detail = fmt.Sprintf("unrecognized routing answer %q, defaulting to plan", firstWords(text, 8))
	}
	outcome := runtime.OutcomeRoutedPlan
	if route == runtime.RouteDirect {
		outcome = runtime.OutcomeRoutedDirect
	}
	logger.Info("request routed", zap.String("route", string(route)))
	return runtime.Outcome{
		Patch: runtime.RouterPatch{
			Route:       route,
			ContextBlob: blob,
			Entry:       runtime.HistoryEntry{Outcome: outcome, Detail: detail},
		},
	}, nil
}

// ContextBlob serializes the manifest and memory for prompts.
func ContextBlob(manifest, memory map[string]any) string {
	return fmt.Sprintf("PROJECT MANIFEST (Rules & Stack):\n%s\n\nPROJECT MEMORY (Current State):\n%s",
		indentJSON(manifest), indentJSON(memory))
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
