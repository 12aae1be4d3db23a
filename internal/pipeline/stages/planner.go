package stages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

// Planner writes the step-ordered plan. Reset requests are handled here:
// the workspace and memory are restored and the loop is skipped.
type Planner struct {
	deps Deps
}

func NewPlanner(d Deps) *Planner { return &Planner{deps: d} }

func (p *Planner) ID() runtime.StageID { return runtime.StagePlanner }

func (p *Planner) Execute(ctx context.Context, rc runtime.RunContext) (runtime.Outcome, error) {
	logger := p.deps.logger(rc, runtime.StagePlanner)
	if rc.Admin || IsAdminRequest(rc.Request) {
		return p.reset(logger), nil
	}

	_, listing := fileListing(p.deps.Files)
	user := fmt.Sprintf("User Request: %s\n\nProject Context:\n%s", rc.Request, rc.ContextBlob)
	text, err := p.deps.LLM.Complete(ctx, fmt.Sprintf(plannerSystemTmpl, listing), user)
	if err != nil {
		logger.Warn("planning unavailable", zap.Error(err))
		return runtime.Outcome{
			Patch: runtime.PlannerPatch{
				Entry: runtime.HistoryEntry{
					Outcome: runtime.OutcomeCollaboratorFailure,
					Detail:  "planning unavailable, implementing the request directly: " + err.Error(),
				},
			},
			Degraded: err,
		}, nil
	}
	plan := strings.TrimSpace(text)
	logger.Info("plan created", zap.Int("plan_chars", len(plan)))
	return runtime.Outcome{
		Patch: runtime.PlannerPatch{
			Plan:  plan,
			Entry: runtime.HistoryEntry{Outcome: runtime.OutcomePlanned, Detail: firstWords(plan, 24)},
		},
	}, nil
}

func (p *Planner) reset(logger *zap.Logger) runtime.Outcome {
	msg, err := p.deps.Mind.Reset()
	if err != nil {
		logger.Warn("reset failed", zap.Error(err))
		return runtime.Outcome{
			Patch: runtime.PlannerPatch{
				Reset: true,
				Entry: runtime.HistoryEntry{
					Outcome: runtime.OutcomeCollaboratorFailure,
					Detail:  "reset failed",
					Errors:  []string{err.Error()},
				},
			},
			Degraded: err,
		}
	}
	logger.Info("workspace reset")
	return runtime.Outcome{
		Patch: runtime.PlannerPatch{
			Reset: true,
			Entry: runtime.HistoryEntry{Outcome: runtime.OutcomeReset, Detail: msg},
		},
		Notes: "reset",
	}
}
