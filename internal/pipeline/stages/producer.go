package stages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

// Producer asks for code as write directives and applies them to the
// workspace. Every pass advances the loop counter, including passes that
// write nothing.
type Producer struct {
	deps Deps
}

func NewProducer(d Deps) *Producer { return &Producer{deps: d} }

func (p *Producer) ID() runtime.StageID { return runtime.StageProducer }

func (p *Producer) Execute(ctx context.Context, rc runtime.RunContext) (runtime.Outcome, error) {
	logger := p.deps.logger(rc, runtime.StageProducer)
	iteration := rc.LoopIterations + 1

	_, listing := fileListing(p.deps.Files)
	mode, instruction := producerInstruction(rc)
	logger.Info("producing", zap.String("mode", mode))
	user := fmt.Sprintf("REQUEST:\n%s\n\nCURRENT FILES:\n%s\n\nINSTRUCTIONS:\n%s", rc.Request, listing, instruction)

	text, err := p.deps.LLM.Complete(ctx, producerSystem, user)
	if err != nil {
		logger.Warn("code generation unavailable", zap.Error(err))
		return runtime.Outcome{
			Patch: runtime.ProducerPatch{
				Iteration: iteration,
				Entry: runtime.HistoryEntry{
					Outcome: runtime.OutcomeCollaboratorFailure,
					Detail:  "code generation unavailable: " + err.Error(),
				},
			},
			Degraded: err,
			Notes:    mode,
		}, nil
	}

	directives := ParseDirectives(text)
	entry := runtime.HistoryEntry{Outcome: runtime.OutcomeWrote}
	for _, d := range directives {
		if d.Path == "" {
			entry.Errors = append(entry.Errors, "write directive without a path")
			continue
		}
		if err := p.deps.Files.Write(d.Path, d.Body); err != nil {
			logger.Warn("write rejected", zap.String("path", d.Path), zap.Error(err))
			entry.Errors = append(entry.Errors, err.Error())
			continue
		}
		digest, err := p.deps.Files.Fingerprint(d.Path)
		if err != nil {
			logger.Debug("fingerprint unavailable", zap.String("path", d.Path), zap.Error(err))
		}
		entry.Files = append(entry.Files, runtime.FileDigest{Path: d.Path, Digest: digest})
	}
	if len(entry.Files) == 0 {
		entry.Outcome = runtime.OutcomeDegenerate
		if len(directives) == 0 {
			entry.Detail = "no write directives in response"
			logger.Warn("degenerate pass: no write directives")
		} else {
			entry.Detail = "no directive could be written"
			logger.Warn("degenerate pass: every write failed", zap.Strings("errors", entry.Errors))
		}
	} else {
		logger.Info("files written", zap.Strings("files", entry.Paths()))
	}
	return runtime.Outcome{
		Patch: runtime.ProducerPatch{Iteration: iteration, Entry: entry},
		Notes: mode,
	}, nil
}

// producerInstruction picks between fixing verifier feedback and executing
// the plan. Without a plan (direct route) the request itself is the task.
func producerInstruction(rc runtime.RunContext) (mode, instruction string) {
	if fb := strings.TrimSpace(rc.Feedback); fb != "" {
		return "fixing", "The previous pass was rejected.\nREVIEW FEEDBACK:\n" + fb + "\n\nFix the code to address this feedback."
	}
	if rc.HasPlan() {
		return "implementing", "Implement the plan:\n" + rc.Plan
	}
	return "implementing", "Implement the request directly."
}

// isDegenerate reports whether a producer entry wrote nothing.
func isDegenerate(h runtime.HistoryEntry) bool {
	return h.Outcome == runtime.OutcomeDegenerate
}
