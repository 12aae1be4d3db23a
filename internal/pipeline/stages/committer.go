package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

const commitFailedSummary = "Task Complete, but failed to update memory JSON."

// Committer asks for an updated memory document and persists it. A bad
// document never fails the run: memory_update is left empty and the summary
// says so.
type Committer struct {
	deps Deps
}

func NewCommitter(d Deps) *Committer { return &Committer{deps: d} }

func (c *Committer) ID() runtime.StageID { return runtime.StageCommitter }

func (c *Committer) Execute(ctx context.Context, rc runtime.RunContext) (runtime.Outcome, error) {
	logger := c.deps.logger(rc, runtime.StageCommitter)
	_, memory := c.deps.Mind.Load()
	files, listing := fileListing(c.deps.Files)

	system := fmt.Sprintf(committerSystemTmpl,
		indentJSON(memory), rc.Request, strings.ReplaceAll(listing, "\n", ", "),
		loopOutcome(rc), runtime.SummarizeHistory(rc.History))
	text, err := c.deps.LLM.Complete(ctx, system, committerUser)
	if err != nil {
		logger.Warn("memory update unavailable", zap.Error(err))
		return commitFailed(runtime.OutcomeCollaboratorFailure, err.Error(), err), nil
	}

	doc, err := c.decodeMemory(text)
	if err != nil {
		logger.Warn("memory update rejected", zap.Error(err))
		return commitFailed(runtime.OutcomeCommitParseFailure, err.Error(), err), nil
	}
	doc["last_updated"] = c.deps.now().UTC().Format(time.RFC3339)
	if err := c.deps.Mind.Save(doc); err != nil {
		logger.Warn("memory not saved", zap.Error(err))
		return commitFailed(runtime.OutcomeCollaboratorFailure, "save memory: "+err.Error(), err), nil
	}

	summary := fmt.Sprintf("Task Complete. Memory updated. (Files: %d)", len(files))
	if rc.Exhausted {
		summary = fmt.Sprintf("Stopped after %d iterations without approval. Memory updated. (Files: %d)", rc.LoopIterations, len(files))
	}
	logger.Info("memory committed", zap.Int("files", len(files)))
	return runtime.Outcome{
		Patch: runtime.CommitterPatch{
			MemoryUpdate: doc,
			Summary:      summary,
			Entry:        runtime.HistoryEntry{Outcome: runtime.OutcomeCommitted, Detail: summary},
		},
	}, nil
}

// decodeMemory strips fences, decodes the outermost JSON object and
// validates it against the memory schema.
func (c *Committer) decodeMemory(text string) (map[string]any, error) {
	raw, ok := outerJSONObject(stripFences(text))
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedOutput)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := c.deps.Mind.ValidateMemory(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return doc, nil
}

func commitFailed(outcome, detail string, degraded error) runtime.Outcome {
	return runtime.Outcome{
		Patch: runtime.CommitterPatch{
			MemoryUpdate: map[string]any{},
			Summary:      commitFailedSummary,
			Entry:        runtime.HistoryEntry{Outcome: outcome, Detail: detail},
		},
		Degraded: degraded,
	}
}

func loopOutcome(rc runtime.RunContext) string {
	switch {
	case rc.Exhausted:
		return fmt.Sprintf("stopped after %d iterations without approval", rc.LoopIterations)
	case rc.Admin:
		return "workspace reset"
	case rc.LoopDone:
		return "approved"
	default:
		return "unknown"
	}
}
