package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

// runLog owns a run's logs directory: progress.ndjson, per-invocation stage
// records, and final.json. A zero dir disables file output; the sink still
// receives events.
type runLog struct {
	runID  string
	dir    string
	sink   func(map[string]any)
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

func (l *runLog) appendProgress(ev map[string]any) {
	if l == nil {
		return
	}
	if ev == nil {
		ev = map[string]any{}
	}
	if _, ok := ev["ts"]; !ok {
		ev["ts"] = l.now().UTC().Format(time.RFC3339Nano)
	}
	ev["run_id"] = l.runID

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink != nil {
		l.sink(ev)
	}
	if l.dir == "" {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("progress event not encodable", zap.Error(err))
		return
	}
	f, err := os.OpenFile(filepath.Join(l.dir, "progress.ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("progress log unavailable", zap.Error(err))
		return
	}
	defer f.Close()
	_, _ = f.Write(append(b, '\n'))
}

// stageRecord is written once per stage invocation.
type stageRecord struct {
	Seq        int                    `json:"seq"`
	Stage      runtime.StageID        `json:"stage"`
	StartedAt  time.Time              `json:"started_at"`
	DurationMS int64                  `json:"duration_ms"`
	Next       runtime.StageID        `json:"next,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	Degraded   string                 `json:"degraded,omitempty"`
	History    []runtime.HistoryEntry `json:"history,omitempty"`
	Context    runtime.RunContext     `json:"context"`
}

func (l *runLog) writeStage(rec stageRecord) {
	if l == nil || l.dir == "" {
		return
	}
	p := filepath.Join(l.dir, "stages", fmt.Sprintf("%03d-%s.json", rec.Seq, rec.Stage))
	if err := writeJSON(p, rec); err != nil {
		l.logger.Warn("stage record not written", zap.String("path", p), zap.Error(err))
	}
}

func (l *runLog) writeFinal(fo *runtime.FinalOutcome) {
	if l == nil || l.dir == "" || fo == nil {
		return
	}
	if err := fo.Save(filepath.Join(l.dir, "final.json")); err != nil {
		l.logger.Warn("final outcome not written", zap.Error(err))
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
