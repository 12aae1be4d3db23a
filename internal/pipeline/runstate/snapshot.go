// Package runstate reads a run's logs directory back into a compact
// snapshot for status reporting.
package runstate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

type State string

const (
	StateUnknown   State = "unknown"
	StateRunning   State = "running"
	StateCommitted State = State(runtime.FinalCommitted)
	StateRejected  State = State(runtime.FinalRejected)
	StateExhausted State = State(runtime.FinalExhausted)
	StateFailed    State = State(runtime.FinalFailed)
)

// Terminal reports whether the run has a final outcome.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateRejected, StateExhausted, StateFailed:
		return true
	}
	return false
}

// StageSummary is one stage invocation as recorded under stages/.
type StageSummary struct {
	Seq        int             `json:"seq"`
	Stage      runtime.StageID `json:"stage"`
	Outcome    string          `json:"outcome,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Next       runtime.StageID `json:"next,omitempty"`
}

type Snapshot struct {
	LogsDir string `json:"logs_dir"`
	RunID   string `json:"run_id,omitempty"`
	State   State  `json:"state"`
	Request string `json:"request,omitempty"`

	CurrentStage   string    `json:"current_stage,omitempty"`
	LastEvent      string    `json:"last_event,omitempty"`
	LastEventAt    time.Time `json:"last_event_at,omitempty"`
	LoopIterations int       `json:"loop_iterations"`

	Summary         string `json:"summary,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	LastFeedback    string `json:"last_feedback,omitempty"`

	Stages []StageSummary        `json:"stages,omitempty"`
	Final  *runtime.FinalOutcome `json:"final,omitempty"`
}

// LoadSnapshot reads final.json, progress.ndjson and stages/ in dir. A
// terminal final.json is authoritative; progress is a best-effort feed for
// runs still in flight.
func LoadSnapshot(dir string) (*Snapshot, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("logs dir is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	s := &Snapshot{LogsDir: dir, State: StateUnknown}

	if err := applyFinalOutcome(s); err != nil {
		return nil, err
	}
	if err := applyProgress(s); err != nil {
		return nil, err
	}
	stages, err := readStages(filepath.Join(dir, "stages"))
	if err != nil {
		return nil, err
	}
	s.Stages = stages
	if s.State == StateUnknown && s.LastEvent != "" {
		s.State = StateRunning
	}
	return s, nil
}

func applyFinalOutcome(s *Snapshot) error {
	path := filepath.Join(s.LogsDir, "final.json")
	fo, err := runtime.LoadFinal(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	s.Final = fo
	s.RunID = strings.TrimSpace(fo.RunID)
	s.Request = fo.Request
	s.LoopIterations = fo.LoopIterations
	s.Summary = fo.Summary
	s.RejectionReason = fo.RejectionReason
	s.FailureReason = fo.FailureReason
	s.LastFeedback = fo.LastFeedback
	if st := State(strings.ToLower(strings.TrimSpace(string(fo.Status)))); st.Terminal() {
		s.State = st
	}
	return nil
}

// applyProgress scans progress.ndjson. The last event wins for activity
// fields; terminal state from final.json is never overridden.
func applyProgress(s *Snapshot) error {
	path := filepath.Join(s.LogsDir, "progress.ndjson")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// A torn final line is expected while a run is writing.
			continue
		}
		applyEvent(s, ev)
	}
	return sc.Err()
}

func applyEvent(s *Snapshot, ev map[string]any) {
	if rid := eventString(ev["run_id"]); rid != "" && s.RunID == "" {
		s.RunID = rid
	}
	s.LastEvent = eventString(ev["event"])
	if ts := parseEventTime(ev["ts"]); !ts.IsZero() {
		s.LastEventAt = ts
	}
	switch s.LastEvent {
	case "run_started":
		if s.Request == "" {
			s.Request = eventString(ev["request"])
		}
	case "stage_started":
		s.CurrentStage = eventString(ev["stage"])
	case "stage_finished":
		s.CurrentStage = eventString(ev["stage"])
		if s.Final == nil {
			if n, ok := ev["loop_iterations"].(float64); ok {
				s.LoopIterations = int(n)
			}
		}
	case "run_finished":
		s.CurrentStage = ""
	}
}

func readStages(dir string) ([]StageSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []StageSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var rec struct {
			StageSummary
			History []runtime.HistoryEntry `json:"history"`
		}
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Name(), err)
		}
		if n := len(rec.History); n > 0 {
			rec.Outcome = rec.History[n-1].Outcome
		}
		out = append(out, rec.StageSummary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ResolveRunDir returns the run directory to inspect. When runID is set it
// is joined to root; when root itself holds run artifacts it is returned;
// otherwise the newest run (run ids sort by creation time) is picked.
func ResolveRunDir(root, runID string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("logs root is required")
	}
	if runID = strings.TrimSpace(runID); runID != "" {
		if strings.ContainsAny(runID, `/\`) || runID == ".." {
			return "", fmt.Errorf("invalid run id %q", runID)
		}
		return filepath.Join(root, runID), nil
	}
	for _, name := range []string{"final.json", "progress.ndjson"} {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return root, nil
		}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	latest := ""
	for _, e := range entries {
		if e.IsDir() && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no runs under %s", root)
	}
	return filepath.Join(root, latest), nil
}

func eventString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func parseEventTime(v any) time.Time {
	raw := eventString(v)
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	return time.Time{}
}
