package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

// Gate decides whether a request is in scope. It fails closed: anything
// other than a well-formed "allowed" decision rejects the request.
type Gate struct {
	deps Deps
}

func NewGate(d Deps) *Gate { return &Gate{deps: d} }

func (g *Gate) ID() runtime.StageID { return runtime.StageGate }

type gateDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

func (g *Gate) Execute(ctx context.Context, rc runtime.RunContext) (runtime.Outcome, error) {
	logger := g.deps.logger(rc, runtime.StageGate)
	if IsAdminRequest(rc.Request) {
		logger.Info("administrative request, skipping classification")
		return runtime.Outcome{
			Patch: runtime.GatePatch{
				InScope: true,
				Admin:   true,
				Entry:   runtime.HistoryEntry{Outcome: runtime.OutcomeAllowed, Detail: "administrative request"},
			},
			Notes: "admin",
		}, nil
	}

	reject := func(reason string, degraded error) (runtime.Outcome, error) {
		logger.Info("request rejected", zap.String("reason", reason))
		return runtime.Outcome{
			Patch: runtime.GatePatch{
				InScope:         false,
				RejectionReason: reason,
				Entry:           runtime.HistoryEntry{Outcome: runtime.OutcomeRejected, Detail: reason},
			},
			Degraded: degraded,
		}, nil
	}

	text, err := g.deps.LLM.Complete(ctx, gateSystem, fmt.Sprintf("USER REQUEST: %q", rc.Request))
	if err != nil {
		return reject("scope check unavailable: "+err.Error(), err)
	}
	d, err := parseGateDecision(text)
	if err != nil {
		return reject("scope check returned an invalid response: "+err.Error(), nil)
	}
	switch strings.ToLower(strings.TrimSpace(d.Decision)) {
	case "allowed", "allow", "accepted":
		logger.Info("request allowed")
		return runtime.Outcome{
			Patch: runtime.GatePatch{
				InScope: true,
				Entry:   runtime.HistoryEntry{Outcome: runtime.OutcomeAllowed, Detail: strings.TrimSpace(d.Reason)},
			},
		}, nil
	case "rejected", "reject", "denied":
		reason := strings.TrimSpace(d.Reason)
		if reason == "" {
			reason = "request is out of scope"
		}
		return reject(reason, nil)
	default:
		return reject(fmt.Sprintf("scope check returned an unrecognized decision %q", d.Decision), nil)
	}
}

// parseGateDecision decodes the outermost JSON object in text.
func parseGateDecision(text string) (gateDecision, error) {
	raw, ok := outerJSONObject(text)
	if !ok {
		return gateDecision{}, fmt.Errorf("%w: no JSON object in response", ErrMalformedOutput)
	}
	var d gateDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return gateDecision{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if strings.TrimSpace(d.Decision) == "" {
		return gateDecision{}, fmt.Errorf("%w: missing decision", ErrMalformedOutput)
	}
	return d, nil
}

// outerJSONObject returns the text between the first '{' and the last '}'.
func outerJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}
