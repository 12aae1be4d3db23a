package engine

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
)

const defaultMaxIterations = 5

// Limits bounds a run.
type Limits struct {
	// MaxIterations caps Producer passes. When reached without approval the
	// engine routes to the committer with an exhausted outcome.
	MaxIterations int
	// MaxSteps caps total stage invocations. Zero derives it from
	// MaxIterations. Exceeding it is an engine error.
	MaxSteps int
	// RepeatFeedbackLimit exhausts the loop early when the verifier hands
	// back the same normalized feedback this many times in a row. Zero
	// disables the check.
	RepeatFeedbackLimit int
}

func (l Limits) withDefaults() (Limits, error) {
	if l.MaxIterations < 0 || l.MaxSteps < 0 || l.RepeatFeedbackLimit < 0 {
		return l, fmt.Errorf("limits must be >= 0 (max_iterations=%d max_steps=%d repeat_feedback_limit=%d)",
			l.MaxIterations, l.MaxSteps, l.RepeatFeedbackLimit)
	}
	if l.MaxIterations == 0 {
		l.MaxIterations = defaultMaxIterations
	}
	if l.MaxSteps == 0 {
		// gate, router, planner, committer, two stages per pass, plus the
		// extra verifier and committer an exhausted run may take.
		l.MaxSteps = 4 + 2*l.MaxIterations + 2
	}
	return l, nil
}

var (
	feedbackWhitespaceRE = regexp.MustCompile(`\s+`)
	feedbackHexRE        = regexp.MustCompile(`\b[0-9a-f]{7,64}\b`)
	feedbackDigitsRE     = regexp.MustCompile(`\b\d+\b`)
)

func normalizeFeedback(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = feedbackHexRE.ReplaceAllString(s, "<hex>")
	s = feedbackDigitsRE.ReplaceAllString(s, "<n>")
	s = feedbackWhitespaceRE.ReplaceAllString(s, " ")
	return s
}

// feedbackSignature hashes normalized feedback so line numbers, temp paths
// and timings do not defeat the repeat check.
func feedbackSignature(feedback string) string {
	norm := normalizeFeedback(feedback)
	if norm == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:8])
}

// repeatTracker counts consecutive identical feedback signatures.
type repeatTracker struct {
	last  string
	count int
}

func (t *repeatTracker) observe(sig string) int {
	if sig == "" {
		t.last, t.count = "", 0
		return 0
	}
	if sig == t.last {
		t.count++
	} else {
		t.last, t.count = sig, 1
	}
	return t.count
}
