package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
	"github.com/dcui26/multiagent-coding-assistant/internal/syntax"
)

// TestRunner runs the workspace files matching Glob. "{path}" in Command is
// replaced by the quoted file path; a command without it runs once.
type TestRunner struct {
	Glob    string
	Command string
}

type VerifierConfig struct {
	SourceGlobs    []string
	TestRunners    []TestRunner
	ApprovalMarker string
	// MaxFileBytes caps each file in the review prompt. Zero means 64KiB.
	MaxFileBytes int
}

const (
	defaultApprovalMarker = "<APPROVED />"
	defaultMaxFileBytes   = 64 << 10

	syntaxRejectHeader = "Syntax Errors Found (Auto-Reject):\n"
	noTestsFound       = "No test files found. Code was not executed."
	noTestsInstruction = "Write a test file (for example test_<module>.py) that exercises the code and exits non-zero on failure. It will be executed to verify your work."
	emptyPassNote      = "previous pass wrote no files"
)

// Verifier checks the workspace in two phases: local syntax checks, then
// test execution judged by the model.
type Verifier struct {
	deps Deps
	cfg  VerifierConfig
}

func NewVerifier(d Deps, cfg VerifierConfig) *Verifier {
	if strings.TrimSpace(cfg.ApprovalMarker) == "" {
		cfg.ApprovalMarker = defaultApprovalMarker
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultMaxFileBytes
	}
	return &Verifier{deps: d, cfg: cfg}
}

func (v *Verifier) ID() runtime.StageID { return runtime.StageVerifier }

func (v *Verifier) Execute(ctx context.Context, rc runtime.RunContext) (runtime.Outcome, error) {
	logger := v.deps.logger(rc, runtime.StageVerifier)
	notes := producerNotes(rc)

	files, err := v.deps.Files.List("")
	if err != nil {
		notes = append(notes, "workspace listing failed: "+err.Error())
	}

	syntaxErrs, readErrs := v.checkSyntax(ctx, files, logger)
	notes = append(notes, readErrs...)
	if len(syntaxErrs) > 0 {
		logger.Info("syntax check failed", zap.Strings("errors", syntaxErrs))
		return reject(runtime.OutcomeSyntaxError,
			withNotes(notes, syntaxRejectHeader+strings.Join(syntaxErrs, "\n")), syntaxErrs, nil), nil
	}

	tests := v.testCommands(files)
	if len(tests) == 0 {
		logger.Info("no test files found")
		return reject(runtime.OutcomeNoTests,
			withNotes(notes, noTestsFound+"\n"+noTestsInstruction), nil, nil), nil
	}

	var logs strings.Builder
	for _, tc := range tests {
		res := v.deps.Shell.Run(ctx, tc.command)
		logger.Info("test executed",
			zap.String("target", tc.target),
			zap.Int("exit_code", res.ExitCode),
			zap.Bool("timed_out", res.TimedOut),
			zap.Bool("blocked", res.Blocked))
		fmt.Fprintf(&logs, "\n--- EXECUTION OF %s ---\n%s\n", tc.target, res.String())
	}

	user := fmt.Sprintf("PLAN:\n%s\n\nCODE:\n%s\n\nEXECUTION RESULTS:\n%s",
		planOrRequest(rc), v.codeDump(files), logs.String())
	text, err := v.deps.LLM.Complete(ctx, fmt.Sprintf(verifierSystemTmpl, v.cfg.ApprovalMarker), user)
	if err != nil {
		logger.Warn("review unavailable", zap.Error(err))
		return reject(runtime.OutcomeCollaboratorFailure,
			withNotes(notes, "verification unavailable: "+err.Error()), nil, err), nil
	}
	if strings.Contains(text, v.cfg.ApprovalMarker) {
		logger.Info("pass approved")
		return runtime.Outcome{
			Patch: runtime.VerifierPatch{
				Approved: true,
				Entry:    runtime.HistoryEntry{Outcome: runtime.OutcomeApproved},
			},
		}, nil
	}
	logger.Info("changes requested")
	return reject(runtime.OutcomeChangesRequested, withNotes(notes, strings.TrimSpace(text)), nil, nil), nil
}

func reject(outcome, feedback string, errs []string, degraded error) runtime.Outcome {
	return runtime.Outcome{
		Patch: runtime.VerifierPatch{
			Feedback: feedback,
			Entry:    runtime.HistoryEntry{Outcome: outcome, Detail: feedback, Errors: errs},
		},
		Degraded: degraded,
	}
}

// producerNotes surfaces what went wrong in the latest producer pass so the
// next pass sees it in its feedback.
func producerNotes(rc runtime.RunContext) []string {
	last, ok := rc.LastEntry(runtime.StageProducer)
	if !ok {
		return nil
	}
	var notes []string
	if isDegenerate(last) {
		notes = append(notes, emptyPassNote)
	}
	if last.Outcome == runtime.OutcomeCollaboratorFailure {
		notes = append(notes, emptyPassNote+": "+last.Detail)
	}
	for _, e := range last.Errors {
		notes = append(notes, "write failed: "+e)
	}
	return notes
}

func withNotes(notes []string, feedback string) string {
	if len(notes) == 0 {
		return feedback
	}
	return strings.Join(notes, "\n") + "\n\n" + feedback
}

func (v *Verifier) checkSyntax(ctx context.Context, files []string, logger *zap.Logger) (syntaxErrs, readErrs []string) {
	if v.deps.Syntax == nil {
		return nil, nil
	}
	for _, f := range files {
		if !matchAny(v.cfg.SourceGlobs, f) {
			continue
		}
		src, err := v.deps.Files.Read(f)
		if err != nil {
			readErrs = append(readErrs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		se, err := v.deps.Syntax.Check(ctx, f, []byte(src))
		if err != nil {
			if !errors.Is(err, syntax.ErrUnavailable) {
				logger.Warn("syntax checker failed", zap.String("path", f), zap.Error(err))
			}
			continue
		}
		if se != nil {
			syntaxErrs = append(syntaxErrs, se.Error())
		}
	}
	return syntaxErrs, readErrs
}

type testCommand struct {
	target  string
	command string
}

// testCommands maps test-like files to commands, in listing order. A runner
// whose command ignores the path is run once however many files match.
func (v *Verifier) testCommands(files []string) []testCommand {
	var out []testCommand
	seen := map[string]bool{}
	for _, f := range files {
		for _, tr := range v.cfg.TestRunners {
			ok, err := doublestar.Match(tr.Glob, f)
			if err != nil || !ok {
				continue
			}
			tc := testCommand{target: f, command: tr.Command}
			if strings.Contains(tr.Command, "{path}") {
				tc.command = strings.ReplaceAll(tr.Command, "{path}", shellQuote(f))
			} else {
				tc.target = tr.Command
			}
			if !seen[tc.command] {
				seen[tc.command] = true
				out = append(out, tc)
			}
			break
		}
	}
	return out
}

func (v *Verifier) codeDump(files []string) string {
	var b strings.Builder
	for _, f := range files {
		content, err := v.deps.Files.Read(f)
		if err != nil {
			content = "[unreadable: " + err.Error() + "]"
		}
		if len(content) > v.cfg.MaxFileBytes {
			content = content[:v.cfg.MaxFileBytes] + "\n[truncated]"
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", f, content)
	}
	if b.Len() == 0 {
		return noFiles
	}
	return b.String()
}

func planOrRequest(rc runtime.RunContext) string {
	if rc.HasPlan() {
		return rc.Plan
	}
	return rc.Request
}

func matchAny(globs []string, path string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, path); err == nil && ok {
			return true
		}
	}
	return false
}
