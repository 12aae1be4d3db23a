// Package stages implements the six workflow stages: Gate, Router, Planner,
// Producer, Verifier and Committer. Each stage reads a RunContext snapshot,
// talks to its collaborators and returns a narrow patch.
//
// Collaborator failures never escape as errors. They become context fields
// and are reported through Outcome.Degraded.
package stages

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/llm"
	"github.com/dcui26/multiagent-coding-assistant/internal/logging"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
	"github.com/dcui26/multiagent-coding-assistant/internal/shell"
	"github.com/dcui26/multiagent-coding-assistant/internal/syntax"
)

// ErrMalformedOutput marks a completion whose structured payload could not
// be decoded.
var ErrMalformedOutput = errors.New("malformed structured output")

// FileStore is the sandboxed workspace.
type FileStore interface {
	Read(p string) (string, error)
	Write(p, content string) error
	List(dir string) ([]string, error)
	Fingerprint(p string) (string, error)
}

// MemoryStore is the persistent project memory.
type MemoryStore interface {
	Load() (manifest, memory map[string]any)
	Save(memory map[string]any) error
	Reset() (string, error)
	ValidateMemory(doc map[string]any) error
}

// CommandRunner executes shell commands inside the workspace.
type CommandRunner interface {
	Run(ctx context.Context, command string) shell.Result
}

// SyntaxChecker parses one source file.
type SyntaxChecker interface {
	Check(ctx context.Context, path string, src []byte) (*syntax.Error, error)
}

// Deps are the collaborators shared by the stages. Stages only use the
// fields they need.
type Deps struct {
	LLM    llm.Completer
	Files  FileStore
	Mind   MemoryStore
	Shell  CommandRunner
	Syntax SyntaxChecker
	Logger *zap.Logger
	Now    func() time.Time
}

func (d Deps) logger(rc runtime.RunContext, stage runtime.StageID) *zap.Logger {
	return logging.OrNop(d.Logger).With(
		zap.String("run_id", rc.RunID),
		zap.String("stage", string(stage)),
		zap.Int("iteration", rc.LoopIterations),
	)
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

const noFiles = "(No files yet)"

// fileListing renders the workspace listing for prompts. A listing error is
// rendered inline so the model sees it.
func fileListing(files FileStore) ([]string, string) {
	list, err := files.List("")
	if err != nil {
		return nil, "(file listing unavailable: " + err.Error() + ")"
	}
	if len(list) == 0 {
		return list, noFiles
	}
	return list, strings.Join(list, "\n")
}
