// Package assistant wires collaborators, stages and the engine together
// from a configuration.
package assistant

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/checkpoint"
	"github.com/dcui26/multiagent-coding-assistant/internal/config"
	"github.com/dcui26/multiagent-coding-assistant/internal/llm"
	"github.com/dcui26/multiagent-coding-assistant/internal/logging"
	"github.com/dcui26/multiagent-coding-assistant/internal/metrics"
	"github.com/dcui26/multiagent-coding-assistant/internal/mind"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/engine"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/stages"
	"github.com/dcui26/multiagent-coding-assistant/internal/shell"
	"github.com/dcui26/multiagent-coding-assistant/internal/syntax"
	"github.com/dcui26/multiagent-coding-assistant/internal/workspace"
)

// Options override collaborators. Zero values build the real ones from the
// configuration.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Completer replaces the langchaingo client.
	Completer llm.Completer
	// Shell replaces the workspace command executor.
	Shell stages.CommandRunner
	// Syntax replaces the default syntax checkers.
	Syntax stages.SyntaxChecker

	ProgressSink func(map[string]any)
	Now          func() time.Time
}

type Assistant struct {
	cfg    *config.Config
	engine *engine.Engine
	files  *workspace.Store
	mind   *mind.Store
	logger *zap.Logger
}

// New builds an assistant. It fails when the completion service cannot be
// configured (for example a missing API key).
func New(cfg *config.Config, opts Options) (*Assistant, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger)

	files, ms, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}

	completer := opts.Completer
	if completer == nil {
		c, err := llm.NewFromEnv(cfg.LLMConfig(), cfg.LLM.APIKeyEnv, logger.Named("llm"))
		if err != nil {
			return nil, err
		}
		completer = c
	}

	runner := opts.Shell
	if runner == nil {
		x := shell.New(files.Root())
		x.Timeout = cfg.ExecutorTimeout()
		x.Denylist = cfg.Executor.Denylist
		x.Logger = logger.Named("shell")
		runner = x
	}
	checker := opts.Syntax
	if checker == nil {
		checker = syntax.Default()
	}

	deps := stages.Deps{
		LLM:    completer,
		Files:  files,
		Mind:   ms,
		Shell:  runner,
		Syntax: checker,
		Logger: logger.Named("stage"),
		Now:    opts.Now,
	}
	reg, err := engine.NewRegistry(
		stages.NewGate(deps),
		stages.NewRouter(deps),
		stages.NewPlanner(deps),
		stages.NewProducer(deps),
		stages.NewVerifier(deps, verifierConfig(cfg)),
		stages.NewCommitter(deps),
	)
	if err != nil {
		return nil, err
	}

	eopts := engine.Options{
		Limits:       cfg.Limits(),
		LogsRoot:     cfg.Logs.Root,
		Logger:       logger.Named("engine"),
		Metrics:      opts.Metrics,
		ProgressSink: opts.ProgressSink,
		Now:          opts.Now,
	}
	if cfg.Checkpoint.Enabled {
		cp, err := checkpoint.New(files.Root(), cfg.Checkpoint.AuthorName, cfg.Checkpoint.AuthorEmail)
		if err != nil {
			return nil, err
		}
		eopts.Checkpointer = cp
	}
	eng, err := engine.New(engine.DefaultGraph(), reg, eopts)
	if err != nil {
		return nil, err
	}
	return &Assistant{cfg: cfg, engine: eng, files: files, mind: ms, logger: logger}, nil
}

func openStores(cfg *config.Config, logger *zap.Logger) (*workspace.Store, *mind.Store, error) {
	files, err := workspace.New(cfg.Workspace.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("open workspace: %w", err)
	}
	ms, err := mind.New(cfg.Mind.Root, files, logger.Named("mind"))
	if err != nil {
		return nil, nil, fmt.Errorf("open mind: %w", err)
	}
	return files, ms, nil
}

func verifierConfig(cfg *config.Config) stages.VerifierConfig {
	vc := stages.VerifierConfig{
		SourceGlobs:    cfg.Verify.SourceGlobs,
		ApprovalMarker: cfg.Verify.ApprovalMarker,
	}
	for _, tr := range cfg.Verify.TestRunners {
		vc.TestRunners = append(vc.TestRunners, stages.TestRunner{Glob: tr.Glob, Command: tr.Command})
	}
	return vc
}

// Run executes one request to a terminal state.
func (a *Assistant) Run(ctx context.Context, request string) (*engine.Result, error) {
	return a.engine.Run(ctx, request, engine.RunOptions{})
}

// RunWith executes one request with per-run hooks.
func (a *Assistant) RunWith(ctx context.Context, request string, ro engine.RunOptions) (*engine.Result, error) {
	return a.engine.Run(ctx, request, ro)
}

func (a *Assistant) Config() *config.Config { return a.cfg }

func (a *Assistant) Workspace() *workspace.Store { return a.files }

func (a *Assistant) Mind() *mind.Store { return a.mind }

// Reset wipes the workspace and restores the default memory documents.
func Reset(cfg *config.Config, logger *zap.Logger) (string, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	_, ms, err := openStores(cfg, logging.OrNop(logger))
	if err != nil {
		return "", err
	}
	return ms.Reset()
}
