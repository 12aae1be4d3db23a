// Command assistant runs coding requests through the multi-agent pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/assistant"
	"github.com/dcui26/multiagent-coding-assistant/internal/config"
	"github.com/dcui26/multiagent-coding-assistant/internal/llm"
	"github.com/dcui26/multiagent-coding-assistant/internal/logging"
	"github.com/dcui26/multiagent-coding-assistant/internal/metrics"
)

var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:], &app{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}))
}

// app carries the streams and flag values shared by every subcommand.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// completer and logger replace the configured ones when set.
	completer llm.Completer
	logger    *zap.Logger

	configPath string
	logsRoot   string
}

// exitCode carries a non-zero process status out of a command.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func execute(args []string, a *app) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.Execute()
	var code exitCode
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return int(code)
	default:
		fmt.Fprintln(a.stderr, "error:", err)
		return 1
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "assistant",
		Short: "Multi-agent coding assistant",
		Long: `assistant screens a coding request, plans it, writes files into the
workspace, verifies them by running tests and reviewing the code, and records
what happened in the project memory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&a.logsRoot, "logs-root", "", "directory for per-run logs (overrides config)")

	root.AddCommand(
		newRunCmd(a),
		newReplCmd(a),
		newServeCmd(a),
		newResetCmd(a),
		newStatusCmd(a),
	)
	return root
}

func (a *app) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if strings.TrimSpace(a.configPath) == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if a.logsRoot != "" {
		cfg.Logs.Root = a.logsRoot
	}
	return cfg, nil
}

func (a *app) newLogger(cfg *config.Config) (*zap.Logger, error) {
	if a.logger != nil {
		return a.logger, nil
	}
	return logging.New(cfg.Log)
}

func (a *app) newAssistant(cfg *config.Config, m *metrics.Metrics) (*assistant.Assistant, *zap.Logger, error) {
	logger, err := a.newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	asst, err := assistant.New(cfg, assistant.Options{
		Logger:    logger,
		Metrics:   m,
		Completer: a.completer,
	})
	if err != nil {
		return nil, nil, err
	}
	return asst, logger, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
