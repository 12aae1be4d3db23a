// Package config loads the assistant's run configuration from YAML or JSON.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/dcui26/multiagent-coding-assistant/internal/llm"
	"github.com/dcui26/multiagent-coding-assistant/internal/logging"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/engine"
	"github.com/dcui26/multiagent-coding-assistant/internal/shell"
)

// TestRunner maps a glob over workspace paths to the command that runs the
// matching test files. "{path}" in Command is replaced by the file path.
type TestRunner struct {
	Glob    string `json:"glob" yaml:"glob"`
	Command string `json:"command" yaml:"command"`
}

type Config struct {
	Version int `json:"version" yaml:"version"`

	Workspace struct {
		Root string `json:"root" yaml:"root"`
	} `json:"workspace" yaml:"workspace"`

	Mind struct {
		Root string `json:"root" yaml:"root"`
	} `json:"mind" yaml:"mind"`

	Logs struct {
		Root string `json:"root" yaml:"root"`
	} `json:"logs" yaml:"logs"`

	LLM struct {
		Provider        string  `json:"provider" yaml:"provider"`
		Model           string  `json:"model" yaml:"model"`
		APIKeyEnv       string  `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
		BaseURL         string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
		MaxTokens       int     `json:"max_tokens" yaml:"max_tokens"`
		Temperature     float64 `json:"temperature" yaml:"temperature"`
		TimeoutMS       int     `json:"timeout_ms" yaml:"timeout_ms"`
		RateLimitPerSec float64 `json:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
		Burst           int     `json:"burst" yaml:"burst"`
	} `json:"llm" yaml:"llm"`

	Engine struct {
		MaxIterations       int `json:"max_iterations" yaml:"max_iterations"`
		MaxSteps            int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
		RepeatFeedbackLimit int `json:"repeat_feedback_limit,omitempty" yaml:"repeat_feedback_limit,omitempty"`
	} `json:"engine" yaml:"engine"`

	Executor struct {
		TimeoutMS int      `json:"timeout_ms" yaml:"timeout_ms"`
		Denylist  []string `json:"denylist" yaml:"denylist"`
	} `json:"executor" yaml:"executor"`

	Verify struct {
		TestRunners    []TestRunner `json:"test_runners" yaml:"test_runners"`
		SourceGlobs    []string     `json:"source_globs" yaml:"source_globs"`
		ApprovalMarker string       `json:"approval_marker" yaml:"approval_marker"`
	} `json:"verify" yaml:"verify"`

	Checkpoint struct {
		Enabled     bool   `json:"enabled" yaml:"enabled"`
		AuthorName  string `json:"author_name,omitempty" yaml:"author_name,omitempty"`
		AuthorEmail string `json:"author_email,omitempty" yaml:"author_email,omitempty"`
	} `json:"checkpoint" yaml:"checkpoint"`

	Log logging.Config `json:"log" yaml:"log"`

	Server struct {
		Addr string `json:"addr" yaml:"addr"`
	} `json:"server" yaml:"server"`
}

const (
	DefaultApprovalMarker = "<APPROVED />"
	DefaultServerAddr     = "127.0.0.1:8080"
)

// DefaultTestRunners covers python, go and node test files.
func DefaultTestRunners() []TestRunner {
	return []TestRunner{
		{Glob: "**/*test*.py", Command: "python3 {path}"},
		{Glob: "**/*_test.go", Command: "go test ./..."},
		{Glob: "**/*.test.js", Command: "node {path}"},
	}
}

func DefaultSourceGlobs() []string {
	return []string{"**/*.py", "**/*.go", "**/*.json", "**/*.yaml", "**/*.yml"}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path (JSON by extension, YAML otherwise) with unknown keys
// rejected, applies defaults and validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = decodeJSONStrict(b, &cfg)
	default:
		err = decodeYAMLStrict(b, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func decodeJSONStrict(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	cfg.Workspace.Root = orDefault(cfg.Workspace.Root, "./workspace")
	cfg.Mind.Root = orDefault(cfg.Mind.Root, "./mind")
	cfg.Logs.Root = strings.TrimSpace(cfg.Logs.Root)

	cfg.LLM.Provider = strings.ToLower(orDefault(cfg.LLM.Provider, llm.ProviderAnthropic))
	cfg.LLM.Model = orDefault(cfg.LLM.Model, llm.DefaultModel)
	cfg.LLM.APIKeyEnv = orDefault(cfg.LLM.APIKeyEnv, llm.APIKeyEnv(cfg.LLM.Provider))
	cfg.LLM.BaseURL = strings.TrimSpace(cfg.LLM.BaseURL)
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.TimeoutMS == 0 {
		cfg.LLM.TimeoutMS = 120000
	}
	if cfg.LLM.RateLimitPerSec == 0 {
		cfg.LLM.RateLimitPerSec = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 1
	}

	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 5
	}

	if cfg.Executor.TimeoutMS == 0 {
		cfg.Executor.TimeoutMS = int(shell.DefaultTimeout / time.Millisecond)
	}
	if cfg.Executor.Denylist == nil {
		cfg.Executor.Denylist = append([]string(nil), shell.DefaultDenylist...)
	}
	cfg.Executor.Denylist = trimNonEmpty(cfg.Executor.Denylist)

	if len(cfg.Verify.TestRunners) == 0 {
		cfg.Verify.TestRunners = DefaultTestRunners()
	}
	if len(cfg.Verify.SourceGlobs) == 0 {
		cfg.Verify.SourceGlobs = DefaultSourceGlobs()
	}
	cfg.Verify.SourceGlobs = trimNonEmpty(cfg.Verify.SourceGlobs)
	cfg.Verify.ApprovalMarker = orDefault(cfg.Verify.ApprovalMarker, DefaultApprovalMarker)

	def := logging.NewDefaultConfig()
	cfg.Log.Level = orDefault(cfg.Log.Level, def.Level)
	cfg.Log.Format = orDefault(cfg.Log.Format, def.Format)

	cfg.Server.Addr = orDefault(cfg.Server.Addr, DefaultServerAddr)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	var errs []error
	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("unsupported config version %d", c.Version))
	}
	switch c.LLM.Provider {
	case llm.ProviderAnthropic, llm.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive"))
	}
	if c.LLM.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("llm.timeout_ms must be positive"))
	}
	if c.LLM.RateLimitPerSec < 0 {
		errs = append(errs, fmt.Errorf("llm.rate_limit_per_sec must not be negative"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be within [0, 2]"))
	}
	if c.Engine.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_iterations must be positive"))
	}
	if c.Engine.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("engine.max_steps must not be negative"))
	}
	if c.Engine.RepeatFeedbackLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.repeat_feedback_limit must not be negative"))
	}
	if c.Executor.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("executor.timeout_ms must be positive"))
	}
	for i, tr := range c.Verify.TestRunners {
		if !doublestar.ValidatePattern(tr.Glob) {
			errs = append(errs, fmt.Errorf("verify.test_runners[%d].glob: invalid pattern %q", i, tr.Glob))
		}
		if strings.TrimSpace(tr.Command) == "" {
			errs = append(errs, fmt.Errorf("verify.test_runners[%d].command is empty", i))
		}
	}
	for i, g := range c.Verify.SourceGlobs {
		if !doublestar.ValidatePattern(g) {
			errs = append(errs, fmt.Errorf("verify.source_globs[%d]: invalid pattern %q", i, g))
		}
	}
	if strings.TrimSpace(c.Verify.ApprovalMarker) == "" {
		errs = append(errs, fmt.Errorf("verify.approval_marker is empty"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	return errors.Join(errs...)
}

// LLMConfig converts the llm section. The API key is not resolved here.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		BaseURL:     c.LLM.BaseURL,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		Timeout:     time.Duration(c.LLM.TimeoutMS) * time.Millisecond,
		RateLimit:   c.LLM.RateLimitPerSec,
		Burst:       c.LLM.Burst,
	}
}

func (c *Config) Limits() engine.Limits {
	return engine.Limits{
		MaxIterations:       c.Engine.MaxIterations,
		MaxSteps:            c.Engine.MaxSteps,
		RepeatFeedbackLimit: c.Engine.RepeatFeedbackLimit,
	}
}

func (c *Config) ExecutorTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutMS) * time.Millisecond
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
