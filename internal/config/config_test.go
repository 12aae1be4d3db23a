package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "./workspace", cfg.Workspace.Root)
	assert.Equal(t, "./mind", cfg.Mind.Root)
	assert.Empty(t, cfg.Logs.Root)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 5, cfg.Engine.MaxIterations)
	assert.Equal(t, []string{"rm -rf /", "format", "sudo"}, cfg.Executor.Denylist)
	assert.Equal(t, 10*time.Second, cfg.ExecutorTimeout())
	assert.Equal(t, "<APPROVED />", cfg.Verify.ApprovalMarker)
	assert.Len(t, cfg.Verify.TestRunners, 3)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)

	lc := cfg.LLMConfig()
	assert.Equal(t, 2*time.Minute, lc.Timeout)
	assert.Equal(t, 4096, lc.MaxTokens)
	assert.InDelta(t, 2.0, lc.RateLimit, 1e-9)

	lim := cfg.Limits()
	assert.Equal(t, 5, lim.MaxIterations)
	assert.Zero(t, lim.MaxSteps)
}

func TestLoad_YAML(t *testing.T) {
	p := writeFile(t, "run.yaml", `
workspace:
  root: /tmp/ws
llm:
  provider: OpenAI
  model: gpt-4o-mini
engine:
  max_iterations: 3
  repeat_feedback_limit: 2
verify:
  test_runners:
    - glob: "**/*_spec.rb"
      command: "ruby {path}"
log:
  level: debug
  format: json
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ws", cfg.Workspace.Root)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 3, cfg.Limits().MaxIterations)
	assert.Equal(t, 2, cfg.Limits().RepeatFeedbackLimit)
	assert.Equal(t, []TestRunner{{Glob: "**/*_spec.rb", Command: "ruby {path}"}}, cfg.Verify.TestRunners)
	assert.Equal(t, DefaultSourceGlobs(), cfg.Verify.SourceGlobs)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_JSON(t *testing.T) {
	p := writeFile(t, "run.json", `{"engine": {"max_iterations": 7}, "checkpoint": {"enabled": true}}`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxIterations)
	assert.True(t, cfg.Checkpoint.Enabled)
}

func TestLoad_EmptyYAMLUsesDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "engine:\n  max_iteration: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iteration")

	_, err = Load(writeFile(t, "bad.json", `{"engine": {"loops": 3}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loops")
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	_, err := Load(writeFile(t, "multi.yaml", "version: 1\n---\nversion: 1\n"))
	assert.ErrorContains(t, err, "multiple documents")

	_, err = Load(writeFile(t, "multi.json", `{} {}`))
	assert.ErrorContains(t, err, "multiple top-level values")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown provider":  func(c *Config) { c.LLM.Provider = "bard" },
		"zero iterations":   func(c *Config) { c.Engine.MaxIterations = 0 },
		"negative steps":    func(c *Config) { c.Engine.MaxSteps = -1 },
		"negative repeat":   func(c *Config) { c.Engine.RepeatFeedbackLimit = -1 },
		"zero exec timeout": func(c *Config) { c.Executor.TimeoutMS = 0 },
		"bad glob":          func(c *Config) { c.Verify.SourceGlobs = []string{"[a-"} },
		"empty runner":      func(c *Config) { c.Verify.TestRunners = []TestRunner{{Glob: "*.py"}} },
		"empty marker":      func(c *Config) { c.Verify.ApprovalMarker = " " },
		"bad log level":     func(c *Config) { c.Log.Level = "loud" },
		"bad version":       func(c *Config) { c.Version = 9 },
		"temperature":       func(c *Config) { c.LLM.Temperature = 3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_NegativeIterationsRejected(t *testing.T) {
	_, err := Load(writeFile(t, "neg.yaml", "engine:\n  max_iterations: -2\n"))
	assert.ErrorContains(t, err, "max_iterations")
}
