package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/llm"
)

// writeConfig writes a YAML config rooted in a temp dir and returns its
// path and the logs root.
func writeConfig(t *testing.T, maxIterations int) (string, string) {
	t.Helper()
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	body := fmt.Sprintf(`version: 1
workspace:
  root: %s
mind:
  root: %s
logs:
  root: %s
engine:
  max_iterations: %d
verify:
  source_globs: ["**/*.json"]
  test_runners:
    - glob: "**/*test*.py"
      command: "cat {path}"
`, filepath.Join(dir, "workspace"), filepath.Join(dir, "mind"), logs, maxIterations)
	path := filepath.Join(dir, "assistant.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, logs
}

func script(gate, verdict string) *llm.Scripted {
	s := llm.NewScripted()
	s.Handler = func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "You screen requests"):
			return gate, nil
		case strings.HasPrefix(system, "You route requests"):
			return "direct", nil
		case strings.HasPrefix(system, "You write code"):
			return "<write_file path=\"test_hello.py\">\nprint('hello')\n</write_file>", nil
		case strings.HasPrefix(system, "You review code"):
			return verdict, nil
		case strings.HasPrefix(system, "You maintain the project's memory"):
			return `{"pending_tasks": [], "completed_tasks": ["hello"], "known_files": ["test_hello.py"], "error_log": []}`, nil
		}
		return "", errors.New("unexpected prompt")
	}
	return s
}

const allowed = `{"decision": "allowed", "reason": "coding task"}`

func runCLI(t *testing.T, completer llm.Completer, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &app{
		stdin:     strings.NewReader(stdin),
		stdout:    &stdout,
		stderr:    &stderr,
		completer: completer,
		logger:    zap.NewNop(),
	})
	return code, stdout.String(), stderr.String()
}

func TestRun_ExitCodes(t *testing.T) {
	cases := []struct {
		name     string
		gate     string
		verdict  string
		wantCode int
		wantOut  string
	}{
		{"committed", allowed, "Looks good. <APPROVED />", 0, "status: committed"},
		{"rejected", `{"decision": "rejected", "reason": "not a coding task"}`, "", 2, "rejected: not a coding task"},
		{"exhausted", allowed, "the script prints the wrong greeting", 3, "last feedback:\nthe script prints the wrong greeting"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfgPath, _ := writeConfig(t, 1)
			code, stdout, stderr := runCLI(t, script(tc.gate, tc.verdict), "", "run", "--config", cfgPath, "--run-id", "run-"+tc.name, "say", "hello")
			if code != tc.wantCode {
				t.Fatalf("exit code: got %d want %d (stderr=%q)", code, tc.wantCode, stderr)
			}
			if !strings.Contains(stdout, "run_id: run-"+tc.name) {
				t.Errorf("stdout missing run id: %q", stdout)
			}
			if !strings.Contains(stdout, tc.wantOut) {
				t.Errorf("stdout missing %q: %q", tc.wantOut, stdout)
			}
		})
	}
}

func TestRun_RequiresRequest(t *testing.T) {
	code, _, _ := runCLI(t, script(allowed, ""), "", "run")
	if code != 1 {
		t.Fatalf("expected exit 1 without a request, got %d", code)
	}
}

func TestRun_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  max_iterations: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := runCLI(t, script(allowed, ""), "", "run", "--config", path, "hello")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.HasPrefix(stderr, "error:") {
		t.Errorf("expected error on stderr, got %q", stderr)
	}
}

func TestRepl_RunsUntilQuit(t *testing.T) {
	cfgPath, _ := writeConfig(t, 2)
	s := script(allowed, "<APPROVED />")
	code, stdout, stderr := runCLI(t, s, "say hello\n\nQUIT\nnever reached\n", "repl", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("exit code %d (stderr=%q)", code, stderr)
	}
	if strings.Count(stdout, "status: committed") != 1 {
		t.Errorf("expected exactly one committed run, got %q", stdout)
	}
	if strings.Count(stdout, "User: ") != 3 {
		t.Errorf("expected three prompts, got %q", stdout)
	}
	for _, c := range s.Calls() {
		if strings.Contains(c.User, "never reached") {
			t.Fatal("input after quit was processed")
		}
	}
}

func TestRepl_EndsAtEOF(t *testing.T) {
	cfgPath, _ := writeConfig(t, 2)
	code, _, stderr := runCLI(t, script(allowed, "<APPROVED />"), "", "repl", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("exit code %d (stderr=%q)", code, stderr)
	}
}

func TestReset_RestoresDefaults(t *testing.T) {
	cfgPath, _ := writeConfig(t, 1)
	code, stdout, stderr := runCLI(t, nil, "", "reset", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("exit code %d (stderr=%q)", code, stderr)
	}
	if strings.TrimSpace(stdout) == "" {
		t.Fatal("expected a reset message")
	}
}

func TestStatus_AfterRun(t *testing.T) {
	cfgPath, logs := writeConfig(t, 1)
	if code, _, stderr := runCLI(t, script(allowed, "<APPROVED />"), "", "run", "--config", cfgPath, "--run-id", "run-status", "say hello"); code != 0 {
		t.Fatalf("run failed: %d %q", code, stderr)
	}

	code, stdout, stderr := runCLI(t, nil, "", "status", "--logs-root", logs)
	if code != 0 {
		t.Fatalf("status exit %d (stderr=%q)", code, stderr)
	}
	for _, want := range []string{"run_id=run-status", "state=committed", "loop_iterations=1", "gate", "committer"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("status output missing %q:\n%s", want, stdout)
		}
	}

	code, stdout, _ = runCLI(t, nil, "", "status", "--logs-root", logs, "--run-id", "run-status", "--json")
	if code != 0 {
		t.Fatalf("status --json exit %d", code)
	}
	var snap map[string]any
	if err := json.Unmarshal([]byte(stdout), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap["state"] != "committed" {
		t.Errorf("expected state committed, got %v", snap["state"])
	}
}

func TestStatus_RequiresLogsRoot(t *testing.T) {
	code, _, stderr := runCLI(t, nil, "", "status")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "--logs-root") {
		t.Errorf("unexpected stderr: %q", stderr)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd(&app{})
	want := map[string]bool{"run": false, "repl": false, "serve": false, "reset": false, "status": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
