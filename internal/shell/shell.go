// Package shell runs commands inside the workspace with a denylist, a hard
// wall-clock timeout and captured output. Run never returns an error; every
// outcome is reported through Result.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/logging"
)

const (
	DefaultTimeout = 10 * time.Second
	// maxCapture bounds each captured stream.
	maxCapture = 256 << 10
)

// DefaultDenylist holds command substrings that are refused outright.
var DefaultDenylist = []string{"rm -rf /", "format", "sudo"}

type Executor struct {
	Dir      string
	Timeout  time.Duration
	Denylist []string
	Logger   *zap.Logger
}

// New returns an executor rooted at dir with the default policy.
func New(dir string) *Executor {
	return &Executor{
		Dir:      dir,
		Timeout:  DefaultTimeout,
		Denylist: append([]string(nil), DefaultDenylist...),
	}
}

type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Blocked  bool
	TimedOut bool
	// SystemError is set when the command could not be started.
	SystemError string
	Duration    time.Duration
}

// String renders the result the way it is shown to the language model.
func (r Result) String() string {
	switch {
	case r.Blocked:
		return "Error: Command blocked for security."
	case r.TimedOut:
		return "Error: Execution timed out (infinite loop?)."
	case r.SystemError != "":
		return "System Error: " + r.SystemError
	}
	return fmt.Sprintf("EXIT CODE: %d\nSTDOUT:\n%s\nSTDERR:\n%s", r.ExitCode, r.Stdout, r.Stderr)
}

// OK reports a completed run with exit code zero.
func (r Result) OK() bool {
	return !r.Blocked && !r.TimedOut && r.SystemError == "" && r.ExitCode == 0
}

// blocked returns the first denylisted substring found in command.
func (x *Executor) blocked(command string) (string, bool) {
	for _, bad := range x.Denylist {
		if bad != "" && strings.Contains(command, bad) {
			return bad, true
		}
	}
	return "", false
}

// Run executes command via "sh -c" in the executor's directory.
func (x *Executor) Run(ctx context.Context, command string) Result {
	logger := logging.OrNop(x.Logger)
	res := Result{Command: command, ExitCode: -1}
	if bad, ok := x.blocked(command); ok {
		logger.Warn("command blocked", zap.String("command", command), zap.String("match", bad))
		res.Blocked = true
		return res
	}

	timeout := x.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = x.Dir
	// Own process group so the whole tree dies on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second
	stdout := &capped{max: maxCapture}
	stderr := &capped{max: maxCapture}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		logger.Warn("command timed out", zap.String("command", command), zap.Duration("timeout", timeout))
		return res
	case err == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.SystemError = err.Error()
		}
	}
	logger.Debug("command finished",
		zap.String("command", command),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return res
}

// capped is a bytes.Buffer that silently drops writes past max.
type capped struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *capped) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *capped) String() string {
	s := strings.ToValidUTF8(c.buf.String(), "�")
	if c.truncated {
		s += "\n[output truncated]"
	}
	return s
}
