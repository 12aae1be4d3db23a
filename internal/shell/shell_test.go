package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	x := New(t.TempDir())
	res := x.Run(context.Background(), "echo hello; echo oops >&2; exit 3")
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.False(t, res.OK())
	assert.Equal(t, "EXIT CODE: 3\nSTDOUT:\nhello\n\nSTDERR:\noops\n", res.String())
}

func TestRun_UsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("here"), 0o644))
	res := New(dir).Run(context.Background(), "cat marker.txt")
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "here", res.Stdout)
}

func TestRun_Denylist(t *testing.T) {
	dir := t.TempDir()
	x := New(dir)
	for _, cmd := range []string{"sudo ls", "rm -rf / --no-preserve-root", "format c:"} {
		res := x.Run(context.Background(), cmd)
		assert.True(t, res.Blocked, cmd)
		assert.Equal(t, "Error: Command blocked for security.", res.String())
	}
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	x := New(t.TempDir())
	x.Timeout = 200 * time.Millisecond
	start := time.Now()
	res := x.Run(context.Background(), "sleep 5 & sleep 5; wait")
	assert.True(t, res.TimedOut)
	assert.Equal(t, "Error: Execution timed out (infinite loop?).", res.String())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRun_SystemError(t *testing.T) {
	x := New(filepath.Join(t.TempDir(), "does-not-exist"))
	res := x.Run(context.Background(), "true")
	assert.NotEmpty(t, res.SystemError)
	assert.True(t, strings.HasPrefix(res.String(), "System Error: "))
}

func TestCapped(t *testing.T) {
	c := &capped{max: 4}
	n, err := c.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd\n[output truncated]", c.String())
}
