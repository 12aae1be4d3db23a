package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	return s
}

func TestWriteReadList(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("calculator.py", "def add(a, b):\n    return a + b\n"))
	require.NoError(t, s.Write("tests/test_calculator.py", "import calculator\n"))

	got, err := s.Read("calculator.py")
	require.NoError(t, err)
	assert.Contains(t, got, "return a + b")

	files, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"calculator.py", "tests/test_calculator.py"}, files)

	sub, err := s.List("tests")
	require.NoError(t, err)
	assert.Equal(t, []string{"tests/test_calculator.py"}, sub)
}

func TestConfinement(t *testing.T) {
	s := newStore(t)
	outside := filepath.Join(filepath.Dir(s.Root()), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	_, err := s.Read("../outside.txt")
	assert.ErrorIs(t, err, ErrAccessDenied)

	err = s.Write("../outside.txt", "overwritten")
	assert.ErrorIs(t, err, ErrAccessDenied)
	b, _ := os.ReadFile(outside)
	assert.Equal(t, "secret", string(b), "denied write must not touch the file")

	_, err = s.Read(outside)
	assert.ErrorIs(t, err, ErrAccessDenied, "absolute paths outside the root are denied")

	_, err = s.List("..")
	assert.ErrorIs(t, err, ErrAccessDenied)

	var pe *PathError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "list", pe.Op)
}

func TestConfinement_Symlink(t *testing.T) {
	s := newStore(t)
	target := t.TempDir()
	require.NoError(t, os.Symlink(target, filepath.Join(s.Root(), "escape")))
	err := s.Write("escape/pwned.txt", "x")
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, statErr := os.Stat(filepath.Join(target, "pwned.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Read("missing.py")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "missing.py")
}

func TestReadLatin1Fallback(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "legacy.txt"), []byte{'c', 'a', 'f', 0xe9}, 0o644))
	got, err := s.Read("legacy.txt")
	require.NoError(t, err)
	assert.Equal(t, "café", got)
}

func TestWriteRepairsInvalidUTF8(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("bad.txt", "ok\xffok"))
	got, err := s.Read("bad.txt")
	require.NoError(t, err)
	assert.Equal(t, "ok�ok", got)
}

func TestListSkipsGitAndMissingDir(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), ".git", "objects"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".git", "HEAD"), []byte("ref"), 0o644))
	require.NoError(t, s.Write("main.go", "package main\n"))

	files, err := s.List(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, files)

	none, err := s.List("nope")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWipeKeepsGit(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), ".git"), 0o755))
	require.NoError(t, s.Write("a/b.py", "x"))
	require.NoError(t, s.Wipe())

	files, err := s.List("")
	require.NoError(t, err)
	assert.Empty(t, files)
	_, err = os.Stat(filepath.Join(s.Root(), ".git"))
	assert.NoError(t, err)
}

func TestFingerprint(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("a.py", "print(1)"))
	require.NoError(t, s.Write("b.py", "print(1)"))
	require.NoError(t, s.Write("c.py", "print(2)"))

	a, err := s.Fingerprint("a.py")
	require.NoError(t, err)
	b, _ := s.Fingerprint("b.py")
	c, _ := s.Fingerprint("c.py")
	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = s.Fingerprint("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
