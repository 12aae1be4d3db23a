package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_CommitsChangesAndSkipsClean(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir, "", "")
	require.NoError(t, err)

	head, err := g.Head()
	require.NoError(t, err)
	assert.Empty(t, head)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "calc.py"), []byte("print(1)\n"), 0o644))
	sha, err := g.Checkpoint(context.Background(), "run1: producer")
	require.NoError(t, err)
	require.Len(t, sha, 40)

	head, err = g.Head()
	require.NoError(t, err)
	assert.Equal(t, sha, head)

	again, err := g.Checkpoint(context.Background(), "run1: verifier")
	require.NoError(t, err)
	assert.Empty(t, again, "clean worktree must not produce a commit")

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	commit, err := repo.CommitObject(mustHash(t, repo))
	require.NoError(t, err)
	assert.Equal(t, "run1: producer", commit.Message)
	assert.Equal(t, DefaultAuthorName, commit.Author.Name)
	assert.Equal(t, DefaultAuthorEmail, commit.Author.Email)
}

func TestCheckpoint_RecordsDeletions(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir, "bot", "bot@example.com")
	require.NoError(t, err)

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	first, err := g.Checkpoint(context.Background(), "first")
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	second, err := g.Checkpoint(context.Background(), "second")
	require.NoError(t, err)
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestNew_ReopensExistingRepo(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	g, err := New(dir, "x", "x@example.com")
	require.NoError(t, err)
	assert.Equal(t, "x", g.name)
}

func TestCheckpoint_CanceledContext(t *testing.T) {
	g, err := New(t.TempDir(), "", "")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Checkpoint(ctx, "m")
	assert.ErrorIs(t, err, context.Canceled)
}

func mustHash(t *testing.T, repo *git.Repository) plumbing.Hash {
	t.Helper()
	ref, err := repo.Head()
	require.NoError(t, err)
	return ref.Hash()
}
