// Package checkpoint commits the workspace to a local git repository after
// each stage so a run can be inspected step by step.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	DefaultAuthorName  = "assistant"
	DefaultAuthorEmail = "assistant@local"
)

// Git snapshots one directory. The repository is created on first use.
type Git struct {
	dir   string
	name  string
	email string
	now   func() time.Time

	mu   sync.Mutex
	repo *git.Repository
}

// New opens dir as a git repository, initialising it when missing.
func New(dir, authorName, authorEmail string) (*Git, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint repo %s: %w", dir, err)
	}
	if strings.TrimSpace(authorName) == "" {
		authorName = DefaultAuthorName
	}
	if strings.TrimSpace(authorEmail) == "" {
		authorEmail = DefaultAuthorEmail
	}
	return &Git{dir: dir, name: authorName, email: authorEmail, now: time.Now, repo: repo}, nil
}

// Checkpoint stages every change (git add -A) and commits it. A clean
// worktree is not an error: the returned sha is empty.
func (g *Git) Checkpoint(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	wt, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("git add -A: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: g.name, Email: g.email, When: g.now()},
	})
	if err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}
	return hash.String(), nil
}

// Head returns the current HEAD sha, or "" before the first commit.
func (g *Git) Head() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, err := g.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", err
	}
	return ref.Hash().String(), nil
}
