// Package syntax holds the cheap, local source checks run before any tests
// or model calls. Checkers are keyed by file extension.
package syntax

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnavailable means the checker's toolchain is not installed. Callers
// treat the file as unchecked.
var ErrUnavailable = errors.New("syntax checker unavailable")

// Error is a parse failure in one file.
type Error struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
}

// Checker parses src and returns a *Error on a syntax failure.
type Checker interface {
	Check(ctx context.Context, path string, src []byte) error
}

type CheckerFunc func(ctx context.Context, path string, src []byte) error

func (f CheckerFunc) Check(ctx context.Context, path string, src []byte) error {
	return f(ctx, path, src)
}

type Registry struct {
	byExt map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{byExt: map[string]Checker{}}
}

// Default registers the Go, JSON, YAML and Python checkers.
func Default() *Registry {
	r := NewRegistry()
	r.Register(".go", CheckerFunc(checkGo))
	r.Register(".json", CheckerFunc(checkJSON))
	r.Register(".yaml", CheckerFunc(checkYAML))
	r.Register(".yml", CheckerFunc(checkYAML))
	r.Register(".py", &PythonChecker{Interpreter: "python3"})
	return r
}

func (r *Registry) Register(ext string, c Checker) {
	r.byExt[strings.ToLower(ext)] = c
}

// Supports reports whether a checker is registered for path's extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Check runs the checker for path. It returns (nil, nil) when the file has
// no checker or parses cleanly, and (*Error, nil) on a syntax failure.
func (r *Registry) Check(ctx context.Context, path string, src []byte) (*Error, error) {
	c, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, nil
	}
	err := c.Check(ctx, path, src)
	if err == nil {
		return nil, nil
	}
	var se *Error
	if errors.As(err, &se) {
		if se.Path == "" {
			se.Path = path
		}
		return se, nil
	}
	return nil, err
}
