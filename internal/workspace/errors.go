package workspace

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied means the path resolves outside the workspace root.
	ErrAccessDenied = errors.New("access denied")
	// ErrNotFound means the file does not exist.
	ErrNotFound = errors.New("not found")
)

// PathError records the operation and workspace-relative path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	switch {
	case errors.Is(e.Err, ErrAccessDenied):
		return fmt.Sprintf("%s %s: access denied: path is outside the workspace", e.Op, e.Path)
	case errors.Is(e.Err, ErrNotFound):
		return fmt.Sprintf("%s %s: not found", e.Op, e.Path)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
}

func (e *PathError) Unwrap() error { return e.Err }
