package engine

import (
	"github.com/oklog/ulid/v2"
)

// NewRunID returns a sortable, filesystem-safe run identifier.
func NewRunID() string {
	return ulid.Make().String()
}
