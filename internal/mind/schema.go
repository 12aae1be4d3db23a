package mind

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// memorySchema is the contract the committer's memory document must meet.
const memorySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["pending_tasks", "completed_tasks", "known_files", "error_log"],
  "properties": {
    "pending_tasks":   {"type": "array"},
    "completed_tasks": {"type": "array"},
    "known_files":     {"type": "array", "items": {"type": "string"}},
    "error_log":       {"type": "array"},
    "last_updated":    {"type": "string"}
  }
}`

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// ValidateMemory checks doc against the memory schema.
func (s *Store) ValidateMemory(doc map[string]any) error {
	// The validator only understands decoded JSON values.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode memory: %w", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("memory schema: %w", err)
	}
	return nil
}
