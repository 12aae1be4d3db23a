// Package mind persists project memory: a static manifest and a mutable
// memory record, stored as two JSON documents under one root.
package mind

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/dcui26/multiagent-coding-assistant/internal/logging"
)

const (
	ManifestFile = "manifest.json"
	MemoryFile   = "memory.json"

	// ResetMessage is reported after a successful Reset.
	ResetMessage = "Memory wiped. Workspace cleared. Ready for new project."
)

// Wiper clears the workspace as part of a reset.
type Wiper interface {
	Wipe() error
}

type Store struct {
	root      string
	workspace Wiper
	logger    *zap.Logger
	schema    *jsonschema.Schema
}

// New returns a store rooted at root. workspace may be nil, in which case
// Reset only restores the documents.
func New(root string, workspace Wiper, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("mind root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	schema, err := compileSchema("memory.schema.json", memorySchema)
	if err != nil {
		return nil, fmt.Errorf("compile memory schema: %w", err)
	}
	return &Store{
		root:      abs,
		workspace: workspace,
		logger:    logging.OrNop(logger),
		schema:    schema,
	}, nil
}

func (s *Store) Root() string { return s.root }

func DefaultManifest() map[string]any {
	return map[string]any{
		"project_name": "New Project",
		"tech_stack":   []any{},
		"rules":        []any{},
	}
}

func DefaultMemory() map[string]any {
	return map[string]any{
		"pending_tasks":   []any{},
		"completed_tasks": []any{},
		"known_files":     []any{},
		"error_log":       []any{},
	}
}

// Load returns the manifest and memory. Missing or corrupt documents load as
// empty mappings; corruption is logged, never returned.
func (s *Store) Load() (manifest, memory map[string]any) {
	return s.loadDoc(ManifestFile), s.loadDoc(MemoryFile)
}

func (s *Store) loadDoc(name string) map[string]any {
	p := filepath.Join(s.root, name)
	b, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("mind document unreadable, using empty document", zap.String("path", p), zap.Error(err))
		}
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil || doc == nil {
		s.logger.Warn("mind document has errors, using empty document", zap.String("path", p), zap.Error(err))
		return map[string]any{}
	}
	return doc
}

// Save replaces the memory document.
func (s *Store) Save(memory map[string]any) error {
	if memory == nil {
		memory = map[string]any{}
	}
	return s.writeDoc(MemoryFile, memory)
}

// Reset wipes the workspace and restores both documents to their defaults.
// It is idempotent.
func (s *Store) Reset() (string, error) {
	if s.workspace != nil {
		if err := s.workspace.Wipe(); err != nil {
			return "", fmt.Errorf("reset: %w", err)
		}
	}
	if err := s.writeDoc(ManifestFile, DefaultManifest()); err != nil {
		return "", fmt.Errorf("reset: %w", err)
	}
	if err := s.writeDoc(MemoryFile, DefaultMemory()); err != nil {
		return "", fmt.Errorf("reset: %w", err)
	}
	s.logger.Info("project memory reset", zap.String("root", s.root))
	return ResetMessage, nil
}

// writeDoc writes through a temp file and rename so readers never see a
// partial document.
func (s *Store) writeDoc(name string, doc map[string]any) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.root, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(s.root, name))
}
