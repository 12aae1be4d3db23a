// Package workspace is the sandboxed file store the stages read and write
// generated code through. Every path is confined to one root directory.
package workspace

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"
	"golang.org/x/text/encoding/charmap"
)

// ReadErrorMarker is substituted for content that cannot be decoded.
const ReadErrorMarker = "[FILE READ ERROR: %s]"

// Store is a file store confined to Root.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a store confined to it.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

// resolve maps a workspace-relative path to an absolute one, rejecting
// anything that lands outside the root lexically or through a symlink.
func (s *Store) resolve(op, p string) (string, error) {
	var full string
	if filepath.IsAbs(p) {
		full = filepath.Clean(p)
	} else {
		full = filepath.Join(s.root, p)
	}
	if !within(s.root, full) {
		return "", &PathError{Op: op, Path: p, Err: ErrAccessDenied}
	}
	// The nearest existing ancestor must also resolve inside the root.
	probe := full
	for {
		if _, err := os.Lstat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	if real, err := filepath.EvalSymlinks(probe); err == nil && !within(s.root, real) {
		return "", &PathError{Op: op, Path: p, Err: ErrAccessDenied}
	}
	return full, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Read returns the file's text. Invalid UTF-8 falls back to Latin-1; content
// that still cannot be decoded is replaced by ReadErrorMarker.
func (s *Store) Read(p string) (string, error) {
	full, err := s.resolve("read", p)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &PathError{Op: "read", Path: p, Err: ErrNotFound}
		}
		return "", &PathError{Op: "read", Path: p, Err: err}
	}
	if utf8.Valid(b) {
		return string(b), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return fmt.Sprintf(ReadErrorMarker, p), nil
	}
	return string(decoded), nil
}

// Write creates parent directories and writes content as UTF-8. Invalid
// sequences are replaced rather than rejected.
func (s *Store) Write(p, content string) error {
	full, err := s.resolve("write", p)
	if err != nil {
		return err
	}
	if full == s.root {
		return &PathError{Op: "write", Path: p, Err: errors.New("path is the workspace root")}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &PathError{Op: "write", Path: p, Err: err}
	}
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "�")
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return &PathError{Op: "write", Path: p, Err: err}
	}
	return nil
}

// List returns the files under dir ("" or "." for the root) as sorted,
// slash-separated paths relative to the root. Directories and the .git
// directory are never listed; a missing dir lists as empty.
func (s *Store) List(dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	full, err := s.resolve("list", dir)
	if err != nil {
		return nil, err
	}
	out := []string{}
	err = filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, &PathError{Op: "list", Path: dir, Err: err}
	}
	sort.Strings(out)
	return out, nil
}

// Wipe removes everything under the root except the .git directory.
func (s *Store) Wipe() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return os.MkdirAll(s.root, 0o755)
		}
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("wipe workspace: %w", err)
		}
	}
	return nil
}

// Fingerprint returns a short blake3 digest of the file's bytes.
func (s *Store) Fingerprint(p string) (string, error) {
	full, err := s.resolve("fingerprint", p)
	if err != nil {
		return "", err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &PathError{Op: "fingerprint", Path: p, Err: ErrNotFound}
		}
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}
