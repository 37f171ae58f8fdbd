// Package scratch manages the scratch root: per-request directories,
// artifact paths and guarded deletion.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
)

// Scratch owns the configured scratch root. All staged files and artifacts
// live beneath it and only paths beneath it may be pruned.
type Scratch struct {
	root string
}

// New resolves and creates the scratch root.
func New(root string) (*Scratch, error) {
	if root == "" {
		return nil, &domain.ConfigError{Field: "convert.scratch_root", Message: "scratch root is required"}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, err
	}
	return &Scratch{root: abs}, nil
}

// Root returns the absolute scratch root.
func (s *Scratch) Root() string {
	return s.root
}

// NewRequestDir creates a fresh directory for one conversion request and
// returns its path.
func (s *Scratch) NewRequestDir() (string, error) {
	dir := filepath.Join(s.root, uuid.NewString())
	if err := os.Mkdir(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}

// Contains reports whether a path resolves to somewhere beneath the root.
func (s *Scratch) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Prune deletes a file or directory (recursively) beneath the scratch root.
// Paths outside the root are refused. Deleting an absent path is not an
// error. The root itself cannot be pruned.
func (s *Scratch) Prune(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !s.Contains(abs) || abs == s.root {
		return fmt.Errorf("%q: %w", path, domain.ErrOutsideScratchRoot)
	}
	return os.RemoveAll(abs)
}

// Usage walks the scratch root and returns the file count and total bytes.
func (s *Scratch) Usage() (int, int64, error) {
	var files int
	var bytes int64
	err := filepath.Walk(s.root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			// Entries can disappear mid-walk when a prune races the sweep.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		files++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return files, bytes, nil
}

// RequestDirs returns the absolute paths of all request directories with
// their modification times, oldest first ordering left to the caller.
func (s *Scratch) RequestDirs() ([]output.RequestDir, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	dirs := make([]output.RequestDir, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, output.RequestDir{
			Path:    filepath.Join(s.root, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	return dirs, nil
}
