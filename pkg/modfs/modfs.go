// Package modfs handles the on-disk side of module downloads: scratch files
// and placing finished archives inside the install directory.
package modfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrOutsideRoot = errors.New("modfs: path escapes install directory")
	ErrExists      = errors.New("modfs: destination already exists")
)

const scratchPattern = "joinclient-download-*.tmp"

// Scratch creates temporary download files and removes whatever is left of
// them on Cleanup.
type Scratch struct {
	dir string

	mu    sync.Mutex
	files map[string]struct{}
}

// NewScratch uses dir for temporary files; "" means os.TempDir().
func NewScratch(dir string) *Scratch {
	return &Scratch{dir: dir, files: make(map[string]struct{})}
}

func (s *Scratch) Create() (*os.File, error) {
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
	}
	f, err := os.CreateTemp(s.dir, scratchPattern)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	s.mu.Lock()
	s.files[f.Name()] = struct{}{}
	s.mu.Unlock()
	return f, nil
}

// Remove deletes one scratch file and stops tracking it.
func (s *Scratch) Remove(path string) error {
	s.mu.Lock()
	delete(s.files, path)
	s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Pending returns the scratch files not yet removed.
func (s *Scratch) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	return out
}

// Cleanup removes every tracked file. Best effort: the first error is
// returned but all files are attempted.
func (s *Scratch) Cleanup() error {
	var first error
	for _, p := range s.Pending() {
		if err := s.Remove(p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ModuleFileName is the canonical archive name for a module.
func ModuleFileName(id, version string) string {
	return fmt.Sprintf("%s-%s.jar", id, version)
}

// ResolveDestination joins name onto root and rejects any result that is
// not strictly inside root once cleaned.
func ResolveDestination(root, name string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve install dir: %w", err)
	}
	absRoot = filepath.Clean(absRoot)
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}
	dst := filepath.Join(absRoot, name)
	rel, err := filepath.Rel(absRoot, dst)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}
	return dst, nil
}

// Place moves the finished file at src to dst without ever replacing an
// existing file. A hard link is tried first; when that is not possible
// (different filesystem, unsupported) the bytes are copied into a file
// created exclusively.
func Place(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, dst)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}

	err := os.Link(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, dst)
	}
	return copyExclusive(src, dst)
}

func copyExclusive(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open download: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, dst)
		}
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close destination: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copy download: %w", err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("sync destination: %w", err)
	}
	return nil
}
