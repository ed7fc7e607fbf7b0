// Package registry tracks the modules installed on this machine.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

var (
	ErrInvalidModule = errors.New("registry: invalid module archive")
	ErrDuplicate     = errors.New("registry: module already installed")
)

// Descriptor describes one installed module.
type Descriptor struct {
	ID          string
	Version     string
	Name        string
	Description string
	Path        string
}

func (d Descriptor) String() string { return d.ID + ":" + d.Version }

// Registry is what the join handshake needs from the module system.
type Registry interface {
	// Lookup reports whether id (matched case-insensitively) is installed
	// at version.
	Lookup(id, version string) bool
	// Install validates the archive at path and registers it.
	Install(path string) (Descriptor, error)
	// Uninstall forgets d. It does not touch the archive on disk.
	Uninstall(d Descriptor)
}

// Local is an in-memory registry of module archives on disk.
type Local struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	modules map[string][]Descriptor // lower-cased id
}

func NewLocal(logger zerolog.Logger) *Local {
	return &Local{
		logger:  logger.With().Str("component", "registry").Logger(),
		modules: make(map[string][]Descriptor),
	}
}

// Scan registers every *.jar archive directly inside dir. Archives that
// fail to load are logged and skipped. A missing dir is not an error.
func (l *Local) Scan(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".jar") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		d, err := l.Install(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("skipping module archive")
			continue
		}
		l.logger.Debug().Str("module", d.String()).Msg("found installed module")
	}
	return nil
}

func (l *Local) Lookup(id, version string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, d := range l.modules[strings.ToLower(id)] {
		if SameVersion(d.Version, version) {
			return true
		}
	}
	return false
}

func (l *Local) Install(path string) (Descriptor, error) {
	d, err := ReadDescriptor(path)
	if err != nil {
		return Descriptor{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToLower(d.ID)
	for _, existing := range l.modules[key] {
		if SameVersion(existing.Version, d.Version) {
			return Descriptor{}, fmt.Errorf("%w: %s", ErrDuplicate, d)
		}
	}
	l.modules[key] = append(l.modules[key], d)
	return d, nil
}

func (l *Local) Uninstall(d Descriptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToLower(d.ID)
	kept := l.modules[key][:0]
	for _, existing := range l.modules[key] {
		if !SameVersion(existing.Version, d.Version) {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(l.modules, key)
		return
	}
	l.modules[key] = kept
}

// Modules lists installed modules ordered by id then version.
func (l *Local) Modules() []Descriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Descriptor
	for _, ds := range l.modules {
		out = append(out, ds...)
	}
	sort.Slice(out, func(i, j int) bool {
		if a, b := strings.ToLower(out[i].ID), strings.ToLower(out[j].ID); a != b {
			return a < b
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// SameVersion compares two version strings, treating semver-equivalent
// spellings ("1.0", "v1.0.0") as equal.
func SameVersion(a, b string) bool {
	if a == b {
		return true
	}
	ca, cb := canonical(a), canonical(b)
	return ca != "" && ca == cb
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}
