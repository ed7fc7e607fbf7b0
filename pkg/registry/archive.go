package registry

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// ManifestName is the metadata file every module archive carries at its root.
const ManifestName = "module.toml"

// Manifest is the content of ManifestName.
type Manifest struct {
	ID          string `toml:"id"`
	Version     string `toml:"version"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// ReadDescriptor opens the module archive at path and reads its manifest.
func ReadDescriptor(path string) (Descriptor, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: %v", ErrInvalidModule, path, err)
	}
	defer zr.Close()

	f, err := zr.Open(ManifestName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Descriptor{}, fmt.Errorf("%w: %s: missing %s", ErrInvalidModule, path, ManifestName)
		}
		return Descriptor{}, fmt.Errorf("%w: %s: %v", ErrInvalidModule, path, err)
	}
	defer f.Close()

	var m Manifest
	if _, err := toml.NewDecoder(f).Decode(&m); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: parse %s: %v", ErrInvalidModule, path, ManifestName, err)
	}
	m.ID = strings.TrimSpace(m.ID)
	m.Version = strings.TrimSpace(m.Version)
	if m.ID == "" || m.Version == "" {
		return Descriptor{}, fmt.Errorf("%w: %s: id and version are required", ErrInvalidModule, path)
	}
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return Descriptor{
		ID:          m.ID,
		Version:     m.Version,
		Name:        name,
		Description: m.Description,
		Path:        path,
	}, nil
}

// WriteArchive writes a minimal module archive holding m as its manifest
// plus the given extra files.
func WriteArchive(w io.Writer, m Manifest, files map[string][]byte) error {
	zw := zip.NewWriter(w)
	mf, err := zw.Create(ManifestName)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(mf).Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	for name, data := range files {
		fw, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := fw.Write(data); err != nil {
			return err
		}
	}
	return zw.Close()
}
