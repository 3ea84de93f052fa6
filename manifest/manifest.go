// Package manifest handles libretto.toml project configuration and script
// path resolution.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a libretto.toml project configuration.
type Manifest struct {
	Project Project           `toml:"project"`
	Source  Source            `toml:"source"`
	Aliases map[string]string `toml:"aliases"`
	Cache   CacheConfig       `toml:"cache"`

	// Dir is the directory containing the libretto.toml file (set at
	// load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures where scripts live and which one starts the story.
type Source struct {
	Dirs      []string `toml:"dirs"`
	Entry     string   `toml:"entry"`
	Extension string   `toml:"extension"`
}

// CacheConfig configures the compiled-module cache.
type CacheConfig struct {
	Path string `toml:"path"`
}

// Load parses a libretto.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "libretto.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a libretto.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "libretto.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Default creates an in-memory manifest for a bare script directory with
// no libretto.toml.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"."}
	}
	if m.Source.Extension == "" {
		m.Source.Extension = ".adv"
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main" + m.Source.Extension
	}
}

// SourceDirPaths returns absolute paths for the configured source
// directories.
func (m *Manifest) SourceDirPaths() []string {
	paths := make([]string, len(m.Source.Dirs))
	for i, dir := range m.Source.Dirs {
		if filepath.IsAbs(dir) {
			paths[i] = dir
			continue
		}
		paths[i] = filepath.Join(m.Dir, dir)
	}
	return paths
}

// CachePath returns the absolute path of the compile cache database, or
// empty when caching is not configured.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" {
		return ""
	}
	if filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}
