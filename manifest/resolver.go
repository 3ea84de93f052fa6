package manifest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ---------------------------------------------------------------------------
// Resolver: script identifier canonicalisation and lookup
// ---------------------------------------------------------------------------

// Resolver maps module identifiers, as scripts write them, onto canonical
// project-relative paths and on-disk files. Two identifiers name the same
// module exactly when they canonicalise to the same path.
type Resolver struct {
	m *Manifest
}

// NewResolver creates a resolver over the given manifest.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{m: m}
}

// Canonical normalises a module identifier: alias expansion, slash
// normalisation, default extension, and resolution of ./ and ../ against
// the referencing module's directory. currentPath is the canonical path
// of the referencing module and may be empty for project-root references.
func (r *Resolver) Canonical(target, currentPath string) string {
	if alias, ok := r.m.Aliases[target]; ok {
		target = alias
	}

	target = strings.ReplaceAll(target, `\`, "/")
	if path.Ext(target) == "" {
		target += r.m.Source.Extension
	}

	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		target = path.Join(path.Dir(filepath.ToSlash(currentPath)), target)
	}
	return path.Clean(target)
}

// Equal reports whether target names the module at currentPath.
func (r *Resolver) Equal(target, currentPath string) bool {
	return r.Canonical(target, currentPath) == r.Canonical(currentPath, "")
}

// Locate finds the script file for a canonical module path, searching the
// manifest's source directories in order.
func (r *Resolver) Locate(canonical string) (string, error) {
	rel := filepath.FromSlash(canonical)
	for _, dir := range r.m.SourceDirPaths() {
		full := filepath.Join(dir, rel)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return full, nil
		}
	}
	return "", fmt.Errorf("script %q not found in source dirs of %s", canonical, r.m.Dir)
}

// EntryPath returns the canonical path of the project's entry script.
func (r *Resolver) EntryPath() string {
	return r.Canonical(r.m.Source.Entry, "")
}
