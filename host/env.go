// Package host wires the engine together for embedding applications: a
// filesystem Environment over a project manifest, a worker that serialises
// VM access, and a store of independent playthrough sessions.
package host

import (
	"context"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/sorane/libretto/compiler"
	"github.com/sorane/libretto/manifest"
	"github.com/sorane/libretto/store"
	"github.com/sorane/libretto/vm"
)

var log = commonlog.GetLogger("libretto.host")

// Env implements vm.Environment over a project directory: module
// identifiers canonicalise through the manifest resolver, and loads go
// through the compile cache when one is configured.
type Env struct {
	man   *manifest.Manifest
	res   *manifest.Resolver
	comp  *compiler.Compiler
	cache *store.Store
}

// NewEnv creates an environment for the given manifest, opening the
// compile cache if the manifest configures one.
func NewEnv(m *manifest.Manifest) (*Env, error) {
	e := &Env{
		man:  m,
		res:  manifest.NewResolver(m),
		comp: compiler.New(),
	}

	if path := m.CachePath(); path != "" {
		cache, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening compile cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Close releases the compile cache, if any.
func (e *Env) Close() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close()
}

// Compiler returns the environment's compiler, which also serves as the
// VM's fuser.
func (e *Env) Compiler() *compiler.Compiler { return e.comp }

// ModulePathEquals reports whether target names the module at currentPath.
func (e *Env) ModulePathEquals(ctx context.Context, target, currentPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return e.res.Equal(target, currentPath), nil
}

// LoadModule resolves, reads, and compiles the script named target,
// consulting the compile cache by content hash first.
func (e *Env) LoadModule(ctx context.Context, target, currentPath string) (*vm.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canonical := e.res.Canonical(target, currentPath)
	file, err := e.res.Locate(canonical)
	if err != nil {
		return nil, err
	}

	source, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading script %q: %w", canonical, err)
	}
	hash := store.Hash(source)

	if e.cache != nil {
		if mod := e.loadCached(canonical, hash); mod != nil {
			return mod, nil
		}
	}

	mod, err := e.comp.CompileModule(canonical, string(source))
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", canonical, err)
	}
	log.Debugf("compiled %q (%d instructions)", canonical, len(mod.Program()))

	if e.cache != nil {
		e.storeCached(canonical, hash, mod)
	}
	return mod, nil
}

// loadCached returns the cached module for hash, or nil on any miss.
// Corrupt entries are misses: the source is recompiled and the entry
// overwritten.
func (e *Env) loadCached(canonical string, hash [32]byte) *vm.Module {
	blob, ok, err := e.cache.Get(hash)
	if err != nil {
		log.Warningf("cache lookup for %q: %v", canonical, err)
		return nil
	}
	if !ok {
		return nil
	}
	program, err := store.UnmarshalProgram(blob)
	if err != nil {
		log.Warningf("corrupt cache entry for %q: %v", canonical, err)
		return nil
	}
	log.Debugf("cache hit for %q", canonical)
	return vm.NewModule(canonical, program)
}

// storeCached writes a freshly compiled module back to the cache. Cache
// write failures are logged and ignored.
func (e *Env) storeCached(canonical string, hash [32]byte, mod *vm.Module) {
	blob, err := store.MarshalProgram(mod.Program())
	if err != nil {
		log.Warningf("encoding %q for cache: %v", canonical, err)
		return
	}
	if err := e.cache.Put(hash, blob); err != nil {
		log.Warningf("caching %q: %v", canonical, err)
	}
}

// LoadEntry loads the project's entry script.
func (e *Env) LoadEntry(ctx context.Context) (*vm.Module, error) {
	return e.LoadModule(ctx, e.man.Source.Entry, "")
}

// NewVM loads the entry script and creates a VM positioned at its start.
// eval may be nil when the project's scripts contain no embedded code.
func (e *Env) NewVM(ctx context.Context, eval vm.Evaluator) (*vm.VM, error) {
	entry, err := e.LoadEntry(ctx)
	if err != nil {
		return nil, err
	}
	return vm.New(entry, e.comp, e, eval), nil
}
