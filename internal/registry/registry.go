// Package registry maps namespaces to generator metadata and resolves
// constructors lazily: a registered location is not interpreted until the
// first Resolve call for its namespace.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kiln-dev/kiln/internal/generator"
	"github.com/kiln-dev/kiln/internal/namespace"
)

// Factory constructs a generator instance from the runtime context.
type Factory func(gctx *generator.Context) (generator.Generator, error)

// Sidecar is the optional generator.yaml next to a generator file,
// describing the unit without loading it.
type Sidecar struct {
	Name        string   `yaml:"name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Methods     []string `yaml:"methods,omitempty"`
}

// Metadata describes one registered generator. Entries are replaced whole on
// re-registration, never partially mutated.
type Metadata struct {
	Namespace   namespace.Namespace
	Location    string
	PackagePath string
	Sidecar     *Sidecar

	factory Factory
}

// Resolved reports whether a constructor has been bound yet.
func (m *Metadata) Resolved() bool { return m.factory != nil }

// Registry is the namespace-to-metadata store with lazy resolution and a
// package-path index.
type Registry struct {
	mu           sync.Mutex
	loader       *Loader
	entries      map[string]*Metadata
	order        []string
	packagePaths map[string][]string
}

// New builds a registry on top of a module loader. Passing a shared loader
// lets composed orchestrators reuse one load cache.
func New(loader *Loader) *Registry {
	if loader == nil {
		loader = NewLoader()
	}
	return &Registry{
		loader:       loader,
		entries:      make(map[string]*Metadata),
		packagePaths: make(map[string][]string),
	}
}

// Loader exposes the module-load cache for sharing with composed runs.
func (r *Registry) Loader() *Loader { return r.loader }

// Register records a lazily-loadable generator at the given location.
// Re-registering the same namespace with an identical location is a no-op;
// a different location replaces the entry.
func (r *Registry) Register(ns namespace.Namespace, location string) *Metadata {
	key := ns.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[key]; ok && existing.Location == location {
		return existing
	}
	meta := &Metadata{
		Namespace: ns,
		Location:  location,
		Sidecar:   loadSidecar(location),
	}
	r.insert(key, meta)
	return meta
}

// RegisterStub records a concrete factory, bypassing lazy loading. Used for
// generators built in Go and for tests.
func (r *Registry) RegisterStub(ns namespace.Namespace, factory Factory) *Metadata {
	key := ns.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	meta := &Metadata{Namespace: ns, factory: factory}
	r.insert(key, meta)
	return meta
}

func (r *Registry) insert(key string, meta *Metadata) {
	if _, ok := r.entries[key]; !ok {
		r.order = append(r.order, key)
	}
	r.entries[key] = meta
}

// Lookup returns the metadata for a namespace without any resolution side
// effect. Unknown namespaces return nil.
func (r *Registry) Lookup(ns namespace.Namespace) *Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[ns.ID()]
}

// Resolve returns the constructor for a namespace, loading the module on
// first use. Unknown namespaces return (nil, nil): callers decide whether
// that is fatal.
func (r *Registry) Resolve(ns namespace.Namespace) (Factory, error) {
	r.mu.Lock()
	meta, ok := r.entries[ns.ID()]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if meta.factory != nil {
		return meta.factory, nil
	}
	mod, err := r.loader.Load(meta.Location)
	if err != nil {
		return nil, err
	}
	ctor, err := extractConstructor(mod)
	if err != nil {
		return nil, err
	}
	location := meta.Location
	factory := Factory(func(gctx *generator.Context) (generator.Generator, error) {
		return invokeConstructor(location, ctor, gctx)
	})
	r.mu.Lock()
	meta.factory = factory
	r.mu.Unlock()
	return factory, nil
}

// Namespaces returns every registered namespace in insertion order.
func (r *Registry) Namespaces() []namespace.Namespace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]namespace.Namespace, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key].Namespace)
	}
	return out
}

// IndexPackage records that a package path contributes generators for a
// namespace prefix. The newest path moves to the front (it overrides at
// lookup time); older paths are retained for inspection.
func (r *Registry) IndexPackage(packageNS namespace.Namespace, path string) {
	key := packageNS.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := r.packagePaths[key]
	if len(paths) > 0 && paths[0] == path {
		return
	}
	filtered := make([]string, 0, len(paths)+1)
	filtered = append(filtered, path)
	for _, p := range paths {
		if p != path {
			filtered = append(filtered, p)
		}
	}
	r.packagePaths[key] = filtered
}

// PackagePaths returns the contributing package paths for a namespace
// prefix, most recently registered first.
func (r *Registry) PackagePaths(packageNS namespace.Namespace) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.packagePaths[packageNS.ID()]...)
}

// loadSidecar reads the generator.yaml next to a generator file. A missing
// or unreadable sidecar is simply absent.
func loadSidecar(location string) *Sidecar {
	if location == "" {
		return nil
	}
	path := filepath.Join(filepath.Dir(location), "generator.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var sc Sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil
	}
	return &sc
}

// String implements fmt.Stringer for diagnostics.
func (m *Metadata) String() string {
	if m.Location != "" {
		return fmt.Sprintf("%s (%s)", m.Namespace.Format(), m.Location)
	}
	return fmt.Sprintf("%s (stub)", m.Namespace.Format())
}
