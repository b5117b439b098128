// Package generator defines the contract a pluggable code unit must satisfy
// and the runtime context handed to it. How generator business logic is
// authored is out of scope; the orchestrator only cares about identity,
// lifecycle and declared capabilities.
package generator

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/kiln-dev/kiln/internal/namespace"
	"github.com/kiln-dev/kiln/internal/vfs"
)

// Generator is implemented by every live generator instance.
type Generator interface {
	Run(ctx context.Context) error
}

// Uniquely is an optional capability: a generator that declares its own
// uniqueness key is deduplicated on it instead of a synthesized key.
type Uniquely interface {
	UniqueBy() string
}

// GloballyUnique is an optional capability: the uniqueness key is enforced
// across every working root instead of per root.
type GloballyUnique interface {
	UniqueGlobally() bool
}

// Featured is an optional capability: the generator contributes singleton
// features (e.g. a custom install behavior) discoverable by name.
type Featured interface {
	Features() map[string]any
}

// Context carries shared runtime dependencies into a generator instance.
type Context struct {
	Namespace namespace.Namespace
	Root      string
	Options   map[string]any
	FS        *vfs.FS
	Logger    *log.Logger
}

// Clone returns a copy with independent option storage.
func (c *Context) Clone() *Context {
	clone := *c
	if len(c.Options) > 0 {
		clone.Options = make(map[string]any, len(c.Options))
		for k, v := range c.Options {
			clone.Options[k] = v
		}
	}
	return &clone
}

// Base provides common plumbing for generators built in Go (identity plus
// capability storage). Loaded generators are free to ignore it.
type Base struct {
	ns       namespace.Namespace
	root     string
	uniqueBy string
	global   bool
	features map[string]any
}

// NewBase seeds the helper from the instantiation context.
func NewBase(gctx *Context) Base {
	return Base{ns: gctx.Namespace, root: gctx.Root}
}

// Namespace returns the identity the generator was instantiated under.
func (b *Base) Namespace() namespace.Namespace { return b.ns }

// Root returns the working root the generator operates in.
func (b *Base) Root() string { return b.root }

// SetUniqueBy declares an explicit uniqueness key.
func (b *Base) SetUniqueBy(key string) { b.uniqueBy = key }

// UniqueBy implements Uniquely.
func (b *Base) UniqueBy() string { return b.uniqueBy }

// SetUniqueGlobally routes the uniqueness key through the global scope.
func (b *Base) SetUniqueGlobally(global bool) { b.global = global }

// UniqueGlobally implements GloballyUnique.
func (b *Base) UniqueGlobally() bool { return b.global }

// AddFeature declares a singleton feature by name.
func (b *Base) AddFeature(name string, value any) {
	if b.features == nil {
		b.features = make(map[string]any)
	}
	b.features[name] = value
}

// Features implements Featured.
func (b *Base) Features() map[string]any { return b.features }
