// Package store tracks live generator instances and enforces at-most-one
// instance per identity. Keys are scoped to a working root unless the
// instance declares global uniqueness.
package store

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/kiln-dev/kiln/internal/generator"
	"github.com/kiln-dev/kiln/internal/namespace"
)

// GlobalScope is the scope name shared by globally-unique instances.
const GlobalScope = "global"

// Entry is one live composed instance.
type Entry struct {
	Key        string
	Scope      string
	Identifier string
	Namespace  namespace.Namespace
	Root       string
	Instance   generator.Generator
}

// AddResult reports the outcome of an Add call. When Added is false the
// Instance field holds the pre-existing instance and the caller must discard
// the one it constructed.
type AddResult struct {
	Added      bool
	Identifier string
	Instance   generator.Generator
}

// Store is the composed-instance store. One orchestrator owns one store;
// composed sub-runs get a fresh one.
type Store struct {
	mu      sync.Mutex
	logger  *log.Logger
	entries map[string]map[string]*Entry
	order   []*Entry
}

// New returns an empty store.
func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		logger:  logger,
		entries: make(map[string]map[string]*Entry),
	}
}

// Add registers an instance under its uniqueness key. An explicit UniqueBy
// declaration wins; otherwise a key is synthesized from the namespace plus a
// random id, so undeclared instances always coexist.
func (s *Store) Add(ns namespace.Namespace, root string, inst generator.Generator) AddResult {
	key, identifier := uniquenessKey(ns, inst)
	scope := root
	if g, ok := inst.(generator.GloballyUnique); ok && g.UniqueGlobally() {
		scope = GlobalScope
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.entries[scope]
	if bucket == nil {
		bucket = make(map[string]*Entry)
		s.entries[scope] = bucket
	}
	if existing, ok := bucket[key]; ok {
		return AddResult{Added: false, Identifier: existing.Identifier, Instance: existing.Instance}
	}
	entry := &Entry{
		Key:        key,
		Scope:      scope,
		Identifier: identifier,
		Namespace:  ns,
		Root:       root,
		Instance:   inst,
	}
	bucket[key] = entry
	s.order = append(s.order, entry)
	return AddResult{Added: true, Identifier: identifier, Instance: inst}
}

// Get returns the entry stored under (scope, key), if any.
func (s *Store) Get(scope, key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[scope][key]
	return entry, ok
}

// Entries returns every live entry in insertion order.
func (s *Store) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Entry(nil), s.order...)
}

// Len reports how many instances are live.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// FindSingletonFeature scans live instances for a declared feature of that
// name. When several instances declare it, every provider is logged and the
// first-registered one is authoritative.
func (s *Store) FindSingletonFeature(name string) (any, bool) {
	s.mu.Lock()
	entries := append([]*Entry(nil), s.order...)
	s.mu.Unlock()

	var value any
	var providers []string
	for _, entry := range entries {
		featured, ok := entry.Instance.(generator.Featured)
		if !ok {
			continue
		}
		v, ok := featured.Features()[name]
		if !ok {
			continue
		}
		if len(providers) == 0 {
			value = v
		}
		providers = append(providers, entry.Identifier)
	}
	if len(providers) == 0 {
		return nil, false
	}
	if len(providers) > 1 {
		s.logger.Warn("multiple instances declare a singleton feature; using the first registered",
			"feature", name, "providers", providers)
	}
	return value, true
}

func uniquenessKey(ns namespace.Namespace, inst generator.Generator) (key, identifier string) {
	if u, ok := inst.(generator.Uniquely); ok {
		if declared := u.UniqueBy(); declared != "" {
			return declared, declared
		}
	}
	formatted := ns.Format()
	return formatted + "#" + uuid.NewString(), formatted
}
