// Package vfs stages generator output in memory until the conflict pipeline
// commits it. Writes and deletes accumulate as pending records; nothing
// touches the real filesystem until a record survives conflict resolution.
package vfs

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// State tracks where a record sits in its lifecycle.
type State string

const (
	StateNew       State = "new"
	StateModified  State = "modified"
	StateDeleted   State = "deleted"
	StateCommitted State = "committed"
)

// Record is one pending file change flowing through the conflict pipeline.
type Record struct {
	Path     string
	Contents []byte
	State    State
	// StagedAt is when the contents were last staged. Binary conflict
	// checks compare it against the on-disk modification time.
	StagedAt time.Time

	// Resolution is the action assigned by the conflict pipeline. It is a
	// transient field, stripped before commit.
	Resolution string
	// Forced marks the record as exempt from conflict checks.
	Forced bool
}

// Clear drops all pending state so the record is neither written nor counted
// as a change.
func (r *Record) Clear() {
	r.Contents = nil
	r.State = StateCommitted
	r.Resolution = ""
	r.Forced = false
}

// StripTransient removes the diagnostic fields attached during resolution.
func (r *Record) StripTransient() {
	r.Resolution = ""
	r.Forced = false
}

// FS is the staging filesystem handed to generators. It overlays an afero
// memory filesystem on the base (real) filesystem for reads, and tracks every
// mutation as a pending record.
type FS struct {
	mu      sync.Mutex
	mem     afero.Fs
	base    afero.Fs
	records map[string]*Record
	order   []string
	dirty   bool
}

// New builds a staging filesystem over the given base.
func New(base afero.Fs) *FS {
	return &FS{
		mem:     afero.NewMemMapFs(),
		base:    base,
		records: make(map[string]*Record),
	}
}

// Base exposes the underlying real filesystem (used by the commit stage).
func (f *FS) Base() afero.Fs {
	return f.base
}

// Read returns staged contents when present, falling back to the base
// filesystem. ok is false when the path exists in neither.
func (f *FS) Read(path string) ([]byte, bool) {
	path = normalize(path)
	f.mu.Lock()
	rec, staged := f.records[path]
	f.mu.Unlock()
	if staged {
		if rec.State == StateDeleted {
			return nil, false
		}
		if rec.State != StateCommitted {
			return append([]byte(nil), rec.Contents...), true
		}
	}
	data, err := afero.ReadFile(f.base, path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Exists reports whether a path is visible through the staging overlay.
func (f *FS) Exists(path string) bool {
	_, ok := f.Read(path)
	return ok
}

// Write stages contents for a path. The record state is "new" when the base
// filesystem has no such file, "modified" otherwise.
func (f *FS) Write(path string, contents []byte) error {
	path = normalize(path)
	if path == "" {
		return fmt.Errorf("vfs: empty path")
	}
	state := StateNew
	if exists, _ := afero.Exists(f.base, path); exists {
		state = StateModified
	}
	if err := afero.WriteFile(f.mem, path, contents, 0o644); err != nil {
		return fmt.Errorf("vfs: stage %s: %w", path, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[path]
	if !ok {
		rec = &Record{Path: path}
		f.records[path] = rec
		f.order = append(f.order, path)
	}
	rec.Contents = append([]byte(nil), contents...)
	rec.State = state
	rec.StagedAt = time.Now()
	f.dirty = true
	return nil
}

// Delete stages a deletion for a path.
func (f *FS) Delete(path string) error {
	path = normalize(path)
	if path == "" {
		return fmt.Errorf("vfs: empty path")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[path]
	if !ok {
		rec = &Record{Path: path}
		f.records[path] = rec
		f.order = append(f.order, path)
	}
	rec.Contents = nil
	rec.State = StateDeleted
	f.dirty = true
	return nil
}

// Pending returns the records that still await resolution, in first-write
// order.
func (f *FS) Pending() []*Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Record, 0, len(f.order))
	for _, path := range f.order {
		rec := f.records[path]
		if rec.State == StateCommitted {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Dirty reports whether any mutation happened since the last ClearDirty.
// The commit task consults this to decide whether a re-armed run has
// anything to do.
func (f *FS) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

// ClearDirty resets the mutation marker.
func (f *FS) ClearDirty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = false
}

func normalize(path string) string {
	if path == "" || path == "." {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(path))
}
