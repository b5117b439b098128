// Package conflict reconciles pending file records against the real
// filesystem. Records pass through fixed stages: the force rule for reserved
// configuration filenames, per-directory override declarations, interactive
// conflict detection, status application, and finally the commit — the
// pipeline's only durable side effect.
package conflict

import (
	"bytes"
	"errors"
	"fmt"
	gopath "path"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/kiln-dev/kiln/internal/vfs"
)

// Action is a resolution assigned to a record.
type Action string

const (
	ActionSkip      Action = "skip"
	ActionForce     Action = "force"
	ActionWrite     Action = "write"
	ActionIdentical Action = "identical"
	ActionDiff      Action = "diff"
	ActionAbort     Action = "abort"
)

// AbortError is the fatal outcome of an interactive abort decision. It halts
// the whole pipeline, unlike a per-file skip.
type AbortError struct {
	Path string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("conflict: aborted while resolving %s", e.Path)
}

// Adapter is the interactive collaborator consulted for unresolved
// conflicts.
type Adapter interface {
	// PromptConflict asks for a decision on one conflicting record. Valid
	// answers are skip, force, diff and abort.
	PromptConflict(path string, state vfs.State) (Action, error)
	// RenderDiff produces a renderable diff between the on-disk and staged
	// contents.
	RenderDiff(old, new []byte) string
	// Log emits a message to the user.
	Log(msg string)
}

// Summary counts the terminal fates of a pipeline run.
type Summary struct {
	Committed int
	Skipped   int
	Identical int
}

// Pipeline resolves pending records into commit or skip decisions.
type Pipeline struct {
	disk      afero.Fs
	adapter   Adapter
	overrides *overrideCache
	logger    *log.Logger
	dryRun    bool
	force     map[string]struct{}
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithDryRun performs every stage except the commit.
func WithDryRun(dry bool) Option {
	return func(p *Pipeline) { p.dryRun = dry }
}

// WithLogger overrides the pipeline logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithForceFiles replaces the reserved filenames that bypass all checks.
func WithForceFiles(names ...string) Option {
	return func(p *Pipeline) {
		p.force = make(map[string]struct{}, len(names))
		for _, name := range names {
			p.force[name] = struct{}{}
		}
	}
}

// defaultForceFiles are the orchestrator's own configuration files; they are
// always committed so a generator cannot strand its host half-configured.
var defaultForceFiles = []string{".kilnrc.yaml", ".kilnrc.yml", OverrideFileName}

// New builds a pipeline over the real filesystem and an interactive adapter.
func New(disk afero.Fs, adapter Adapter, opts ...Option) *Pipeline {
	p := &Pipeline{
		disk:      disk,
		adapter:   adapter,
		overrides: newOverrideCache(disk),
		logger:    log.Default(),
	}
	WithForceFiles(defaultForceFiles...)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve runs every pending record through the stages and commits the
// survivors. An abort decision halts everything and returns an AbortError.
func (p *Pipeline) Resolve(records []*vfs.Record) (Summary, error) {
	var summary Summary
	for _, rec := range records {
		if rec.State == vfs.StateCommitted {
			continue
		}
		action, err := p.resolveRecord(rec)
		if err != nil {
			return summary, err
		}
		switch action {
		case ActionSkip:
			rec.Clear()
			summary.Skipped++
			p.logger.Debug("skipped", "path", rec.Path)
		case ActionIdentical:
			rec.Clear()
			summary.Identical++
			p.logger.Debug("identical", "path", rec.Path)
		default:
			rec.StripTransient()
			if err := p.commit(rec); err != nil {
				return summary, err
			}
			summary.Committed++
		}
	}
	return summary, nil
}

// resolveRecord runs stages 1-3 for a single record and returns its action.
func (p *Pipeline) resolveRecord(rec *vfs.Record) (Action, error) {
	// Stage 1: reserved configuration filenames are committed
	// unconditionally.
	if _, reserved := p.force[gopath.Base(rec.Path)]; reserved {
		rec.Forced = true
		rec.Resolution = string(ActionForce)
		return ActionForce, nil
	}

	// Stage 2: per-directory override declarations.
	if action, ok := p.overrides.Lookup(rec.Path); ok {
		rec.Resolution = string(action)
		if action == ActionForce {
			rec.Forced = true
		}
		return action, nil
	}

	// Stage 3: compare against disk, prompting on real conflicts.
	switch p.compare(rec) {
	case comparisonMissing:
		if rec.State == vfs.StateDeleted {
			// Deleting what is not there is a no-op.
			return ActionIdentical, nil
		}
		return ActionWrite, nil
	case comparisonIdentical:
		return ActionIdentical, nil
	}
	for {
		decision, err := p.adapter.PromptConflict(rec.Path, rec.State)
		if err != nil {
			return "", fmt.Errorf("conflict: prompt for %s: %w", rec.Path, err)
		}
		switch decision {
		case ActionSkip:
			rec.Resolution = string(ActionSkip)
			return ActionSkip, nil
		case ActionForce:
			rec.Resolution = string(ActionForce)
			rec.Forced = true
			return ActionForce, nil
		case ActionAbort:
			return "", &AbortError{Path: rec.Path}
		case ActionDiff:
			disk, _ := afero.ReadFile(p.disk, rec.Path)
			p.adapter.Log(p.adapter.RenderDiff(disk, rec.Contents))
		default:
			return "", fmt.Errorf("conflict: adapter returned unknown decision %q for %s", decision, rec.Path)
		}
	}
}

type comparison int

const (
	comparisonMissing comparison = iota
	comparisonIdentical
	comparisonDiffers
)

// compare classifies a record against its on-disk counterpart. Binary
// contents are compared by size and modification time instead of a full
// diff.
func (p *Pipeline) compare(rec *vfs.Record) comparison {
	info, err := p.disk.Stat(rec.Path)
	if err != nil {
		return comparisonMissing
	}
	if rec.State == vfs.StateDeleted {
		return comparisonDiffers
	}
	if info.IsDir() {
		return comparisonDiffers
	}
	disk, err := afero.ReadFile(p.disk, rec.Path)
	if err != nil {
		return comparisonDiffers
	}
	if isBinary(rec.Contents) || isBinary(disk) {
		if int64(len(rec.Contents)) != info.Size() {
			return comparisonDiffers
		}
		if !rec.StagedAt.IsZero() && info.ModTime().After(rec.StagedAt) {
			return comparisonDiffers
		}
		return comparisonIdentical
	}
	if bytes.Equal(disk, rec.Contents) {
		return comparisonIdentical
	}
	return comparisonDiffers
}

// commit persists one surviving record to the real filesystem.
func (p *Pipeline) commit(rec *vfs.Record) error {
	if p.dryRun {
		p.logger.Info("dry run", "path", rec.Path, "state", rec.State)
		rec.State = vfs.StateCommitted
		return nil
	}
	if rec.State == vfs.StateDeleted {
		if err := p.disk.RemoveAll(rec.Path); err != nil {
			return fmt.Errorf("conflict: delete %s: %w", rec.Path, err)
		}
		rec.State = vfs.StateCommitted
		rec.Contents = nil
		return nil
	}
	if dir := gopath.Dir(rec.Path); dir != "." && dir != "/" {
		if err := p.disk.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("conflict: ensure %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(p.disk, rec.Path, rec.Contents, 0o644); err != nil {
		return fmt.Errorf("conflict: write %s: %w", rec.Path, err)
	}
	rec.State = vfs.StateCommitted
	return nil
}

// isBinary reports whether content looks like binary data: a NUL byte in the
// leading window.
func isBinary(content []byte) bool {
	window := content
	if len(window) > 8000 {
		window = window[:8000]
	}
	return bytes.IndexByte(window, 0) >= 0
}

// IsAbort reports whether err is (or wraps) a pipeline abort.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}
