// Package orchestrator composes the engine: namespace aliases feed the
// registry, the registry feeds instantiation, instantiation feeds the
// composed store and the scheduler, and the scheduler's terminal stage
// drives the conflict pipeline. The orchestrator itself is glue; each
// subsystem is owned explicitly, never shared through ambient state.
package orchestrator

import (
	"context"
	"fmt"
	"reflect"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/kiln-dev/kiln/internal/config"
	"github.com/kiln-dev/kiln/internal/conflict"
	"github.com/kiln-dev/kiln/internal/generator"
	"github.com/kiln-dev/kiln/internal/logging"
	"github.com/kiln-dev/kiln/internal/namespace"
	"github.com/kiln-dev/kiln/internal/pm"
	"github.com/kiln-dev/kiln/internal/queue"
	"github.com/kiln-dev/kiln/internal/registry"
	"github.com/kiln-dev/kiln/internal/store"
	"github.com/kiln-dev/kiln/internal/terminal"
	"github.com/kiln-dev/kiln/internal/vfs"
)

const (
	commitOnceKey  = "kiln:commit"
	installOnceKey = "kiln:install"
)

// NotFoundError reports an unknown namespace together with the package name
// the resolver expected to find on disk.
type NotFoundError struct {
	Lookup string
	Hint   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("orchestrator: generator %q not found (expected package %q)", e.Lookup, e.Hint)
}

// Env is one orchestrator run environment.
type Env struct {
	cfg      *config.Config
	root     string
	aliases  *namespace.Aliases
	registry *registry.Registry
	store    *store.Store
	sched    *queue.Scheduler
	files    *vfs.FS
	adapter  *terminal.Adapter
	pipeline *conflict.Pipeline
	runner   pm.Runner
	logger   *log.Logger
	runLog   *logging.Logger
	dryRun   bool
	install  bool

	summary conflict.Summary
}

// Option customizes an Env during construction.
type Option func(*Env)

// WithAdapter replaces the interactive terminal adapter.
func WithAdapter(adapter *terminal.Adapter) Option {
	return func(e *Env) { e.adapter = adapter }
}

// WithBaseFs replaces the real filesystem (rooted at the project dir).
func WithBaseFs(base afero.Fs) Option {
	return func(e *Env) { e.files = vfs.New(base) }
}

// WithRunner replaces the package-manager runner.
func WithRunner(runner pm.Runner) Option {
	return func(e *Env) { e.runner = runner }
}

// WithLoader shares a module-load cache with another orchestrator. The cache
// is idempotent: loading the same location twice yields the same exports.
func WithLoader(loader *registry.Loader) Option {
	return func(e *Env) { e.registry = registry.New(loader) }
}

// WithDryRun performs every stage except filesystem commits and installs.
func WithDryRun(dry bool) Option {
	return func(e *Env) { e.dryRun = dry }
}

// WithInstall toggles the package-manager install stage.
func WithInstall(install bool) Option {
	return func(e *Env) { e.install = install }
}

// New composes an environment for a project configuration.
func New(cfg *config.Config, opts ...Option) (*Env, error) {
	e := &Env{
		cfg:     cfg,
		root:    cfg.ProjectDir,
		aliases: namespace.NewAliases(),
		sched:   queue.New(),
		install: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.adapter == nil {
		e.adapter = terminal.New()
	}
	e.logger = e.adapter.Logger()
	if e.registry == nil {
		e.registry = registry.New(nil)
	}
	e.store = store.New(e.logger)
	if e.files == nil {
		base := afero.NewOsFs()
		if e.root != "" {
			base = afero.NewBasePathFs(base, e.root)
		}
		e.files = vfs.New(base)
	}
	if e.runner == nil {
		e.runner = pm.NewExecRunner(e.logger, nil, nil)
	}
	e.pipeline = conflict.New(e.files.Base(), e.adapter,
		conflict.WithLogger(e.logger), conflict.WithDryRun(e.dryRun))
	for _, alias := range e.cfg.Aliases {
		if err := e.aliases.Add(alias.Match, alias.Replacement); err != nil {
			return nil, err
		}
	}
	if e.cfg.LogFile && e.root != "" {
		if runLog, err := logging.New(e.root); err == nil {
			e.runLog = runLog
		}
	}
	return e, nil
}

// Registry exposes the generator registry for inspection commands.
func (e *Env) Registry() *registry.Registry { return e.registry }

// Aliases exposes the namespace rewrite table.
func (e *Env) Aliases() *namespace.Aliases { return e.aliases }

// Store exposes the composed-instance store.
func (e *Env) Store() *store.Store { return e.store }

// Scheduler exposes the run queue; generators may enqueue follow-up work.
func (e *Env) Scheduler() *queue.Scheduler { return e.sched }

// Files exposes the staging filesystem.
func (e *Env) Files() *vfs.FS { return e.files }

// Close releases the run log.
func (e *Env) Close() error {
	return e.runLog.Close()
}

// Register records a generator file under an explicit namespace, or one
// derived from its path when nsStr is empty.
func (e *Env) Register(location, nsStr string) (namespace.Namespace, error) {
	var ns namespace.Namespace
	if nsStr == "" {
		derived, ok := namespace.Derive(location, e.cfg.LookupPrefixes)
		if !ok {
			return ns, fmt.Errorf("orchestrator: cannot derive a namespace from %q", location)
		}
		ns = derived
	} else {
		parsed, err := namespace.Parse(nsStr)
		if err != nil {
			return ns, err
		}
		ns = parsed
	}
	e.registry.Register(ns, location)
	e.registry.IndexPackage(namespace.Namespace{Scope: ns.Scope, Unscoped: ns.Unscoped}, location)
	e.runLog.Printf("registered %s -> %s", ns.Format(), location)
	return ns, nil
}

// RegisterStub records a concrete factory under a namespace.
func (e *Env) RegisterStub(nsStr string, factory registry.Factory) (namespace.Namespace, error) {
	ns, err := namespace.Parse(nsStr)
	if err != nil {
		return ns, err
	}
	e.registry.RegisterStub(ns, factory)
	return ns, nil
}

// Get resolves a lookup string through the alias table and returns the
// registered metadata. Unknown namespaces yield a NotFoundError carrying the
// expected package name.
func (e *Env) Get(name string) (*registry.Metadata, error) {
	resolved := e.aliases.Resolve(name)
	ns, err := namespace.Parse(resolved)
	if err != nil {
		return nil, err
	}
	meta := e.registry.Lookup(ns)
	if meta == nil {
		return nil, &NotFoundError{Lookup: resolved, Hint: ns.GeneratorHint()}
	}
	return meta, nil
}

// Instantiate resolves the constructor for a namespace and registers the
// instance in the composed store. When the store already holds an instance
// for the identity, the existing one is returned and the fresh construction
// is discarded.
func (e *Env) Instantiate(ns namespace.Namespace, options map[string]any) (generator.Generator, store.AddResult, error) {
	factory, err := e.registry.Resolve(ns)
	if err != nil {
		return nil, store.AddResult{}, err
	}
	if factory == nil {
		return nil, store.AddResult{}, &NotFoundError{Lookup: ns.Format(), Hint: ns.GeneratorHint()}
	}
	gctx := &generator.Context{
		Namespace: ns,
		Root:      e.root,
		Options:   options,
		FS:        e.files,
		Logger:    e.logger,
	}
	inst, err := factory(gctx)
	if err != nil {
		return nil, store.AddResult{}, err
	}
	result := e.store.Add(ns, e.root, inst)
	if !result.Added {
		e.logger.Debug("reusing live instance", "identifier", result.Identifier)
	}
	return result.Instance, result, nil
}

// Run instantiates the named generators, drains the lifecycle queue and
// returns the commit summary. The terminal future of the run settles with
// the first task error or pipeline abort.
func (e *Env) Run(ctx context.Context, names []string, options map[string]any) (conflict.Summary, error) {
	e.summary = conflict.Summary{}
	for _, name := range names {
		meta, err := e.Get(name)
		if err != nil {
			return e.summary, err
		}
		inst, _, err := e.Instantiate(meta.Namespace, options)
		if err != nil {
			return e.summary, err
		}
		run := inst.Run
		if _, err := e.sched.Submit("default", func(ctx context.Context, _ *queue.TaskContext) error {
			return run(ctx)
		}); err != nil {
			return e.summary, err
		}
	}
	if err := e.scheduleCommit(); err != nil {
		return e.summary, err
	}
	if err := e.scheduleInstall(); err != nil {
		return e.summary, err
	}
	if _, err := e.sched.Submit("end", func(context.Context, *queue.TaskContext) error {
		// Files staged after the conflicts pass, e.g. by a custom install
		// feature, still go through the pipeline.
		if e.files.Dirty() {
			if err := e.flushPending(); err != nil {
				return err
			}
		}
		e.logger.Info("run finished",
			"committed", e.summary.Committed,
			"skipped", e.summary.Skipped,
			"identical", e.summary.Identical)
		e.runLog.Printf("run finished: %d committed, %d skipped, %d identical",
			e.summary.Committed, e.summary.Skipped, e.summary.Identical)
		return nil
	}); err != nil {
		return e.summary, err
	}
	e.runLog.Printf("run start: %v", names)
	err := e.sched.Run(ctx)
	return e.summary, err
}

// scheduleCommit registers the once-collapsed commit task. After a commit it
// re-arms itself; the re-armed task only does work again when the staging
// filesystem reports new mutations.
func (e *Env) scheduleCommit() error {
	_, err := e.sched.Submit("conflicts", e.commitTask(false), queue.Once(commitOnceKey))
	return err
}

func (e *Env) commitTask(rearmed bool) queue.Work {
	return func(ctx context.Context, tc *queue.TaskContext) error {
		if rearmed && !e.files.Dirty() {
			return nil
		}
		if err := e.flushPending(); err != nil {
			return err
		}
		_, err := tc.Rearm(e.commitTask(true))
		return err
	}
}

// flushPending resolves every pending record through the pipeline and folds
// the outcome into the run summary.
func (e *Env) flushPending() error {
	records := e.files.Pending()
	e.files.ClearDirty()
	if len(records) == 0 {
		return nil
	}
	sum, err := e.pipeline.Resolve(records)
	e.summary.Committed += sum.Committed
	e.summary.Skipped += sum.Skipped
	e.summary.Identical += sum.Identical
	return err
}

// scheduleInstall queues the dependency install. A generator-declared
// "install" singleton feature overrides the default package-manager run.
func (e *Env) scheduleInstall() error {
	if !e.install || e.dryRun {
		return nil
	}
	_, err := e.sched.Submit("install", func(ctx context.Context, _ *queue.TaskContext) error {
		if custom, ok := e.store.FindSingletonFeature("install"); ok {
			return callInstallFeature(ctx, custom)
		}
		if e.summary.Committed == 0 {
			return nil
		}
		return e.runner.Install(ctx, e.cfg.PackageManager, e.root)
	}, queue.Once(installOnceKey))
	return err
}

// callInstallFeature invokes a custom install behavior. Loaded generators
// contribute these through the interpreter, so the value is adapted by
// shape: func(context.Context) error, func() error or func().
func callInstallFeature(ctx context.Context, feature any) error {
	switch fn := feature.(type) {
	case func(context.Context) error:
		return fn(ctx)
	case func() error:
		return fn()
	case func():
		fn()
		return nil
	}
	v := reflect.ValueOf(feature)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("orchestrator: install feature %T is not callable", feature)
	}
	var args []reflect.Value
	if v.Type().NumIn() == 1 {
		args = []reflect.Value{reflect.ValueOf(ctx)}
	}
	for _, out := range v.Call(args) {
		if err, ok := out.Interface().(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// Compose spawns a nested environment for a sub-run: independent scheduler
// and store, shared module-load cache, staging filesystem and adapter.
func (e *Env) Compose() (*Env, error) {
	sub := &Env{
		cfg:      e.cfg,
		root:     e.root,
		aliases:  e.aliases,
		registry: registry.New(e.registry.Loader()),
		store:    store.New(e.logger),
		sched:    queue.New(),
		files:    e.files,
		adapter:  e.adapter,
		pipeline: e.pipeline,
		runner:   e.runner,
		logger:   e.logger,
		runLog:   e.runLog,
		dryRun:   e.dryRun,
		install:  e.install,
	}
	return sub, nil
}
