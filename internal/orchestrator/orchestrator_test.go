package orchestrator

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-dev/kiln/internal/config"
	"github.com/kiln-dev/kiln/internal/conflict"
	"github.com/kiln-dev/kiln/internal/generator"
	"github.com/kiln-dev/kiln/internal/queue"
	"github.com/kiln-dev/kiln/internal/registry"
	"github.com/kiln-dev/kiln/internal/terminal"
)

type stubGen struct {
	run      func(ctx context.Context) error
	uniqueBy string
	features map[string]any
}

func (g *stubGen) Run(ctx context.Context) error {
	if g.run == nil {
		return nil
	}
	return g.run(ctx)
}

func (g *stubGen) UniqueBy() string         { return g.uniqueBy }
func (g *stubGen) Features() map[string]any { return g.features }

type recordingRunner struct {
	calls []string
}

func (r *recordingRunner) Install(_ context.Context, manager, dir string) error {
	r.calls = append(r.calls, manager+" "+dir)
	return nil
}

func newTestEnv(t *testing.T, base afero.Fs, opts ...Option) *Env {
	t.Helper()
	adapter := terminal.New(
		terminal.WithOutput(io.Discard),
		terminal.NonInteractive(conflict.ActionSkip),
	)
	all := append([]Option{
		WithBaseFs(base),
		WithAdapter(adapter),
		WithInstall(false),
	}, opts...)
	env, err := New(config.Default(""), all...)
	require.NoError(t, err)
	return env
}

func stubFactory(gen generator.Generator) registry.Factory {
	return func(*generator.Context) (generator.Generator, error) {
		return gen, nil
	}
}

func TestRunCommitsGeneratedFiles(t *testing.T) {
	base := afero.NewMemMapFs()
	env := newTestEnv(t, base)

	gen := &stubGen{}
	gen.run = func(context.Context) error {
		return env.Files().Write("src/app.txt", []byte("hello"))
	}
	_, err := env.RegisterStub("demo", stubFactory(gen))
	require.NoError(t, err)

	summary, err := env.Run(context.Background(), []string{"demo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Committed)

	data, err := afero.ReadFile(base, "src/app.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestRunCommitPicksUpLateWrites(t *testing.T) {
	base := afero.NewMemMapFs()
	env := newTestEnv(t, base)

	gen := &stubGen{}
	gen.run = func(context.Context) error {
		if err := env.Files().Write("first.txt", []byte("one")); err != nil {
			return err
		}
		// Queued behind the commit task in the same priority; the commit
		// must come back for it.
		_, err := env.Scheduler().Submit("conflicts", func(context.Context, *queue.TaskContext) error {
			return env.Files().Write("second.txt", []byte("two"))
		})
		return err
	}
	_, err := env.RegisterStub("demo", stubFactory(gen))
	require.NoError(t, err)

	summary, err := env.Run(context.Background(), []string{"demo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Committed)

	exists, _ := afero.Exists(base, "second.txt")
	assert.True(t, exists)
}

func TestRunEndTaskSettlesAfterCommit(t *testing.T) {
	base := afero.NewMemMapFs()
	env := newTestEnv(t, base)

	var order []string
	gen := &stubGen{run: func(context.Context) error {
		order = append(order, "run")
		return env.Files().Write("out.txt", []byte("x"))
	}}
	_, err := env.RegisterStub("demo", stubFactory(gen))
	require.NoError(t, err)

	future, err := env.Scheduler().Submit("end", func(context.Context, *queue.TaskContext) error {
		order = append(order, "end")
		return nil
	})
	require.NoError(t, err)

	_, err = env.Run(context.Background(), []string{"demo"}, nil)
	require.NoError(t, err)
	require.NoError(t, future.Await(context.Background()))
	assert.Equal(t, []string{"run", "end"}, order)
}

func TestGetUnknownNamespaceCarriesHint(t *testing.T) {
	env := newTestEnv(t, afero.NewMemMapFs())

	_, err := env.Get("@acme/thing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "@acme/generator-thing", nf.Hint)
}

func TestGetResolvesAliases(t *testing.T) {
	env := newTestEnv(t, afero.NewMemMapFs())
	require.NoError(t, env.Aliases().Add("^legacy$", "demo"))

	_, err := env.RegisterStub("demo", stubFactory(&stubGen{}))
	require.NoError(t, err)

	meta, err := env.Get("legacy")
	require.NoError(t, err)
	assert.Equal(t, "demo", meta.Namespace.Unscoped)
}

func TestInstantiateDeduplicatesOnDeclaredKey(t *testing.T) {
	env := newTestEnv(t, afero.NewMemMapFs())

	ns, err := env.RegisterStub("demo", func(*generator.Context) (generator.Generator, error) {
		return &stubGen{uniqueBy: "demo#fixed"}, nil
	})
	require.NoError(t, err)

	first, res1, err := env.Instantiate(ns, nil)
	require.NoError(t, err)
	require.True(t, res1.Added)

	second, res2, err := env.Instantiate(ns, nil)
	require.NoError(t, err)
	assert.False(t, res2.Added)
	assert.Same(t, first, second)
	assert.Equal(t, 1, env.Store().Len())
}

func TestInstantiateWithoutKeyAlwaysCoexists(t *testing.T) {
	env := newTestEnv(t, afero.NewMemMapFs())

	ns, err := env.RegisterStub("demo", func(*generator.Context) (generator.Generator, error) {
		return &stubGen{}, nil
	})
	require.NoError(t, err)

	_, res1, err := env.Instantiate(ns, nil)
	require.NoError(t, err)
	_, res2, err := env.Instantiate(ns, nil)
	require.NoError(t, err)
	assert.True(t, res1.Added)
	assert.True(t, res2.Added)
	assert.Equal(t, 2, env.Store().Len())
}

func TestInstallRunsDefaultRunnerAfterCommit(t *testing.T) {
	runner := &recordingRunner{}
	env := newTestEnv(t, afero.NewMemMapFs(), WithRunner(runner), WithInstall(true))

	gen := &stubGen{}
	gen.run = func(context.Context) error {
		return env.Files().Write("pkg.json", []byte("{}"))
	}
	_, err := env.RegisterStub("demo", stubFactory(gen))
	require.NoError(t, err)

	_, err = env.Run(context.Background(), []string{"demo"}, nil)
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "npm ", runner.calls[0])
}

func TestInstallSkippedWithoutChanges(t *testing.T) {
	runner := &recordingRunner{}
	env := newTestEnv(t, afero.NewMemMapFs(), WithRunner(runner), WithInstall(true))

	_, err := env.RegisterStub("demo", stubFactory(&stubGen{}))
	require.NoError(t, err)

	_, err = env.Run(context.Background(), []string{"demo"}, nil)
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestInstallFeatureOverridesRunner(t *testing.T) {
	runner := &recordingRunner{}
	env := newTestEnv(t, afero.NewMemMapFs(), WithRunner(runner), WithInstall(true))

	customCalled := false
	gen := &stubGen{features: map[string]any{
		"install": func() error {
			customCalled = true
			return nil
		},
	}}
	gen.run = func(context.Context) error {
		return env.Files().Write("pkg.json", []byte("{}"))
	}
	_, err := env.RegisterStub("demo", stubFactory(gen))
	require.NoError(t, err)

	_, err = env.Run(context.Background(), []string{"demo"}, nil)
	require.NoError(t, err)
	assert.True(t, customCalled)
	assert.Empty(t, runner.calls)
}

func TestFilesStagedDuringInstallStillCommit(t *testing.T) {
	base := afero.NewMemMapFs()
	runner := &recordingRunner{}
	env := newTestEnv(t, base, WithRunner(runner), WithInstall(true))

	gen := &stubGen{}
	gen.features = map[string]any{
		"install": func() error {
			return env.Files().Write("postinstall.txt", []byte("late"))
		},
	}
	gen.run = func(context.Context) error {
		return env.Files().Write("main.txt", []byte("x"))
	}
	_, err := env.RegisterStub("demo", stubFactory(gen))
	require.NoError(t, err)

	summary, err := env.Run(context.Background(), []string{"demo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Committed)

	exists, _ := afero.Exists(base, "postinstall.txt")
	assert.True(t, exists)
}

func TestDryRunTouchesNothing(t *testing.T) {
	base := afero.NewMemMapFs()
	env := newTestEnv(t, base, WithDryRun(true))

	gen := &stubGen{}
	gen.run = func(context.Context) error {
		return env.Files().Write("src/app.txt", []byte("hello"))
	}
	_, err := env.RegisterStub("demo", stubFactory(gen))
	require.NoError(t, err)

	summary, err := env.Run(context.Background(), []string{"demo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Committed)

	exists, _ := afero.Exists(base, "src/app.txt")
	assert.False(t, exists)
}

func TestRunGeneratorErrorAbortsDrain(t *testing.T) {
	env := newTestEnv(t, afero.NewMemMapFs())

	boom := errors.New("boom")
	_, err := env.RegisterStub("demo", stubFactory(&stubGen{run: func(context.Context) error {
		return boom
	}}))
	require.NoError(t, err)

	_, err = env.Run(context.Background(), []string{"demo"}, nil)
	require.ErrorIs(t, err, boom)
}

func TestRegisterDerivesNamespaceFromPath(t *testing.T) {
	env := newTestEnv(t, afero.NewMemMapFs())

	ns, err := env.Register("node_modules/@acme/generator-web/app/index.go", "")
	require.NoError(t, err)
	assert.Equal(t, "@acme/web:app", ns.Format())
	require.NotNil(t, env.Registry().Lookup(ns))
}

func TestComposeIsolatesStoreAndQueue(t *testing.T) {
	env := newTestEnv(t, afero.NewMemMapFs())

	ns, err := env.RegisterStub("demo", func(*generator.Context) (generator.Generator, error) {
		return &stubGen{uniqueBy: "demo#fixed"}, nil
	})
	require.NoError(t, err)
	_, _, err = env.Instantiate(ns, nil)
	require.NoError(t, err)

	sub, err := env.Compose()
	require.NoError(t, err)
	assert.NotSame(t, env.Store(), sub.Store())
	assert.NotSame(t, env.Scheduler(), sub.Scheduler())
	assert.Same(t, env.Files(), sub.Files())
	assert.Same(t, env.Registry().Loader(), sub.Registry().Loader())
	assert.Equal(t, 0, sub.Store().Len())
}

func TestLookupLocalDiscoversGenerators(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "generators/generator-demo/index.go", []byte("package main"), 0o644))
	require.NoError(t, afero.WriteFile(base, "generators/generator-demo/sub/main.go", []byte("package main"), 0o644))
	require.NoError(t, afero.WriteFile(base, "generators/generator-demo/sub/helper_test.go", []byte("package main"), 0o644))

	env := newTestEnv(t, base)
	found, err := env.LookupLocal()
	require.NoError(t, err)

	var names []string
	for _, ns := range found {
		names = append(names, ns.Format())
	}
	assert.Equal(t, []string{"demo", "demo:sub"}, names)
}
