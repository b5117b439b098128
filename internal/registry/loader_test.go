package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-dev/kiln/internal/generator"
	"github.com/kiln-dev/kiln/internal/namespace"
)

const factoryPluginSource = `package main

func NewGenerator(opts map[string]any) map[string]any {
	return map[string]any{
		"uniqueBy": "demo",
		"run":      func() error { return nil },
	}
}`

const exportPluginSource = `package main

var Generator = func() map[string]any {
	return map[string]any{
		"run": func() error { return nil },
	}
}`

const brokenPluginSource = `package main

var Generator = 42`

func writePlugin(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.go")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	return path
}

func TestResolveLoadsFactoryPlugin(t *testing.T) {
	path := writePlugin(t, factoryPluginSource)
	r := New(nil)
	ns := namespace.MustParse("demo:app")
	r.Register(ns, path)

	factory, err := r.Resolve(ns)
	require.NoError(t, err)
	require.NotNil(t, factory)

	gen, err := factory(&generator.Context{Namespace: ns})
	require.NoError(t, err)
	require.NoError(t, gen.Run(context.Background()))

	unique, ok := gen.(generator.Uniquely)
	require.True(t, ok)
	assert.Equal(t, "demo", unique.UniqueBy())
	assert.True(t, r.Lookup(ns).Resolved())
}

func TestResolveFallsBackToDefaultExport(t *testing.T) {
	path := writePlugin(t, exportPluginSource)
	r := New(nil)
	ns := namespace.MustParse("demo")
	r.Register(ns, path)

	factory, err := r.Resolve(ns)
	require.NoError(t, err)
	gen, err := factory(&generator.Context{Namespace: ns})
	require.NoError(t, err)
	require.NoError(t, gen.Run(context.Background()))
}

func TestResolveWithoutConstructorIsLoadError(t *testing.T) {
	path := writePlugin(t, brokenPluginSource)
	r := New(nil)
	ns := namespace.MustParse("demo")
	r.Register(ns, path)

	_, err := r.Resolve(ns)
	require.Error(t, err)
	var le *LoadError
	assert.True(t, errors.As(err, &le))
}

func TestLoaderCachesByLocation(t *testing.T) {
	path := writePlugin(t, factoryPluginSource)
	l := NewLoader()
	first, err := l.Load(path)
	require.NoError(t, err)
	second, err := l.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoaderRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.go")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	l := NewLoader()
	_, err := l.Load(path)
	var le *LoadError
	assert.True(t, errors.As(err, &le))
}
