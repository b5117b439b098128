package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatRoundTrip(t *testing.T) {
	cases := []string{
		"app",
		"demo:app",
		"@scope/pkg",
		"@scope/pkg:sub",
		"@scope/pkg:sub:deep",
		"pkg@^1.2.0",
		"pkg@>=1.0.0 <2.0.0",
		"@scope/pkg:sub@^1.2@#id+m1+m2?",
		"pkg#*",
		"pkg#inst",
		"pkg+method",
		"pkg?",
		"@scope/pkg:sub#id",
	}
	for _, s := range cases {
		ns, err := Parse(s)
		require.NoError(t, err, "parse %q", s)
		assert.Equal(t, s, ns.Format(), "round trip %q", s)
	}
}

func TestParseFields(t *testing.T) {
	ns, err := Parse("@scope/pkg:sub#id")
	require.NoError(t, err)
	assert.Equal(t, "@scope", ns.Scope)
	assert.Equal(t, "pkg", ns.Unscoped)
	assert.Equal(t, []string{"sub"}, ns.GeneratorPath)
	assert.Equal(t, "id", ns.InstanceID)
	assert.Equal(t, "@scope/generator-pkg", ns.GeneratorHint())
}

func TestParseFullyQualified(t *testing.T) {
	ns, err := Parse("@scope/pkg:sub@^1.2@#id+m1+m2?")
	require.NoError(t, err)
	assert.Equal(t, "@scope", ns.Scope)
	assert.Equal(t, "pkg", ns.Unscoped)
	assert.Equal(t, []string{"sub"}, ns.GeneratorPath)
	assert.Equal(t, "^1.2", ns.SemverRange)
	assert.Equal(t, "id", ns.InstanceID)
	assert.Equal(t, []string{"m1", "m2"}, ns.Methods)
	assert.True(t, ns.Optional)
}

func TestParseRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"@scope",         // scope without package
		"@scope/",        // dangling separator
		"pkg:",           // empty generator segment
		"pkg@",           // empty semver range
		"pkg#",           // empty instance id
		"pkg+",           // empty method
		"pkg?extra",      // trailing garbage
		"Pkg",            // uppercase package
		"pkg!!",          // illegal characters
		".pkg",           // identifier cannot start with a dot
		"@scope/pkg@not a range@",
	}
	for _, s := range cases {
		_, err := Parse(s)
		require.Error(t, err, "parse %q", s)
		var ge *GrammarError
		assert.ErrorAs(t, err, &ge, "parse %q", s)
	}
}

func TestGeneratorHintWithoutScope(t *testing.T) {
	ns := MustParse("app:sub")
	assert.Equal(t, "generator-app", ns.GeneratorHint())
}

func TestMergeDoesNotMutateReceiver(t *testing.T) {
	base := MustParse("@scope/pkg:sub")
	patched := base.Merge(Namespace{InstanceID: "one", Methods: []string{"init"}})
	assert.Equal(t, "@scope/pkg:sub", base.Format())
	assert.Equal(t, "@scope/pkg:sub#one+init", patched.Format())
}

func TestIDStripsRuntimeFields(t *testing.T) {
	ns := MustParse("@scope/pkg:sub@^1.0@#id+run?")
	assert.Equal(t, "@scope/pkg:sub", ns.ID())
}

func TestDerive(t *testing.T) {
	cases := []struct {
		path     string
		prefixes []string
		want     string
	}{
		{"generator-app/generators/index.js", []string{"generators"}, "app"},
		{"generator-app/generators/sub/index.js", []string{"generators"}, "app:sub"},
		{"/home/u/proj/node_modules/generator-app/generators/sub/index.js", []string{"generators"}, "app:sub"},
		{"generator-app/lib/generators/sub/main.js", []string{"lib/generators", "generators"}, "app:sub"},
		{"@scope/generator-pkg/generators/sub/index.js", []string{"generators"}, "@scope/pkg:sub"},
		{"generators/@scope/generator-pkg/sub/index.js", []string{"generators"}, "@scope/pkg:sub"},
		{"generator-app\\generators\\sub\\index.js", []string{"generators"}, "app:sub"},
		{"generator-app/generators/sub/app.go", []string{"generators"}, "app:sub:app"},
	}
	for _, tc := range cases {
		ns, ok := Derive(tc.path, tc.prefixes)
		require.True(t, ok, "derive %q", tc.path)
		assert.Equal(t, tc.want, ns.Format(), "derive %q", tc.path)
	}
}

func TestDeriveDegenerate(t *testing.T) {
	for _, p := range []string{"", "/", "node_modules", "generators/index.js"} {
		_, ok := Derive(p, []string{"generators"})
		assert.False(t, ok, "derive %q", p)
	}
}

func TestDeriveIdempotent(t *testing.T) {
	ns, ok := Derive("node_modules/generator-app/generators/sub/index.js", []string{"generators"})
	require.True(t, ok)
	again, ok := Derive(ns.CanonicalPath(), nil)
	require.True(t, ok)
	assert.Equal(t, ns.Format(), again.Format())
}

func TestAliasReverseOrderComposition(t *testing.T) {
	a := NewAliases()
	require.NoError(t, a.Add("^app$", "demo:app"))
	require.NoError(t, a.Add("^demo", "sample"))
	// The later rule wins first, then earlier rules see the rewritten value.
	assert.Equal(t, "sample:app", a.Resolve("demo:app"))
	assert.Equal(t, "demo:app", a.Resolve("app"))
}

func TestAliasNoMatchPassesThrough(t *testing.T) {
	a := NewAliases()
	require.NoError(t, a.Add("^other$", "changed"))
	assert.Equal(t, "untouched", a.Resolve("untouched"))
}

func TestAliasLiteralFallback(t *testing.T) {
	a := NewAliases()
	require.NoError(t, a.Add("c++", "cpp"))
	assert.Equal(t, "cpp", a.Resolve("c++"))
	assert.Equal(t, "untouched", a.Resolve("untouched"))
}

func TestAliasRejectsEmptyPattern(t *testing.T) {
	a := NewAliases()
	assert.Error(t, a.Add("", "x"))
}
