package registry

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kiln-dev/kiln/internal/generator"
)

const (
	factorySymbol = "NewGenerator"
	exportSymbol  = "Generator"
)

// LoadError reports a resolvable module that lacks a usable constructor.
type LoadError struct {
	Location string
	Reason   string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("registry: load %s: %s", e.Location, e.Reason)
}

// Module is one interpreted generator file. Loading is idempotent: the same
// location always yields the same symbol set.
type Module struct {
	Path   string
	interp *interp.Interpreter
	last   reflect.Value
}

// Symbol looks up a top-level symbol by name.
func (m *Module) Symbol(name string) (reflect.Value, bool) {
	v, err := m.interp.Eval(name)
	if err != nil || !v.IsValid() {
		return reflect.Value{}, false
	}
	return v, true
}

// Loader interprets generator modules and caches them by location. One
// loader may be shared by composed orchestrators.
type Loader struct {
	mu    sync.Mutex
	cache map[string]*Module
}

// NewLoader returns an empty module-load cache.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]*Module)}
}

// Load evaluates the generator file at path, reusing the cached result when
// the location was loaded before.
func (l *Loader) Load(path string) (*Module, error) {
	l.mu.Lock()
	if mod, ok := l.cache[path]; ok {
		l.mu.Unlock()
		return mod, nil
	}
	l.mu.Unlock()

	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, &LoadError{Location: path, Reason: "file is empty"}
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("registry: interpreter symbols: %w", err)
	}
	last, err := i.EvalPath(path)
	if err != nil {
		return nil, fmt.Errorf("registry: interpret %s: %w", path, err)
	}
	mod := &Module{Path: path, interp: i, last: last}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.cache[path]; ok {
		return cached, nil
	}
	l.cache[path] = mod
	return mod, nil
}

// constructorStrategies is the ordered fallback used to extract a usable
// constructor from a loaded module: an explicit factory function, then the
// conventional default export, then the last evaluated value itself. The
// first invocable candidate wins.
var constructorStrategies = []struct {
	name    string
	extract func(*Module) (reflect.Value, bool)
}{
	{"factory function", func(m *Module) (reflect.Value, bool) { return m.Symbol(factorySymbol) }},
	{"default export", func(m *Module) (reflect.Value, bool) { return m.Symbol(exportSymbol) }},
	{"module value", func(m *Module) (reflect.Value, bool) { return m.last, m.last.IsValid() }},
}

func extractConstructor(mod *Module) (reflect.Value, error) {
	for _, strategy := range constructorStrategies {
		candidate, ok := strategy.extract(mod)
		if !ok {
			continue
		}
		if candidate.Kind() == reflect.Func {
			return candidate, nil
		}
	}
	return reflect.Value{}, &LoadError{Location: mod.Path, Reason: "no invocable constructor found"}
}

// invokeConstructor calls the extracted constructor and adapts its result
// into a Generator. Constructors take either no arguments or the option map.
func invokeConstructor(location string, ctor reflect.Value, gctx *generator.Context) (generator.Generator, error) {
	t := ctor.Type()
	var args []reflect.Value
	switch t.NumIn() {
	case 0:
	case 1:
		opts := gctx.Options
		if opts == nil {
			opts = map[string]any{}
		}
		arg := reflect.ValueOf(opts)
		if !arg.Type().AssignableTo(t.In(0)) {
			return nil, &LoadError{Location: location, Reason: fmt.Sprintf("constructor argument must accept map[string]any, got %s", t.In(0))}
		}
		args = []reflect.Value{arg}
	default:
		return nil, &LoadError{Location: location, Reason: fmt.Sprintf("constructor takes %d arguments, want 0 or 1", t.NumIn())}
	}
	results := ctor.Call(args)
	if len(results) == 0 || len(results) > 2 {
		return nil, &LoadError{Location: location, Reason: "constructor must return (instance[, error])"}
	}
	if len(results) == 2 && !results[1].IsNil() {
		if err, ok := results[1].Interface().(error); ok {
			return nil, fmt.Errorf("registry: construct %s: %w", location, err)
		}
		return nil, &LoadError{Location: location, Reason: "constructor returned a non-error second value"}
	}
	return adaptInstance(location, results[0])
}

// adaptInstance turns a constructed value into a Generator. Strategies, in
// order: the value already implements Generator; a map exposing a "run"
// entry; a value exposing a Run method.
func adaptInstance(location string, v reflect.Value) (generator.Generator, error) {
	if !v.IsValid() {
		return nil, &LoadError{Location: location, Reason: "constructor returned nothing"}
	}
	raw := v.Interface()
	if gen, ok := raw.(generator.Generator); ok {
		return gen, nil
	}
	if m, ok := raw.(map[string]any); ok {
		return adaptMapInstance(location, m)
	}
	rv := reflect.ValueOf(raw)
	if run := rv.MethodByName("Run"); run.IsValid() {
		adapted := &loadedGenerator{run: wrapRunFunc(run)}
		if u := rv.MethodByName("UniqueBy"); u.IsValid() && u.Type().NumIn() == 0 && u.Type().NumOut() == 1 {
			if key, ok := u.Call(nil)[0].Interface().(string); ok {
				adapted.uniqueBy = key
			}
		}
		if g := rv.MethodByName("UniqueGlobally"); g.IsValid() && g.Type().NumIn() == 0 && g.Type().NumOut() == 1 {
			if global, ok := g.Call(nil)[0].Interface().(bool); ok {
				adapted.global = global
			}
		}
		if f := rv.MethodByName("Features"); f.IsValid() && f.Type().NumIn() == 0 && f.Type().NumOut() == 1 {
			if features, ok := f.Call(nil)[0].Interface().(map[string]any); ok {
				adapted.features = features
			}
		}
		return adapted, nil
	}
	return nil, &LoadError{Location: location, Reason: fmt.Sprintf("constructed %T is not a generator", raw)}
}

func adaptMapInstance(location string, m map[string]any) (generator.Generator, error) {
	runRaw, ok := m["run"]
	if !ok {
		return nil, &LoadError{Location: location, Reason: `constructed map lacks a "run" entry`}
	}
	run := reflect.ValueOf(runRaw)
	if run.Kind() != reflect.Func {
		return nil, &LoadError{Location: location, Reason: `"run" entry is not a function`}
	}
	if run.Type().NumIn() != 0 {
		return nil, &LoadError{Location: location, Reason: `"run" entry must take no arguments`}
	}
	adapted := &loadedGenerator{run: wrapRunFunc(run)}
	if key, ok := m["uniqueBy"].(string); ok {
		adapted.uniqueBy = key
	}
	if global, ok := m["uniqueGlobally"].(bool); ok {
		adapted.global = global
	}
	if features, ok := m["features"].(map[string]any); ok {
		adapted.features = features
	}
	return adapted, nil
}

// wrapRunFunc adapts run signatures func(), func() error and
// func(context.Context) error.
func wrapRunFunc(fn reflect.Value) func(context.Context) error {
	return func(ctx context.Context) error {
		t := fn.Type()
		var args []reflect.Value
		if t.NumIn() == 1 {
			args = []reflect.Value{reflect.ValueOf(ctx)}
		}
		for _, out := range fn.Call(args) {
			if err, ok := out.Interface().(error); ok && err != nil {
				return err
			}
		}
		return nil
	}
}

// loadedGenerator bridges an interpreted generator value into the compiled
// Generator contract.
type loadedGenerator struct {
	run      func(context.Context) error
	uniqueBy string
	global   bool
	features map[string]any
}

func (g *loadedGenerator) Run(ctx context.Context) error { return g.run(ctx) }
func (g *loadedGenerator) UniqueBy() string              { return g.uniqueBy }
func (g *loadedGenerator) UniqueGlobally() bool          { return g.global }
func (g *loadedGenerator) Features() map[string]any      { return g.features }
