package orchestrator

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/kiln-dev/kiln/internal/config"
	"github.com/kiln-dev/kiln/internal/namespace"
)

// LookupLocal walks the configured lookup prefixes plus the project's own
// .kiln/generators directory and registers every generator file it can derive
// a namespace for. The returned namespaces are sorted for stable output.
func (e *Env) LookupLocal() ([]namespace.Namespace, error) {
	prefixes := append([]string(nil), e.cfg.LookupPrefixes...)
	prefixes = append(prefixes, filepath.Join(config.KilnDir, "generators"))

	var found []namespace.Namespace
	for _, prefix := range prefixes {
		if exists, _ := afero.DirExists(e.files.Base(), prefix); !exists {
			continue
		}
		err := afero.Walk(e.files.Base(), prefix, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if skipDir(info.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !candidateFile(info.Name()) {
				return nil
			}
			ns, ok := namespace.Derive(path, prefixes)
			if !ok {
				return nil
			}
			e.registry.Register(ns, path)
			e.registry.IndexPackage(namespace.Namespace{Scope: ns.Scope, Unscoped: ns.Unscoped}, path)
			found = append(found, ns)
			e.runLog.Printf("discovered %s at %s", ns.Format(), path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Format() < found[j].Format() })
	return found, nil
}

func skipDir(name string) bool {
	switch name {
	case "testdata", ".git":
		return true
	}
	return strings.HasPrefix(name, "_")
}

func candidateFile(name string) bool {
	if !strings.HasSuffix(name, ".go") {
		return false
	}
	return !strings.HasSuffix(name, "_test.go")
}
