package namespace

import (
	"path"
	"sort"
	"strings"
)

// packageRootMarker is the host module-resolution boundary. Everything up to
// and including its last occurrence in a path is irrelevant to the namespace.
const packageRootMarker = "node_modules"

// generatorPackagePrefix is stripped from the package segment so that the
// folder "generator-app" and the namespace "app" refer to the same thing.
const generatorPackagePrefix = "generator-"

// Derive computes the namespace addressed by a generator file path. The
// lookupPrefixes are directory chains (e.g. "lib/generators") that are
// removed wherever they appear as whole segments, longest chain first.
// Degenerate paths return ok=false.
func Derive(filePath string, lookupPrefixes []string) (Namespace, bool) {
	segs := splitSegments(filePath)
	if len(segs) == 0 {
		return Namespace{}, false
	}

	// Discard everything up to and including the last package-root marker.
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] == packageRootMarker {
			segs = segs[i+1:]
			break
		}
	}
	if len(segs) == 0 {
		return Namespace{}, false
	}

	// Strip the extension and collapse an index/main basename.
	last := len(segs) - 1
	base := segs[last]
	if dot := strings.LastIndexByte(base, '.'); dot > 0 {
		base = base[:dot]
	}
	if base == "index" || base == "main" || base == "" {
		segs = segs[:last]
	} else {
		segs[last] = base
	}

	segs = removePrefixChains(segs, lookupPrefixes)

	// Hoist a scope segment to the front, wherever it appears.
	scope := ""
	for i, seg := range segs {
		if strings.HasPrefix(seg, "@") {
			scope = seg
			segs = append(segs[:i], segs[i+1:]...)
			break
		}
	}
	if len(segs) == 0 {
		return Namespace{}, false
	}

	segs[0] = strings.TrimPrefix(segs[0], generatorPackagePrefix)

	var b strings.Builder
	if scope != "" {
		b.WriteString(scope)
		b.WriteByte('/')
	}
	b.WriteString(strings.Join(segs, ":"))
	ns, err := Parse(b.String())
	if err != nil {
		return Namespace{}, false
	}
	return ns, true
}

// CanonicalPath is the inverse direction of Derive: the relative file path a
// namespace would canonically live at.
func (n Namespace) CanonicalPath() string {
	parts := make([]string, 0, 2+len(n.GeneratorPath))
	if n.Scope != "" {
		parts = append(parts, n.Scope)
	}
	parts = append(parts, generatorPackagePrefix+n.Unscoped)
	parts = append(parts, n.GeneratorPath...)
	return path.Join(parts...)
}

func splitSegments(p string) []string {
	p = strings.ReplaceAll(p, "\\", "/")
	raw := strings.Split(p, "/")
	segs := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" || seg == "." {
			continue
		}
		segs = append(segs, seg)
	}
	return segs
}

// removePrefixChains deletes every occurrence of each configured prefix
// chain, trying longer chains before shorter ones so "lib/generators" wins
// over "generators".
func removePrefixChains(segs []string, prefixes []string) []string {
	if len(prefixes) == 0 {
		return segs
	}
	chains := make([][]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		chain := splitSegments(prefix)
		if len(chain) > 0 {
			chains = append(chains, chain)
		}
	}
	sort.SliceStable(chains, func(i, j int) bool { return len(chains[i]) > len(chains[j]) })
	for _, chain := range chains {
		segs = removeChain(segs, chain)
	}
	return segs
}

func removeChain(segs, chain []string) []string {
	out := segs[:0:0]
	for i := 0; i < len(segs); {
		if matchesChain(segs[i:], chain) {
			i += len(chain)
			continue
		}
		out = append(out, segs[i])
		i++
	}
	return out
}

func matchesChain(segs, chain []string) bool {
	if len(segs) < len(chain) {
		return false
	}
	for i, want := range chain {
		if segs[i] != want {
			return false
		}
	}
	return true
}
