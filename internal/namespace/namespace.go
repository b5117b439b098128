// Package namespace implements the structured identity that addresses a
// generator: scope, package name, generator path, semver range, instance id,
// methods, and the optional flag. Values are immutable; derived variants are
// produced with Merge or the With helpers, never by mutating in place.
//
// The string grammar, all groups optional except the package name:
//
//	[@scope/]unscoped[:generator[:generator...]][@range[@]][#instance|#*][+method[+method...]][?]
package namespace

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Namespace is the parsed form of a generator address.
type Namespace struct {
	Scope         string
	Unscoped      string
	GeneratorPath []string
	SemverRange   string
	InstanceID    string
	Methods       []string
	Optional      bool

	// rangeClosed records whether the semver range carried a trailing "@"
	// delimiter in its source string, so Format can reproduce it.
	rangeClosed bool
}

// GrammarError reports a string that does not match the namespace grammar.
type GrammarError struct {
	Input  string
	Pos    int
	Reason string
}

func (e *GrammarError) Error() string {
	return fmt.Sprintf("namespace: cannot parse %q at offset %d: %s", e.Input, e.Pos, e.Reason)
}

// Parse decodes a namespace string. The whole input must match the grammar;
// any trailing garbage is a GrammarError.
func Parse(s string) (Namespace, error) {
	p := &parser{input: s}
	ns, err := p.run()
	if err != nil {
		return Namespace{}, err
	}
	return ns, nil
}

// MustParse is a convenience for namespaces known to be valid at compile time.
func MustParse(s string) Namespace {
	ns, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ns
}

// Format reconstructs the canonical string form. For any namespace produced
// by Parse, Format returns the original input.
func (n Namespace) Format() string {
	var b strings.Builder
	if n.Scope != "" {
		b.WriteString(n.Scope)
		b.WriteByte('/')
	}
	b.WriteString(n.Unscoped)
	for _, seg := range n.GeneratorPath {
		b.WriteByte(':')
		b.WriteString(seg)
	}
	if n.SemverRange != "" {
		b.WriteByte('@')
		b.WriteString(n.SemverRange)
		if n.rangeClosed {
			b.WriteByte('@')
		}
	}
	if n.InstanceID != "" {
		b.WriteByte('#')
		b.WriteString(n.InstanceID)
	}
	for _, m := range n.Methods {
		b.WriteByte('+')
		b.WriteString(m)
	}
	if n.Optional {
		b.WriteByte('?')
	}
	return b.String()
}

func (n Namespace) String() string { return n.Format() }

// ID returns the identity portion of the namespace: scope, package and
// generator path, without version, instance, methods or flags.
func (n Namespace) ID() string {
	base := Namespace{Scope: n.Scope, Unscoped: n.Unscoped, GeneratorPath: n.GeneratorPath}
	return base.Format()
}

// IsZero reports whether the namespace carries no identity at all.
func (n Namespace) IsZero() bool {
	return n.Unscoped == ""
}

// GeneratorHint returns the host package name the resolver is expected to
// find for this namespace, e.g. "@scope/generator-pkg".
func (n Namespace) GeneratorHint() string {
	if n.Scope != "" {
		return n.Scope + "/generator-" + n.Unscoped
	}
	return "generator-" + n.Unscoped
}

// Merge returns a copy of n with every non-zero field of patch applied.
func (n Namespace) Merge(patch Namespace) Namespace {
	out := n
	if patch.Scope != "" {
		out.Scope = patch.Scope
	}
	if patch.Unscoped != "" {
		out.Unscoped = patch.Unscoped
	}
	if len(patch.GeneratorPath) > 0 {
		out.GeneratorPath = append([]string(nil), patch.GeneratorPath...)
	}
	if patch.SemverRange != "" {
		out.SemverRange = patch.SemverRange
		out.rangeClosed = patch.rangeClosed
	}
	if patch.InstanceID != "" {
		out.InstanceID = patch.InstanceID
	}
	if len(patch.Methods) > 0 {
		out.Methods = append([]string(nil), patch.Methods...)
	}
	if patch.Optional {
		out.Optional = true
	}
	return out
}

// WithInstanceID returns a copy addressing one concrete instance.
func (n Namespace) WithInstanceID(id string) Namespace {
	out := n
	out.InstanceID = id
	return out
}

// parser is a hand-rolled scanner over the namespace grammar. Each step
// consumes one optional group in declaration order.
type parser struct {
	input string
	pos   int
}

func (p *parser) run() (Namespace, error) {
	var ns Namespace
	if p.peek() == '@' {
		p.pos++
		scope, err := p.ident("scope")
		if err != nil {
			return ns, err
		}
		if p.peek() != '/' {
			return ns, p.errf("expected %q after scope", "/")
		}
		p.pos++
		ns.Scope = "@" + scope
	}
	unscoped, err := p.ident("package name")
	if err != nil {
		return ns, err
	}
	ns.Unscoped = unscoped
	for p.peek() == ':' {
		p.pos++
		seg, err := p.ident("generator segment")
		if err != nil {
			return ns, err
		}
		ns.GeneratorPath = append(ns.GeneratorPath, seg)
	}
	if p.peek() == '@' {
		p.pos++
		rng := p.takeWhile(isRangeChar)
		if rng == "" {
			return ns, p.errf("empty semver range")
		}
		if _, err := semver.NewConstraint(rng); err != nil {
			return ns, p.errf("invalid semver range %q: %v", rng, err)
		}
		ns.SemverRange = rng
		if p.peek() == '@' {
			p.pos++
			ns.rangeClosed = true
		}
	}
	if p.peek() == '#' {
		p.pos++
		if p.peek() == '*' {
			p.pos++
			ns.InstanceID = "*"
		} else {
			id, err := p.ident("instance id")
			if err != nil {
				return ns, err
			}
			ns.InstanceID = id
		}
	}
	for p.peek() == '+' {
		p.pos++
		m := p.takeWhile(isMethodChar)
		if m == "" {
			return ns, p.errf("empty method name")
		}
		ns.Methods = append(ns.Methods, m)
	}
	if p.peek() == '?' {
		p.pos++
		ns.Optional = true
	}
	if p.pos != len(p.input) {
		return ns, p.errf("unexpected character %q", p.input[p.pos])
	}
	return ns, nil
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// ident consumes a restricted identifier: the first character excludes "."
// and "_", the remainder allows them.
func (p *parser) ident(what string) (string, error) {
	start := p.pos
	if !isIdentStart(p.peek()) {
		return "", p.errf("expected %s", what)
	}
	p.pos++
	for isIdentChar(p.peek()) {
		p.pos++
	}
	return p.input[start:p.pos], nil
}

func (p *parser) takeWhile(ok func(byte) bool) string {
	start := p.pos
	for p.pos < len(p.input) && ok(p.input[p.pos]) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) errf(format string, args ...any) error {
	return &GrammarError{Input: p.input, Pos: p.pos, Reason: fmt.Sprintf(format, args...)}
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '~'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c == '.' || c == '_'
}

// isRangeChar admits the extended charset used by semver range expressions,
// including spaces in hyphen and compound ranges.
func isRangeChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '~', '>', '<', '+', '=', '^', '*', ' ', '|':
		return true
	}
	return false
}

func isMethodChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
