package namespace

import (
	"fmt"
	"regexp"
)

// aliasRule is one registered rewrite. The pattern is a regular expression;
// plain strings act as literal substring matches.
type aliasRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Aliases is an ordered rewrite table for namespace lookup strings.
type Aliases struct {
	rules []aliasRule
}

// NewAliases returns an empty rewrite table.
func NewAliases() *Aliases {
	return &Aliases{}
}

// Add registers a rewrite rule. Rules are kept in insertion order; Resolve
// consults them newest first. Patterns that do not compile as regular
// expressions register as literal matches.
func (a *Aliases) Add(pattern, replacement string) error {
	if pattern == "" {
		return fmt.Errorf("namespace: alias pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
	}
	a.rules = append(a.rules, aliasRule{pattern: re, replacement: replacement})
	return nil
}

// Resolve applies the rewrite rules to name in reverse registration order.
// Each matching rule rewrites the cumulative result, so later-registered
// rules take precedence and rule chains compose.
func (a *Aliases) Resolve(name string) string {
	resolved := name
	for i := len(a.rules) - 1; i >= 0; i-- {
		rule := a.rules[i]
		if rule.pattern.MatchString(resolved) {
			resolved = rule.pattern.ReplaceAllString(resolved, rule.replacement)
		}
	}
	return resolved
}

// Len reports how many rules are registered.
func (a *Aliases) Len() int {
	return len(a.rules)
}

// Rules returns the registered (pattern, replacement) pairs in insertion
// order, for diagnostics.
func (a *Aliases) Rules() [][2]string {
	out := make([][2]string, len(a.rules))
	for i, rule := range a.rules {
		out[i] = [2]string{rule.pattern.String(), rule.replacement}
	}
	return out
}
