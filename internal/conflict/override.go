package conflict

import (
	"fmt"
	gopath "path"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// OverrideFileName is the per-directory override-declaration file. One rule
// per line: "<glob>[ =]<action>", "#" starts a trailing comment, a leading
// "!" negates the glob, and the action defaults to skip when omitted.
const OverrideFileName = ".kilnresolve"

type overrideRule struct {
	pattern string
	negate  bool
	action  Action
}

type overrideFile struct {
	dir   string
	rules []overrideRule
}

// overrideCache walks directories upward looking for override declarations,
// parsing each discovered file at most once.
type overrideCache struct {
	fs    afero.Fs
	mu    sync.Mutex
	files map[string]*overrideFile // keyed by file path; nil entry = absent
}

func newOverrideCache(fs afero.Fs) *overrideCache {
	return &overrideCache{fs: fs, files: make(map[string]*overrideFile)}
}

// Lookup finds the action declared for a record path, consulting closer
// directories first. The first matching pattern wins and stops the search.
func (c *overrideCache) Lookup(recordPath string) (Action, bool) {
	dir := gopath.Dir(recordPath)
	for {
		if of := c.load(dir); of != nil {
			rel := recordPath
			if of.dir != "." {
				rel = strings.TrimPrefix(strings.TrimPrefix(recordPath, of.dir+"/"), "/")
			}
			for _, rule := range of.rules {
				matched, err := doublestar.Match(rule.pattern, rel)
				if err != nil {
					continue
				}
				if rule.negate {
					matched = !matched
				}
				if matched {
					return rule.action, true
				}
			}
		}
		parent := gopath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func (c *overrideCache) load(dir string) *overrideFile {
	path := gopath.Join(dir, OverrideFileName)
	c.mu.Lock()
	of, seen := c.files[path]
	c.mu.Unlock()
	if seen {
		return of
	}
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		// Absent override files are the common case, not an error.
		c.store(path, nil)
		return nil
	}
	of = &overrideFile{dir: dir, rules: parseOverrideRules(string(data))}
	c.store(path, of)
	return of
}

func (c *overrideCache) store(path string, of *overrideFile) {
	c.mu.Lock()
	c.files[path] = of
	c.mu.Unlock()
}

func parseOverrideRules(content string) []overrideRule {
	var rules []overrideRule
	for _, line := range strings.Split(content, "\n") {
		if hash := strings.IndexByte(line, '#'); hash >= 0 {
			line = line[:hash]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rule := overrideRule{action: ActionSkip}
		pattern := line
		if eq := strings.IndexByte(line, '='); eq >= 0 {
			pattern = strings.TrimSpace(line[:eq])
			rule.action = parseAction(strings.TrimSpace(line[eq+1:]))
		} else if fields := strings.Fields(line); len(fields) == 2 {
			pattern = fields[0]
			rule.action = parseAction(fields[1])
		}
		if strings.HasPrefix(pattern, "!") {
			rule.negate = true
			pattern = pattern[1:]
		}
		if pattern == "" {
			continue
		}
		rule.pattern = pattern
		rules = append(rules, rule)
	}
	return rules
}

// parseAction maps a declared action word onto a pipeline action. Anything
// unrecognized degrades to skip, the safe default.
func parseAction(word string) Action {
	switch Action(strings.ToLower(word)) {
	case ActionForce:
		return ActionForce
	case ActionSkip, "":
		return ActionSkip
	default:
		return ActionSkip
	}
}

func (r overrideRule) String() string {
	neg := ""
	if r.negate {
		neg = "!"
	}
	return fmt.Sprintf("%s%s=%s", neg, r.pattern, r.action)
}
