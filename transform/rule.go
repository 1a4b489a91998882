package transform

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultInclude matches grammar files at any depth.
const DefaultInclude = "**/*.peggy"

// Rule decides which asset identifiers the plugin accepts.
//
// Patterns are doublestar globs over slash-separated paths. Identifiers
// under Root are matched relative to it; other absolute identifiers are
// matched with their leading separator removed.
type Rule struct {
	Include []string
	Exclude string
	Root    string
}

// DefaultRule accepts every grammar file and excludes nothing.
func DefaultRule() Rule {
	return Rule{Include: []string{DefaultInclude}}
}

// Validate checks that there is at least one include pattern and that every
// pattern is well formed.
func (r Rule) Validate() error {
	if len(r.Include) == 0 {
		return fmt.Errorf("at least one include pattern is required")
	}
	for _, pattern := range r.Include {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	if r.Exclude != "" && !doublestar.ValidatePattern(r.Exclude) {
		return fmt.Errorf("invalid exclude pattern %q", r.Exclude)
	}
	return nil
}

// Matches reports whether id is included and not excluded.
// It has no side effects.
func (r Rule) Matches(id string) bool {
	p := r.normalize(id)
	if p == "" {
		return false
	}

	included := false
	for _, pattern := range r.Include {
		if ok, _ := doublestar.Match(pattern, p); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}

	if r.Exclude != "" {
		if ok, _ := doublestar.Match(r.Exclude, p); ok {
			return false
		}
	}
	return true
}

// normalize converts id to the slash form patterns are matched against.
func (r Rule) normalize(id string) string {
	if id == "" {
		return ""
	}

	p := id
	if r.Root != "" && filepath.IsAbs(id) {
		if rel, err := filepath.Rel(r.Root, id); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			p = rel
		}
	}

	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, filepath.VolumeName(p))
	p = path.Clean(p)
	p = strings.TrimLeft(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Filter returns a regular expression that preselects candidate paths for a
// bundler callback. It matches on the include extensions when every include
// pattern ends in "*.<ext>", and matches everything otherwise. Matches
// remains the authoritative check.
func (r Rule) Filter() string {
	if len(r.Include) == 0 {
		return ".*"
	}

	exts := make([]string, 0, len(r.Include))
	for _, pattern := range r.Include {
		base := path.Base(pattern)
		if !strings.HasPrefix(base, "*.") || containsGlob(base[1:]) {
			return ".*"
		}
		exts = append(exts, regexp.QuoteMeta(base[1:]))
	}
	return `(?:` + strings.Join(exts, "|") + `)$`
}

// containsGlob checks if a pattern contains glob characters.
func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
