// Package match filters object names with doublestar glob patterns.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include and exclude patterns against object names.
//
// A name matches when it matches at least one include (or there are no
// includes) and no exclude. A Matcher is safe for concurrent use.
type Matcher struct {
	includes      []string
	excludes      []string
	excludeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a name must match. Empty matches all.
	Includes []string

	// Excludes are glob patterns a name must not match.
	Excludes []string

	// ExcludeHidden drops names with a path segment starting with '.'.
	ExcludeHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New compiles cfg. Backslash separators are normalized to '/' unless they
// escape a glob metacharacter.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{includes: includes, excludes: excludes, excludeHidden: cfg.ExcludeHidden}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		normalized := NormalizePattern(p)
		if normalized == "" || !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Match reports whether name passes the filter. Names are opaque and are
// matched as-is.
func (m *Matcher) Match(name string) bool {
	if m.excludeHidden && IsHidden(name) {
		return false
	}
	if len(m.includes) > 0 && !matchAny(m.includes, name) {
		return false
	}
	return !matchAny(m.excludes, name)
}

// Empty reports whether the matcher keeps every name.
func (m *Matcher) Empty() bool {
	return len(m.includes) == 0 && len(m.excludes) == 0 && !m.excludeHidden
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the normalized exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		// Patterns are validated in New.
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

const globEscapable = `*?[]{}\`

// NormalizePattern converts unescaped backslashes to '/'.
//
//	"data\2024\**"    → "data/2024/**"
//	"data/file\*.txt" → "data/file\*.txt"
func NormalizePattern(pattern string) string {
	if !strings.ContainsRune(pattern, '\\') {
		return pattern
	}
	var b strings.Builder
	b.Grow(len(pattern))
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}

// IsHidden reports whether any '/'-separated segment starts with a dot.
func IsHidden(name string) bool {
	for seg := range strings.SplitSeq(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
