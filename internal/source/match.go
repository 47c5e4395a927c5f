package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher filters file names against a set of glob patterns.
type Matcher struct {
	patterns   []string
	ignoreCase bool
}

// MatchOption configures a Matcher.
type MatchOption func(*Matcher)

// IgnoreCase makes matching case-insensitive, so "A.CSV" matches ".csv".
func IgnoreCase() MatchOption {
	return func(m *Matcher) { m.ignoreCase = true }
}

// NewMatcher builds a matcher from extensions (".csv") or glob patterns
// ("*.csv", "data_*.tsv"). When compressed is set every pattern also
// matches its .gz and .zst variants. Matching is case-sensitive unless
// IgnoreCase is given.
func NewMatcher(exts []string, compressed bool, opts ...MatchOption) (*Matcher, error) {
	if len(exts) == 0 {
		exts = []string{".csv"}
	}

	m := &Matcher{}
	for _, o := range opts {
		o(m)
	}
	for _, ext := range exts {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		pattern := ext
		if strings.HasPrefix(ext, ".") {
			pattern = "*" + ext
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid input pattern %q", ext)
		}
		m.patterns = append(m.patterns, m.fold(pattern))
		if compressed {
			for _, suffix := range compressedSuffixes {
				m.patterns = append(m.patterns, m.fold(pattern+suffix))
			}
		}
	}
	if len(m.patterns) == 0 {
		return nil, fmt.Errorf("no input patterns configured")
	}
	return m, nil
}

// Match reports whether the base name of path matches any pattern.
func (m *Matcher) Match(path string) bool {
	name := m.fold(filepath.Base(path))
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Patterns returns the effective patterns.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

func (m *Matcher) fold(s string) string {
	if m.ignoreCase {
		return strings.ToLower(s)
	}
	return s
}
