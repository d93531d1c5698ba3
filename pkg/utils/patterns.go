package utils

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// PatternMatcher matches slash-separated relative paths against Ant-style
// patterns: '*' stays within one path segment, '**' spans segments.
type PatternMatcher struct {
	globs []glob.Glob
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{}

	for _, pattern := range patterns {
		for _, expanded := range ExpandPattern(NormalizePattern(pattern)) {
			g, err := glob.Compile(expanded, '/')
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
			pm.globs = append(pm.globs, g)
		}
	}

	return pm, nil
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(path string) bool {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")
	for _, g := range pm.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// NormalizePattern converts separators to '/', drops a leading "./" and
// turns a trailing '/' into "/**" the way Ant does.
func NormalizePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	pattern = strings.TrimPrefix(pattern, "./")
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	return pattern
}

// ExpandPattern returns the pattern plus the variants in which a "**"
// segment matches zero directories.
func ExpandPattern(pattern string) []string {
	seen := map[string]bool{pattern: true}
	patterns := []string{pattern}

	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			patterns = append(patterns, p)
		}
	}

	for i := 0; i < len(patterns); i++ {
		p := patterns[i]
		if strings.HasPrefix(p, "**/") {
			add(strings.TrimPrefix(p, "**/"))
		}
		if strings.HasSuffix(p, "/**") {
			add(strings.TrimSuffix(p, "/**"))
		}
		if strings.Contains(p, "/**/") {
			add(strings.Replace(p, "/**/", "/", 1))
		}
	}

	return patterns
}

// PathSelector combines include and exclude patterns
type PathSelector struct {
	includes *PatternMatcher
	excludes *PatternMatcher
}

// NewPathSelector creates a selector; the default excludes are appended
// when useDefaultExcludes is set.
func NewPathSelector(includes, excludes []string, useDefaultExcludes bool) (*PathSelector, error) {
	in, err := NewPatternMatcher(includes)
	if err != nil {
		return nil, err
	}

	allExcludes := append([]string{}, excludes...)
	if useDefaultExcludes {
		allExcludes = append(allExcludes, GetDefaultExcludes()...)
	}
	ex, err := NewPatternMatcher(allExcludes)
	if err != nil {
		return nil, err
	}

	return &PathSelector{includes: in, excludes: ex}, nil
}

// Selects reports whether path is included and not excluded
func (s *PathSelector) Selects(path string) bool {
	return s.includes.Match(path) && !s.excludes.Match(path)
}

// IsExcluded reports whether path matches an exclude pattern
func (s *PathSelector) IsExcluded(path string) bool {
	return s.excludes.Match(path)
}

// GetDefaultExcludes returns the VCS and editor patterns that are never
// treated as project content.
func GetDefaultExcludes() []string {
	return []string{
		"**/*~",
		"**/#*#",
		"**/.#*",
		"**/%*%",
		"**/._*",
		"**/CVS",
		"**/CVS/**",
		"**/.cvsignore",
		"**/.svn",
		"**/.svn/**",
		"**/.git",
		"**/.git/**",
		"**/.gitignore",
		"**/.gitattributes",
		"**/.hg",
		"**/.hg/**",
		"**/.bzr",
		"**/.bzr/**",
		"**/.DS_Store",
	}
}
