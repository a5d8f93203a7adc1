package targets

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Filter keeps or drops targets by glob pattern. Patterns use '.' as the
// label separator, so "*.example.com" matches "www.example.com" but not
// "a.b.example.com"; use "**.example.com" for any depth.
type Filter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// Option configures a Filter.
type Option func(*filterSpec)

type filterSpec struct {
	include []string
	exclude []string
}

// WithInclude sets the include patterns. If any are given, a target must
// match at least one.
func WithInclude(patterns ...string) Option {
	return func(s *filterSpec) {
		s.include = append(s.include, patterns...)
	}
}

// WithExclude sets the exclude patterns. Matching targets are dropped.
func WithExclude(patterns ...string) Option {
	return func(s *filterSpec) {
		s.exclude = append(s.exclude, patterns...)
	}
}

// NewFilter compiles the patterns. An invalid pattern is a
// ConfigurationError.
func NewFilter(opts ...Option) (*Filter, error) {
	var spec filterSpec
	for _, opt := range opts {
		opt(&spec)
	}

	include, err := compile("targets.include", spec.include)
	if err != nil {
		return nil, err
	}
	exclude, err := compile("targets.exclude", spec.exclude)
	if err != nil {
		return nil, err
	}
	return &Filter{include: include, exclude: exclude}, nil
}

func compile(field string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, &types.ConfigurationError{Field: field, Reason: fmt.Sprintf("pattern %q: %v", p, err)}
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Match reports whether the target passes the filter.
// Exclude patterns are checked first.
func (f *Filter) Match(t types.Target) bool {
	if f == nil {
		return true
	}
	s := t.String()
	for _, g := range f.exclude {
		if g.Match(s) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// Empty reports whether the filter has no patterns.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.include) == 0 && len(f.exclude) == 0)
}
