package filter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jessdabre/gmail-to-sheets/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeSubject []string
	IncludeSender  []string
	ExcludeSubject []string
	ExcludeSender  []string

	// MaxAge drops records received longer ago than this. Records whose
	// date could not be parsed are kept.
	MaxAge time.Duration
	Now    func() time.Time
}

// Filter holds compiled regex patterns for filtering records.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeSubject []*regexp.Regexp
	includeSender  []*regexp.Regexp
	excludeSubject []*regexp.Regexp
	excludeSender  []*regexp.Regexp
	maxAge         time.Duration
	now            func() time.Time
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeSubject, err := compilePatterns(opts.IncludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile include-subject pattern: %w", err)
	}
	includeSender, err := compilePatterns(opts.IncludeSender)
	if err != nil {
		return nil, fmt.Errorf("compile include-sender pattern: %w", err)
	}
	excludeSubject, err := compilePatterns(opts.ExcludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-subject pattern: %w", err)
	}
	excludeSender, err := compilePatterns(opts.ExcludeSender)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-sender pattern: %w", err)
	}

	includeActive := len(includeSubject) > 0 || len(includeSender) > 0
	excludeActive := len(excludeSubject) > 0 || len(excludeSender) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}
	if opts.MaxAge < 0 {
		return nil, fmt.Errorf("max age must not be negative")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeSubject: includeSubject,
		includeSender:  includeSender,
		excludeSubject: excludeSubject,
		excludeSender:  excludeSender,
		maxAge:         opts.MaxAge,
		now:            now,
	}, nil
}

// Active reports whether any criterion is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode || f.maxAge > 0
}

// Allows returns true if the record passes the filter criteria.
func (f *Filter) Allows(rec model.FlatRecord) bool {
	if f.maxAge > 0 && !rec.ReceivedAt.IsZero() && f.now().Sub(rec.ReceivedAt) > f.maxAge {
		return false
	}

	if f.includeMode {
		return matchAny(f.includeSubject, rec.Subject) || matchAny(f.includeSender, rec.Sender)
	}

	if f.excludeMode {
		if matchAny(f.excludeSubject, rec.Subject) || matchAny(f.excludeSender, rec.Sender) {
			return false
		}
	}

	return true
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
