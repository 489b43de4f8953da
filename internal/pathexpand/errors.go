// Package pathexpand turns manifest path patterns into concrete filesystem
// paths. Patterns contain platform variables such as <home> or <appData> and
// glob wildcards (*, ?, and whole-segment **). Expansion runs against the
// live filesystem so wildcard segments only produce paths that exist.
package pathexpand

import (
	"errors"
	"fmt"
)

// Sentinel errors for pattern failures. Use errors.Is to check.
var (
	ErrMalformedPattern = errors.New("pathexpand: malformed pattern")
	ErrUnknownVariable  = errors.New("pathexpand: unknown variable")
)

// PatternError reports a configuration-level problem with one pattern. It is
// fatal to the manifest entry that carries the pattern, never to a whole scan.
type PatternError struct {
	Pattern string
	Reason  string
	Err     error // sentinel, for errors.Is()
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("pathexpand: pattern %q: %s", e.Pattern, e.Reason)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

func malformed(pattern, format string, args ...any) error {
	return &PatternError{
		Pattern: pattern,
		Reason:  fmt.Sprintf(format, args...),
		Err:     ErrMalformedPattern,
	}
}
