package config

import (
	"fmt"
	"strings"
	"sync"
)

// FieldError pairs a config validation error with the path of the entry
// that caused it (e.g. "aggregates[0:total_scam_flags]",
// "rules[1:zip_ratio].aggregate2"), so a caller can point an operator at the
// exact YAML section to fix rather than an unplaced error string.
type FieldError struct {
	Path string
	Err  error
}

func (fe FieldError) Error() string { return fe.Path + ": " + fe.Err.Error() }
func (fe FieldError) Unwrap() error { return fe.Err }

// MultiError accumulates every invalid aggregate/rule/feature/schema entry
// found while validating a config.File, so Build can report all of them in
// one pass instead of failing on the first (spec.md §7 config errors abort
// startup; AMBIENT STACK of SPEC_FULL.md: accumulate, don't fail-fast).
type MultiError struct {
	mu   sync.Mutex
	errs []FieldError
}

// Add records err against the config path that produced it.
func (e *MultiError) Add(path string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, FieldError{Path: path, Err: err})
}

// Len reports how many errors have been added.
func (e *MultiError) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

// Errors returns a copy of the accumulated field errors.
func (e *MultiError) Errors() []FieldError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append(make([]FieldError, 0, len(e.errs)), e.errs...)
}

func (e *MultiError) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	es := make([]string, 0, len(e.errs))
	for _, fe := range e.errs {
		es = append(es, fe.Error())
	}
	return fmt.Sprintf("%d config error(s): %s", len(es), strings.Join(es, "; "))
}

// AsError returns nil if no errors were added, otherwise e.
func (e *MultiError) AsError() error {
	if e.Len() == 0 {
		return nil
	}
	return e
}
