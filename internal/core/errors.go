package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors forming the failure taxonomy. Batch operations isolate
// these per package; single-package operations propagate them directly.
var (
	ErrNotFound            = errors.New("package not found")
	ErrAmbiguousQuery      = errors.New("ambiguous package query")
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrDownloadFailed      = errors.New("download failed")
	ErrForeignFileConflict = errors.New("foreign file conflict")
	ErrStoreCorruption     = errors.New("store corruption")
	ErrPackagePinned       = errors.New("package is pinned")
	ErrNotInstalled        = errors.New("package is not installed")
)

// AmbiguousError reports a query matching more than one candidate, carrying
// the candidate list so callers can show how to disambiguate.
type AmbiguousError struct {
	Query      string
	Candidates []Package
	// Qualified is set when the ambiguity survived an explicit qualifier,
	// which the uniqueness invariants should make impossible.
	Qualified bool
}

func (e *AmbiguousError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, fmt.Sprintf("%s@%s#%s", c.FullName(), c.RepoName, c.Collection))
	}
	if e.Qualified {
		return fmt.Sprintf("query %q is ambiguous even with qualifiers: %s", e.Query, strings.Join(names, ", "))
	}
	return fmt.Sprintf("query %q is ambiguous: %s", e.Query, strings.Join(names, ", "))
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguousQuery }

// NotFoundError reports an unresolvable query with optional suggestions from
// the case-insensitive search prefilter.
type NotFoundError struct {
	Query       string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("package %q not found", e.Query)
	}
	return fmt.Sprintf("package %q not found, did you mean: %s", e.Query, strings.Join(e.Suggestions, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports an activation refused because the existing symlink
// target is not managed by drift.
type ConflictError struct {
	LinkPath string
	Target   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("refusing to replace %s: target %s is not managed by drift", e.LinkPath, e.Target)
}

func (e *ConflictError) Unwrap() error { return ErrForeignFileConflict }
