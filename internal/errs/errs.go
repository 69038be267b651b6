// Package errs defines the error taxonomy shared across the pipeline (see
// spec.md §7). Each kind is a sentinel value or a small typed wrapper so
// callers can branch with errors.Is / errors.As instead of string matching.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds that carry no extra context.
var (
	ErrGuardrailBlock  = errors.New("guardrail block")
	ErrConfig          = errors.New("configuration error")
	ErrSafeguard       = errors.New("safeguard trigger: same ticker on both sides")
	ErrSchema          = errors.New("schema error: payload failed to parse")
)

// ProviderErrorKind distinguishes retryable from non-retryable provider
// failures (spec.md §7: TransientProviderError / PermanentProviderError).
type ProviderErrorKind int

const (
	Transient ProviderErrorKind = iota
	Permanent
)

// ProviderError wraps a failure from an external collaborator (broker,
// market data, sentiment, LLM) with enough context to decide whether to
// retry.
type ProviderError struct {
	Kind     ProviderErrorKind
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Kind == Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s provider error in %s.%s: %v", kind, e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error (or a ProviderError wrapped inside
// it) should be retried per the §5 retry budget.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == Transient
	}
	return false
}

// StorageError wraps a State Store transaction failure. Fatal carries
// whether this occurred during a critical write (plan approval, session
// record) as opposed to a best-effort write (snapshot, cache).
type StorageError struct {
	Op     string
	Fatal  bool
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s (fatal=%v): %v", e.Op, e.Fatal, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
