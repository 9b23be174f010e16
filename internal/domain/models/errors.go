package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by every layer. Typed errors unwrap to these sentinels so
// callers match with errors.Is.
var (
	// ErrIncompleteInput: upstream data missing or partial. The previous snapshot stays authoritative.
	ErrIncompleteInput = errors.New("incomplete input")
	// ErrStaleContext: a consumed snapshot is older than its freshness bound. Used as a flag, never fatal.
	ErrStaleContext = errors.New("stale context")
	// ErrInvariantViolation: fatal to the single computation, never silently corrected.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrConflict: lost a compare-and-set, or the record is already terminal.
	ErrConflict = errors.New("conflict")

	ErrNotFound         = errors.New("not found")
	ErrSignalExpired    = errors.New("signal expired")
	ErrCapacityExceeded = errors.New("tier capacity exceeded")
	ErrNotApplicable    = errors.New("suggestion no longer applicable")
	ErrNonMonotonic     = errors.New("non-monotonic as_of")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// IncompleteInputError names the missing pieces of an input bundle.
type IncompleteInputError struct {
	Source  string
	Missing []string
}

func (e *IncompleteInputError) Error() string {
	return fmt.Sprintf("incomplete input from %s: missing %s", e.Source, strings.Join(e.Missing, ", "))
}

func (e *IncompleteInputError) Unwrap() error { return ErrIncompleteInput }

// InvariantError carries the full input context for audit logging.
type InvariantError struct {
	Op      string
	Reason  string
	Context map[string]interface{}
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violation: %s", e.Op, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// NewInvariantError builds an InvariantError from alternating key/value pairs.
func NewInvariantError(op, reason string, kv ...interface{}) *InvariantError {
	ctx := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		ctx[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return &InvariantError{Op: op, Reason: reason, Context: ctx}
}

// InvalidArgument wraps ErrInvalidArgument with a message.
func InvalidArgument(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, a...))
}
