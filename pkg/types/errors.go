package types

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers that render results without
// re-deriving the cause.
type Kind string

const (
	// KindIO indicates a file could not be read. Recorded per file during
	// indexing; never fatal to a run.
	KindIO Kind = "io"
	// KindServiceTransient indicates a model-service call failed in a way
	// that is safe to retry (network error, rate limit, server error).
	KindServiceTransient Kind = "service_transient"
	// KindServicePermanent indicates a model-service call failed in a way
	// retrying cannot fix (auth, malformed request).
	KindServicePermanent Kind = "service_permanent"
	// KindBudgetExceeded indicates conversation history alone cannot fit
	// the token budget even after truncation.
	KindBudgetExceeded Kind = "budget_exceeded"
	// KindNoRelevantContext indicates retrieval found no file with any
	// term overlap for the query.
	KindNoRelevantContext Kind = "no_relevant_context"
	// KindCancelled indicates the operation was aborted by a caller
	// signal or deadline.
	KindCancelled Kind = "cancelled"
)

// Error carries an error kind plus a human-readable message so the
// consuming layer can render failures distinctly.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E constructs a typed error. err may be nil.
func E(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the Kind of err, unwrapping as needed. Context
// cancellation and deadline expiry map to KindCancelled. Errors with no
// typed kind report an empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
