package llm

import (
	"context"
	"errors"
	"time"

	"repochat/pkg/types"
)

// Retry configuration defaults
const (
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           // Maximum number of attempts
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns sensible defaults for API retry
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// retryWithBackoff executes fn with exponential backoff. Only transient
// errors are retried; permanent failures and context cancellation
// return immediately.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return zero, types.E(types.KindCancelled, "call aborted", ctx.Err())
		}

		if !types.IsKind(err, types.KindServiceTransient) {
			return zero, err
		}

		if attempt < config.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return zero, types.E(types.KindCancelled, "call aborted", ctx.Err())
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, lastErr
}

// classifyHTTPError maps an HTTP status to the error taxonomy. Rate
// limits and server errors are transient; other non-2xx are permanent.
func classifyHTTPError(status int, message string, err error) error {
	if status == 429 || status >= 500 {
		return types.E(types.KindServiceTransient, message, err)
	}
	return types.E(types.KindServicePermanent, message, err)
}

// classifyNetworkError maps a transport-level failure. Context
// cancellation is surfaced as Cancelled, everything else as transient.
func classifyNetworkError(message string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.E(types.KindCancelled, message, err)
	}
	return types.E(types.KindServiceTransient, message, err)
}
