package agentloop

import (
	"errors"
	"fmt"
	"time"

	"github.com/loomware/agentkit/pkg/httpclient"
)

// ProviderError wraps a model-layer failure with the recoverable flag
// spec.md §7 requires: recoverable errors (rate limits, 5xx) are retried
// with bounded exponential backoff inside the loop; fatal ones (auth
// failures, context rejection) abort the turn with status "failed".
type ProviderError struct {
	Recoverable bool
	RetryAfter  time.Duration
	Err         error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("agentloop: provider error (recoverable=%v): %v", e.Recoverable, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CancelledError signals that an external cancellation signal fired. No
// further events are emitted after it except a final response_complete
// with Status: StatusCancelled.
type CancelledError struct{ Cause error }

func (e *CancelledError) Error() string {
	return fmt.Sprintf("agentloop: cancelled: %v", e.Cause)
}
func (e *CancelledError) Unwrap() error { return e.Cause }

// retryable is implemented by pkg/httpclient.RetryableError, the
// teacher's existing transport-level retry signal (used by the ollama
// model adapter's HTTP client). classifyProviderErr reuses it instead of
// inventing a second recoverability signal.
type retryable interface {
	IsRetryable() bool
}

// classifyProviderErr turns a raw error from model.LLM.GenerateContent into
// a *ProviderError, preferring any retryable signal the error already
// carries (httpclient.RetryableError, which also carries a RetryAfter
// hint) and otherwise treating the error as fatal.
func classifyProviderErr(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	var httpErr *httpclient.RetryableError
	if errors.As(err, &httpErr) {
		return &ProviderError{Recoverable: httpErr.IsRetryable(), RetryAfter: httpErr.RetryAfter, Err: err}
	}

	var r retryable
	if errors.As(err, &r) {
		return &ProviderError{Recoverable: r.IsRetryable(), Err: err}
	}

	return &ProviderError{Recoverable: false, Err: err}
}

// backoff computes the delay before retry attempt n (0-indexed), doubling
// from base and capped at max — the same doubling/cap shape as
// pkg/httpclient.Client.calculateDelay's ConservativeRetry branch,
// generalized here to the loop's own provider-level retry rather than
// per-HTTP-request retry.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
