package uploader

import "time"

// RetryPolicy controls how often a retryable upload failure is
// reattempted within one coordinator run.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling, first try included.
	MaxAttempts int

	// Backoff returns the wait before the given retry attempt (1-based).
	Backoff func(attempt int) time.Duration
}

// DefaultRetryPolicy matches the historical behavior: three attempts with
// exponential backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Second << (attempt - 1)
		},
	}
}
