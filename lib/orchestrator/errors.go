package orchestrator

import (
	"fmt"
	"time"
)

// RateLimitedError means the pair is still cooling down. Nothing was written.
type RateLimitedError struct {
	RemainingSeconds int64
	NextAllowedAt    time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: next refresh allowed at %s (in %ds)", e.NextAllowedAt.Format(time.RFC3339), e.RemainingSeconds)
}

// FetchFailedError means the upstream could not be read. The schedule was rolled back and
// no snapshot was written. Reason is safe to show to clients; Err is not.
type FetchFailedError struct {
	Reason string
	Err    error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("fetch failed: %s: %v", e.Reason, e.Err)
}

func (e *FetchFailedError) Unwrap() error {
	return e.Err
}
