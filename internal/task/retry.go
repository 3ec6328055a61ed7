package task

import (
	"fmt"
	"time"
)

// RetryPolicy decides what happens after a failed delivery attempt.
type RetryPolicy struct {
	// Delays holds the backoff before retry n (Delays[n-1]). Attempts past the
	// end reuse the last delay.
	Delays []time.Duration

	// MaxAttempts is the attempt budget; the failure that reaches it
	// dead-letters the task.
	MaxAttempts int
}

// DefaultRetryPolicy retries after 2s, then 5s, and dead-letters on the third
// failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delays:      []time.Duration{2 * time.Second, 5 * time.Second},
		MaxAttempts: 3,
	}
}

// Validate checks the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.MaxAttempts > 1 && len(p.Delays) == 0 {
		return fmt.Errorf("at least one backoff delay is required when retries are allowed")
	}
	for i, d := range p.Delays {
		if d < 0 {
			return fmt.Errorf("backoff delay %d is negative: %s", i, d)
		}
	}
	return nil
}

// RetryDecision is the outcome of RetryPolicy.Next.
type RetryDecision struct {
	DeadLetter bool
	Delay      time.Duration
}

// Next returns the decision for a task whose failed attempts now total
// attemptCount.
func (p RetryPolicy) Next(attemptCount int) RetryDecision {
	if attemptCount >= p.MaxAttempts {
		return RetryDecision{DeadLetter: true}
	}
	if len(p.Delays) == 0 {
		return RetryDecision{}
	}

	i := attemptCount - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Delays) {
		i = len(p.Delays) - 1
	}
	return RetryDecision{Delay: p.Delays[i]}
}

// withMaxAttempts returns p with the budget a task was created with, when set.
func (p RetryPolicy) withMaxAttempts(maxAttempts int) RetryPolicy {
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	return p
}
