package monitor

import "time"

// RetryPolicy is a bounded retry budget with a fixed backoff, shared by the
// rebase, merge and PR-recreate call sites so every bounded counter behaves
// the same way.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Exhausted reports whether the budget allows no further attempt.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Remaining returns how many attempts are left, never negative.
func (p RetryPolicy) Remaining(attempts int) int {
	if attempts >= p.MaxAttempts {
		return 0
	}
	return p.MaxAttempts - attempts
}
