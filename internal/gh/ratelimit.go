package gh

import (
	"context"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"cimonitor/internal/config"
)

// Quota is a snapshot of the GitHub API budget.
type Quota struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RateLimiter tracks the shared GitHub API quota and adapts the polling
// interval to it. One instance is shared by all PR workers in multi-PR mode;
// all state is guarded by the mutex.
type RateLimiter struct {
	runner Runner

	mu            sync.Mutex
	quota         Quota
	prevRemaining int
	checked       bool
	gqlLimitedAt  time.Time

	lowThreshold      int
	criticalThreshold int
	cooldown          time.Duration

	now func() time.Time
}

// NewRateLimiter creates a RateLimiter over the given gh runner.
func NewRateLimiter(runner Runner, cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		runner:            runner,
		lowThreshold:      cfg.LowQuotaThreshold,
		criticalThreshold: cfg.CriticalQuotaThreshold,
		cooldown:          cfg.ParseGraphQLCooldown(),
		now:               time.Now,
	}
}

// CheckRateLimit refreshes the quota snapshot via `gh api rate_limit`.
// A failed check leaves the previous snapshot in place and reports ok=false.
func (r *RateLimiter) CheckRateLimit(ctx context.Context) (Quota, bool) {
	ok, out := r.runner.Run(ctx, "api", "rate_limit")
	if !ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.quota, false
	}

	core := gjson.Get(out, "resources.core")
	if !core.Exists() {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.quota, false
	}

	q := Quota{
		Remaining: int(core.Get("remaining").Int()),
		Limit:     int(core.Get("limit").Int()),
		ResetAt:   time.Unix(core.Get("reset").Int(), 0),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prevRemaining = r.quota.Remaining
	r.quota = q
	r.checked = true
	return q, true
}

// AdjustedInterval widens the base polling interval under low quota and
// narrows it back as the quota recovers. With no quota information it
// returns the base unchanged.
func (r *RateLimiter) AdjustedInterval(base time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.checked {
		return base
	}

	switch {
	case r.quota.Remaining <= 0:
		// Exhausted: wait out the reset window, but never less than base.
		until := r.quota.ResetAt.Sub(r.now()) + time.Second
		if until < base {
			return base
		}
		return until
	case r.quota.Remaining < r.criticalThreshold:
		return base * 4
	case r.quota.Remaining < r.lowThreshold:
		return base * 2
	default:
		return base
	}
}

// NoteGraphQLRateLimited records that a GraphQL call hit the rate limiter.
func (r *RateLimiter) NoteGraphQLRateLimited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gqlLimitedAt = r.now()
}

// ShouldPreferRESTAPI reports whether callers should route around GraphQL.
// True for the cooldown window after the last observed GraphQL rate limit.
func (r *RateLimiter) ShouldPreferRESTAPI() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gqlLimitedAt.IsZero() {
		return false
	}
	return r.now().Sub(r.gqlLimitedAt) < r.cooldown
}

// Snapshot returns the last known quota without refreshing it.
func (r *RateLimiter) Snapshot() (Quota, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quota, r.checked
}
