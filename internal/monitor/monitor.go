// Package monitor drives a pull request from opened to merged: it polls the
// PR state, rebases when behind, waits out CI and AI reviewers, and merges
// when everything is green, within bounded retry budgets.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"cimonitor/internal/config"
	"cimonitor/internal/event"
	"cimonitor/internal/gh"
	"cimonitor/internal/pr"
	"cimonitor/internal/review"
	"cimonitor/internal/state"
)

// Operations is the subset of PR operations the loop drives.
type Operations interface {
	State(ctx context.Context, prNumber int) (pr.PRState, error)
	WaitForMainStable(ctx context.Context, prNumber int) error
	Rebase(ctx context.Context, prNumber int) pr.RebaseResult
	SyncAfterRebase(ctx context.Context, prNumber int) error
	Merge(ctx context.Context, prNumber int) (bool, string)
	ReopenWithRetry(ctx context.Context, prNumber int) (int, error)
}

// Reviews is the review-analysis surface the loop consumes.
type Reviews interface {
	FetchReviews(ctx context.Context, prNumber int) ([]review.Review, error)
	FetchComments(ctx context.Context, prNumber int) ([]review.Comment, error)
	FetchAllReviewThreads(ctx context.Context, prNumber int) ([]review.Thread, error)
	AutoResolveDuplicateThreads(ctx context.Context, threads []review.Thread) int
	Evaluate(reviews []review.Review, pendingReviewers []string, adapter review.Adapter) review.Verdict
	RequestCodexReview(ctx context.Context, prNumber int) review.CodexReviewRequest
	ProximityThreshold() int
}

// Monitor is one monitoring session over one or more PRs.
type Monitor struct {
	ops     Operations
	reviews Reviews
	store   *state.Store
	bus     *event.Bus
	limiter *gh.RateLimiter
	cfg     config.MonitorConfig

	// SessionID partitions persisted state between concurrent runs.
	SessionID string
	// EarlyExit returns as soon as any review comment is observed.
	// Single-PR runs only.
	EarlyExit bool

	rebasePolicy RetryPolicy
	mergePolicy  RetryPolicy

	// pauses counts poll sleeps across all workers, for spacing out quota
	// refreshes.
	pauses atomic.Int64

	// Seams for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New assembles a Monitor. The limiter may be nil, in which case polling uses
// the configured base interval unconditionally.
func New(ops Operations, reviews Reviews, store *state.Store, bus *event.Bus,
	limiter *gh.RateLimiter, cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		ops:          ops,
		reviews:      reviews,
		store:        store,
		bus:          bus,
		limiter:      limiter,
		cfg:          cfg,
		rebasePolicy: RetryPolicy{MaxAttempts: cfg.MaxRebase, Backoff: cfg.ParsePollInterval()},
		mergePolicy:  RetryPolicy{MaxAttempts: cfg.MaxMergeAttempts, Backoff: cfg.ParsePollInterval()},
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// emit records a transition on the event bus.
func (m *Monitor) emit(t event.Type, prNumber int, message string, details map[string]string, action string) {
	if m.bus != nil {
		m.bus.Emit(event.New(t, prNumber, message, details, action))
	}
}

// quotaRefreshEvery spaces out `gh api rate_limit` calls so watching the
// quota does not itself consume meaningful quota.
const quotaRefreshEvery = 5

// pause sleeps one poll interval, widened under rate-limit pressure.
func (m *Monitor) pause(ctx context.Context) error {
	d := m.cfg.ParsePollInterval()
	if m.limiter != nil {
		if m.pauses.Add(1)%quotaRefreshEvery == 1 {
			m.limiter.CheckRateLimit(ctx)
		}
		d = m.limiter.AdjustedInterval(d)
	}
	return m.sleep(ctx, d)
}

// MonitorPR runs the state machine for one PR until a terminal state or the
// overall timeout. It always returns exactly one result and never panics:
// unexpected failures are caught once here and converted to a failed result.
func (m *Monitor) MonitorPR(ctx context.Context, prNumber int) MonitorResult {
	return m.monitorPR(ctx, prNumber, m.EarlyExit)
}

func (m *Monitor) monitorPR(ctx context.Context, prNumber int, earlyExit bool) (res MonitorResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while monitoring PR", "pr", prNumber, "panic", r)
			m.emit(event.TypeError, prNumber, fmt.Sprintf("internal error: %v", r), nil,
				"report this as a bug")
			res = MonitorResult{Success: false, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	st, err := m.store.LoadOrCreate(prNumber, m.SessionID)
	if err != nil {
		m.emit(event.TypeError, prNumber, err.Error(), nil, "check the state directory is writable")
		return MonitorResult{Success: false, Message: err.Error()}
	}

	deadline := m.now().Add(m.cfg.Timeout())

	var (
		priorComments []review.Comment
		seenComments  = map[string]bool{}
		ciPassedSeen  bool
		codexRetried  bool
		recreates     int
		lastState     *pr.PRState
	)

	for {
		if err := ctx.Err(); err != nil {
			m.emit(event.TypeTimeout, prNumber, "monitoring canceled", nil, "")
			return m.terminal(st, MonitorResult{
				Success: false, Message: "canceled", RebaseCount: st.RebaseCount, FinalState: lastState,
			})
		}
		if m.now().After(deadline) {
			m.emit(event.TypeTimeout, prNumber, "monitoring timed out", nil,
				"re-run with a longer --timeout or finish the PR manually")
			return m.terminal(st, MonitorResult{
				Success: false, Message: "monitoring timed out", RebaseCount: st.RebaseCount, FinalState: lastState,
			})
		}

		prState, err := m.ops.State(ctx, prNumber)
		if err != nil {
			// Transient by policy: log and poll again.
			slog.Warn("could not fetch PR state", "pr", prNumber, "error", err)
			m.pause(ctx)
			continue
		}
		lastState = &prState

		switch prState.MergeState {
		case pr.MergeStateDirty:
			m.emit(event.TypeDirtyDetected, prNumber, "PR has merge conflicts", nil,
				"rebase the branch locally and resolve the conflicts")
			return m.terminal(st, MonitorResult{
				Success: false, Message: "merge conflict with base branch",
				RebaseCount: st.RebaseCount, FinalState: lastState,
			})

		case pr.MergeStateBehind:
			if done, result := m.rebase(ctx, prNumber, st, lastState); done {
				return result
			}
			continue

		case pr.MergeStateUnknown:
			// Fail closed: never act on a state we cannot interpret.
			slog.Warn("PR merge state unknown, not advancing", "pr", prNumber)
			m.pause(ctx)
			continue
		}

		if prState.CheckStatus == pr.CheckStatusFailure {
			m.emit(event.TypeCIFailed, prNumber, "CI checks failed", nil,
				"inspect the failing checks and push a fix")
			return m.terminal(st, MonitorResult{
				Success: false, Message: "CI checks failed", CIPassed: false,
				RebaseCount: st.RebaseCount, FinalState: lastState,
			})
		}

		comments, err := m.reviews.FetchComments(ctx, prNumber)
		if err != nil {
			slog.Warn("could not fetch review comments", "pr", prNumber, "error", err)
			m.pause(ctx)
			continue
		}
		newBatch := filterNew(comments, seenComments)
		if len(newBatch) > 0 {
			classified := review.Classify(newBatch)
			if classified.HasActionable() {
				for reviewer, actionable := range classified.Actionable {
					slog.Info("new actionable review comments",
						"pr", prNumber, "reviewer", reviewer, "count", len(actionable))
				}
			}
			m.reportContradictions(prNumber, newBatch, priorComments)
			priorComments = append(priorComments, newBatch...)
		}

		if earlyExit && len(comments) > 0 {
			unresolved := m.unresolvedThreadCount(ctx, prNumber)
			m.emit(event.TypeReviewCompleted, prNumber,
				fmt.Sprintf("%d review comments observed, exiting early", len(comments)), nil,
				"address the review comments and re-run")
			return m.terminal(st, MonitorResult{
				Success: false, Message: "review comments observed (early exit)",
				RebaseCount: st.RebaseCount, ReviewComments: len(comments),
				UnresolvedThreads: unresolved, FinalState: lastState,
			})
		}

		reviews, err := m.reviews.FetchReviews(ctx, prNumber)
		if err != nil {
			slog.Warn("could not fetch reviews", "pr", prNumber, "error", err)
			m.pause(ctx)
			continue
		}

		reviewsDone := true
		for _, adapter := range review.Adapters() {
			v := m.reviews.Evaluate(reviews, prState.PendingReviewers, adapter)
			if v.AllowWithWarning {
				m.emit(event.TypeReviewError, prNumber,
					fmt.Sprintf("%s failed %d times in a row after an earlier successful review, proceeding without it",
						adapter.Name(), v.ConsecutiveErrors), nil, "")
				continue
			}
			if v.Pending {
				reviewsDone = false
				if adapter.Name() == "codex" && v.ConsecutiveErrors > 0 && !codexRetried {
					codexRetried = true
					if req := m.reviews.RequestCodexReview(ctx, prNumber); req.Requested {
						slog.Info("requested codex re-review", "pr", prNumber)
					}
				}
			}
		}
		if !reviewsDone {
			m.pause(ctx)
			continue
		}

		if prState.CheckStatus == pr.CheckStatusPending {
			m.pause(ctx)
			continue
		}
		if !ciPassedSeen {
			ciPassedSeen = true
			m.emit(event.TypeCIPassed, prNumber, "all CI checks passed", nil, "")
			m.emit(event.TypeReviewCompleted, prNumber, "all reviewers finished", nil, "")
		}

		if prState.MergeState != pr.MergeStateClean {
			// BLOCKED or UNSTABLE with green checks: poll until GitHub agrees.
			m.pause(ctx)
			continue
		}

		if m.mergePolicy.Exhausted(st.MergeAttempts) {
			// Last resort: recreate the PR from the same branch with a
			// fresh merge budget, a bounded number of times.
			if recreates >= m.cfg.MaxPRRecreate {
				m.emit(event.TypeError, prNumber, "merge attempts exhausted", nil,
					"merge the PR manually")
				return m.terminal(st, MonitorResult{
					Success: false, Message: "merge attempts exhausted",
					RebaseCount: st.RebaseCount, ReviewCompleted: true, CIPassed: true, FinalState: lastState,
				})
			}
			recreates++
			newPR, err := m.ops.ReopenWithRetry(ctx, prNumber)
			if err != nil {
				m.emit(event.TypeError, prNumber, fmt.Sprintf("recreating PR failed: %v", err), nil,
					"merge the PR manually")
				return m.terminal(st, MonitorResult{
					Success: false, Message: "merge attempts exhausted and recreate failed",
					RebaseCount: st.RebaseCount, ReviewCompleted: true, CIPassed: true, FinalState: lastState,
				})
			}
			m.emit(event.TypeError, prNumber,
				fmt.Sprintf("recreated as PR #%d after repeated merge failures (%d/%d)",
					newPR, recreates, m.cfg.MaxPRRecreate), nil, "")
			if newPR != prNumber {
				if err := m.store.Delete(prNumber, m.SessionID); err != nil {
					slog.Warn("could not delete monitor state", "pr", prNumber, "error", err)
				}
				prNumber = newPR
			}
			st, err = m.store.LoadOrCreate(prNumber, m.SessionID)
			if err != nil {
				m.emit(event.TypeError, prNumber, err.Error(), nil, "check the state directory is writable")
				return MonitorResult{Success: false, Message: err.Error()}
			}
			st.MergeAttempts = 0
			continue
		}

		if done, result := m.merge(ctx, prNumber, st, lastState, len(comments)); done {
			return result
		}
	}
}

// rebase performs one bounded rebase attempt. Returns a terminal result when
// the budget is exhausted.
func (m *Monitor) rebase(ctx context.Context, prNumber int, st *state.MonitorState, last *pr.PRState) (bool, MonitorResult) {
	if m.rebasePolicy.Exhausted(st.RebaseCount) {
		m.emit(event.TypeError, prNumber, "rebase budget exhausted", nil,
			"rebase the branch manually")
		return true, m.terminal(st, MonitorResult{
			Success: false, Message: "rebase budget exhausted",
			RebaseCount: st.RebaseCount, FinalState: last,
		})
	}

	m.emit(event.TypeBehindDetected, prNumber,
		fmt.Sprintf("branch is behind base, rebase %d/%d", st.RebaseCount+1, m.rebasePolicy.MaxAttempts),
		nil, "")

	if err := m.ops.WaitForMainStable(ctx, prNumber); err != nil {
		slog.Warn("skipping rebase this poll", "pr", prNumber, "error", err)
		m.pause(ctx)
		return false, MonitorResult{}
	}

	res := m.ops.Rebase(ctx, prNumber)
	st.RebaseCount++
	st.LastEvent = string(event.TypeBehindDetected)
	if err := m.store.Save(st); err != nil {
		slog.Warn("could not persist monitor state", "pr", prNumber, "error", err)
	}
	if !res.Succeeded {
		slog.Warn("rebase failed", "pr", prNumber, "message", res.Message)
		m.pause(ctx)
		return false, MonitorResult{}
	}
	if err := m.ops.SyncAfterRebase(ctx, prNumber); err != nil {
		slog.Warn("could not sync local checkout after rebase", "pr", prNumber, "error", err)
	}
	return false, MonitorResult{}
}

// merge performs one merge attempt, deduplicating review threads first.
// The caller has already checked the merge budget. Returns a terminal result
// on success.
func (m *Monitor) merge(ctx context.Context, prNumber int, st *state.MonitorState, last *pr.PRState, commentCount int) (bool, MonitorResult) {
	unresolved := 0
	threads, err := m.reviews.FetchAllReviewThreads(ctx, prNumber)
	if err != nil {
		slog.Warn("could not fetch review threads before merge", "pr", prNumber, "error", err)
	} else {
		resolved := m.reviews.AutoResolveDuplicateThreads(ctx, threads)
		if resolved > 0 {
			slog.Info("auto-resolved duplicate review threads", "pr", prNumber, "count", resolved)
		}
		unresolved = len(review.UnresolvedAIThreads(threads)) - resolved
		if unresolved < 0 {
			unresolved = 0
		}
	}

	st.MergeAttempts++
	st.LastEvent = "MERGE_ATTEMPT"
	if err := m.store.Save(st); err != nil {
		slog.Warn("could not persist monitor state", "pr", prNumber, "error", err)
	}

	ok, msg := m.ops.Merge(ctx, prNumber)
	if !ok {
		slog.Warn("merge failed", "pr", prNumber, "attempt", st.MergeAttempts, "message", msg)
		m.pause(ctx)
		return false, MonitorResult{}
	}

	return true, m.terminal(st, MonitorResult{
		Success: true, Message: "merged",
		RebaseCount: st.RebaseCount, ReviewCompleted: true, CIPassed: true,
		ReviewComments: commentCount, UnresolvedThreads: unresolved, FinalState: last,
	})
}

// terminal deletes the persisted state and hands the result back.
func (m *Monitor) terminal(st *state.MonitorState, res MonitorResult) MonitorResult {
	if err := m.store.Delete(st.PRNumber, st.SessionID); err != nil {
		slog.Warn("could not delete monitor state", "pr", st.PRNumber, "error", err)
	}
	return res
}

// unresolvedThreadCount is best-effort; an error just yields zero.
func (m *Monitor) unresolvedThreadCount(ctx context.Context, prNumber int) int {
	threads, err := m.reviews.FetchAllReviewThreads(ctx, prNumber)
	if err != nil {
		return 0
	}
	return len(review.UnresolvedThreads(threads))
}

// filterNew returns comments not seen before, marking them seen.
func filterNew(comments []review.Comment, seen map[string]bool) []review.Comment {
	var out []review.Comment
	for _, c := range comments {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// reportContradictions logs nearby comment pairs that may conflict.
func (m *Monitor) reportContradictions(prNumber int, newBatch, prior []review.Comment) {
	for _, c := range review.DetectContradictions(newBatch, prior, m.reviews.ProximityThreshold()) {
		slog.Warn("possibly contradictory review comments",
			"pr", prNumber, "path", c.Path,
			"lineA", c.LineA, "lineB", c.LineB,
			"authorA", c.AuthorA, "authorB", c.AuthorB,
			"sameBatch", c.SameBatch)
	}
}
