package review

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"cimonitor/internal/config"
	"cimonitor/internal/gh"
)

// threadsQuery pages through a PR's review threads 100 at a time.
const threadsQuery = `query($owner: String!, $name: String!, $number: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      reviewThreads(first: 100, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes {
          id
          isResolved
          path
          line
          comments(first: 50) {
            nodes { databaseId author { login } body }
          }
        }
      }
    }
  }
}`

// resolveThreadMutation marks one review thread resolved.
const resolveThreadMutation = `mutation($threadId: ID!) {
  resolveReviewThread(input: {threadId: $threadId}) {
    thread { id isResolved }
  }
}`

// Analyzer fetches and classifies reviews, comments and threads for a PR.
type Analyzer struct {
	runner   gh.Runner
	limiter  *gh.RateLimiter
	adapters []Adapter

	errorRetryThreshold int
	proximityThreshold  int

	repoMu    sync.Mutex
	repoOwner string
	repoName  string
}

// NewAnalyzer creates an Analyzer over the shared gh runner and rate limiter.
func NewAnalyzer(runner gh.Runner, limiter *gh.RateLimiter, cfg config.ReviewConfig) *Analyzer {
	return &Analyzer{
		runner:              runner,
		limiter:             limiter,
		adapters:            Adapters(),
		errorRetryThreshold: cfg.ErrorRetryThreshold,
		proximityThreshold:  cfg.ProximityThreshold,
	}
}

// ProximityThreshold returns the configured contradiction line distance.
func (a *Analyzer) ProximityThreshold() int {
	return a.proximityThreshold
}

// repo resolves the owner/name of the current repository. The result is
// cached only on success, so a transient failure is retried on the next call
// instead of poisoning the rest of the run.
func (a *Analyzer) repo(ctx context.Context) (string, string, error) {
	a.repoMu.Lock()
	defer a.repoMu.Unlock()

	if a.repoOwner != "" && a.repoName != "" {
		return a.repoOwner, a.repoName, nil
	}

	ok, out := a.runner.Run(ctx, "repo", "view", "--json", "owner,name")
	if !ok {
		return "", "", fmt.Errorf("resolving repository: %s", out)
	}
	owner := gjson.Get(out, "owner.login").String()
	name := gjson.Get(out, "name").String()
	if owner == "" || name == "" {
		return "", "", fmt.Errorf("could not determine repository owner/name")
	}
	a.repoOwner = owner
	a.repoName = name
	return owner, name, nil
}

// FetchReviews returns all submitted reviews on a PR, oldest first.
func (a *Analyzer) FetchReviews(ctx context.Context, prNumber int) ([]Review, error) {
	ok, out := a.runner.Run(ctx, "pr", "view", strconv.Itoa(prNumber),
		"--json", "reviews")
	if !ok {
		return nil, fmt.Errorf("fetching reviews for PR #%d: %s", prNumber, out)
	}

	var reviews []Review
	for _, r := range gjson.Get(out, "reviews").Array() {
		submitted, _ := time.Parse(time.RFC3339, r.Get("submittedAt").String())
		reviews = append(reviews, Review{
			Author:      r.Get("author.login").String(),
			State:       r.Get("state").String(),
			Body:        r.Get("body").String(),
			SubmittedAt: submitted,
		})
	}
	return reviews, nil
}

// FetchComments returns all inline review comments on a PR via the REST API.
func (a *Analyzer) FetchComments(ctx context.Context, prNumber int) ([]Comment, error) {
	owner, name, err := a.repo(ctx)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("repos/%s/%s/pulls/%d/comments", owner, name, prNumber)
	ok, out := a.runner.Run(ctx, "api", path, "--paginate")
	if !ok {
		return nil, fmt.Errorf("fetching comments for PR #%d: %s", prNumber, out)
	}
	return parseRESTComments(out), nil
}

// parseRESTComments maps a REST comment array (or several concatenated pages
// from --paginate) into Comments.
func parseRESTComments(out string) []Comment {
	var comments []Comment
	gjson.Parse(out).ForEach(func(_, page gjson.Result) bool {
		appendComment := func(c gjson.Result) {
			comments = append(comments, Comment{
				ID:     c.Get("id").String(),
				Author: c.Get("user.login").String(),
				Body:   c.Get("body").String(),
				Path:   c.Get("path").String(),
				Line:   int(c.Get("line").Int()),
			})
		}
		if page.IsArray() {
			page.ForEach(func(_, c gjson.Result) bool {
				appendComment(c)
				return true
			})
		} else if page.Get("id").Exists() {
			appendComment(page)
		}
		return true
	})
	return comments
}

// HasReviewer reports whether the bot is involved with the PR at all,
// either still requested or having already submitted a review.
func (a *Analyzer) HasReviewer(reviews []Review, pendingReviewers []string, adapter Adapter) bool {
	for _, login := range pendingReviewers {
		if adapter.MatchesLogin(login) {
			return true
		}
	}
	for _, r := range reviews {
		if adapter.MatchesLogin(r.Author) {
			return true
		}
	}
	return false
}

// ReviewsBy filters reviews to those authored by the given bot, preserving
// order (oldest first).
func ReviewsBy(reviews []Review, adapter Adapter) []Review {
	var out []Review
	for _, r := range reviews {
		if adapter.MatchesLogin(r.Author) {
			out = append(out, r)
		}
	}
	return out
}

// Evaluate decides whether one bot reviewer still blocks the merge.
//
// Error tolerance: consecutive error reviews are counted from the newest
// backward. Once the count reaches the retry threshold AND an earlier
// successful review exists, the reviewer is treated as effectively done and
// the merge is allowed with a warning. This keeps a persistent bot-service
// outage from starving a correct PR.
func (a *Analyzer) Evaluate(reviews []Review, pendingReviewers []string, adapter Adapter) Verdict {
	botReviews := ReviewsBy(reviews, adapter)

	if len(botReviews) == 0 {
		// Requested but silent so far.
		for _, login := range pendingReviewers {
			if adapter.MatchesLogin(login) {
				return Verdict{Pending: true}
			}
		}
		// Never involved: nothing to wait for.
		return Verdict{Done: true}
	}

	latest := botReviews[len(botReviews)-1]
	if adapter.IsPending(latest.Body) {
		return Verdict{Pending: true}
	}

	consecutive := 0
	for i := len(botReviews) - 1; i >= 0; i-- {
		if adapter.IsReviewError(botReviews[i].Body) || adapter.IsRateLimited(botReviews[i].Body) {
			consecutive++
			continue
		}
		break
	}

	if consecutive == 0 {
		return Verdict{Done: true}
	}

	earlierSuccess := false
	for i := 0; i < len(botReviews)-consecutive; i++ {
		if !adapter.IsReviewError(botReviews[i].Body) && !adapter.IsRateLimited(botReviews[i].Body) {
			earlierSuccess = true
			break
		}
	}

	if consecutive >= a.errorRetryThreshold && earlierSuccess {
		return Verdict{Done: true, AllowWithWarning: true, ConsecutiveErrors: consecutive}
	}

	return Verdict{Pending: true, ConsecutiveErrors: consecutive}
}

// FetchAllReviewThreads pages through the PR's review threads until
// hasNextPage is false. On a rate-limited GraphQL call it falls back to the
// REST comment list; resolution state is unknown there, so REST-derived
// threads are conservatively reported unresolved.
func (a *Analyzer) FetchAllReviewThreads(ctx context.Context, prNumber int) ([]Thread, error) {
	owner, name, err := a.repo(ctx)
	if err != nil {
		return nil, err
	}

	restFallback := []string{"api",
		fmt.Sprintf("repos/%s/%s/pulls/%d/comments", owner, name, prNumber), "--paginate"}

	// Route around GraphQL entirely while it is known to be rate limited.
	if a.limiter != nil && a.limiter.ShouldPreferRESTAPI() {
		ok, out := a.runner.Run(ctx, restFallback...)
		if !ok {
			return nil, fmt.Errorf("fetching review comments for PR #%d: %s", prNumber, out)
		}
		return threadsFromComments(parseRESTComments(out)), nil
	}

	var threads []Thread
	cursor := ""
	for {
		args := []string{"api", "graphql",
			"-f", "query=" + threadsQuery,
			"-F", "owner=" + owner,
			"-F", "name=" + name,
			"-F", fmt.Sprintf("number=%d", prNumber),
		}
		if cursor != "" {
			args = append(args, "-F", "cursor="+cursor)
		}

		ok, out, usedFallback := a.runner.RunGraphQLWithFallback(ctx, args, restFallback)
		if !ok {
			return nil, fmt.Errorf("fetching review threads for PR #%d: %s", prNumber, out)
		}
		if usedFallback {
			slog.Warn("review threads fetched via REST fallback, resolution state unknown", "pr", prNumber)
			return threadsFromComments(parseRESTComments(out)), nil
		}

		conn := gjson.Get(out, "data.repository.pullRequest.reviewThreads")
		for _, node := range conn.Get("nodes").Array() {
			t := Thread{
				ID:         node.Get("id").String(),
				IsResolved: node.Get("isResolved").Bool(),
				Path:       node.Get("path").String(),
				Line:       int(node.Get("line").Int()),
			}
			for _, c := range node.Get("comments.nodes").Array() {
				t.Comments = append(t.Comments, Comment{
					ID:     c.Get("databaseId").String(),
					Author: c.Get("author.login").String(),
					Body:   c.Get("body").String(),
					Path:   t.Path,
					Line:   t.Line,
				})
			}
			threads = append(threads, t)
		}

		if !conn.Get("pageInfo.hasNextPage").Bool() {
			break
		}
		cursor = conn.Get("pageInfo.endCursor").String()
	}
	return threads, nil
}

// threadsFromComments builds one pseudo-thread per REST comment.
func threadsFromComments(comments []Comment) []Thread {
	var threads []Thread
	for _, c := range comments {
		threads = append(threads, Thread{
			ID:         "rest-" + c.ID,
			IsResolved: false,
			Path:       c.Path,
			Line:       c.Line,
			Comments:   []Comment{c},
		})
	}
	return threads
}

// UnresolvedThreads filters to threads that are not yet resolved.
func UnresolvedThreads(threads []Thread) []Thread {
	var out []Thread
	for _, t := range threads {
		if !t.IsResolved {
			out = append(out, t)
		}
	}
	return out
}

// UnresolvedAIThreads filters to unresolved threads opened by a known bot.
func UnresolvedAIThreads(threads []Thread) []Thread {
	var out []Thread
	for _, t := range UnresolvedThreads(threads) {
		if IsAIReviewer(t.Author()) {
			out = append(out, t)
		}
	}
	return out
}

// ResolveThread marks one review thread resolved via GraphQL.
func (a *Analyzer) ResolveThread(ctx context.Context, threadID string) error {
	ok, out := a.runner.Run(ctx, "api", "graphql",
		"-f", "query="+resolveThreadMutation,
		"-F", "threadId="+threadID)
	if !ok {
		return fmt.Errorf("resolving thread %s: %s", threadID, out)
	}
	return nil
}

// AutoResolveDuplicateThreads resolves unresolved AI threads whose normalized
// root bodies duplicate an earlier thread's, keeping the first occurrence
// open. Returns the number of threads resolved.
func (a *Analyzer) AutoResolveDuplicateThreads(ctx context.Context, threads []Thread) int {
	seen := make(map[string]bool)
	resolved := 0
	for _, t := range UnresolvedAIThreads(threads) {
		key := normalizeBody(t.RootBody())
		if key == "" {
			continue
		}
		if !seen[key] {
			seen[key] = true
			continue
		}
		if err := a.ResolveThread(ctx, t.ID); err != nil {
			slog.Warn("failed to auto-resolve duplicate thread", "threadID", t.ID, "error", err)
			continue
		}
		slog.Info("auto-resolved duplicate review thread", "threadID", t.ID, "path", t.Path)
		resolved++
	}
	return resolved
}

// normalizeBody collapses whitespace and case so near-identical bot comments
// compare equal.
func normalizeBody(body string) string {
	return strings.Join(strings.Fields(strings.ToLower(body)), " ")
}

// RequestCodexReview asks Codex to re-review by posting its trigger comment.
func (a *Analyzer) RequestCodexReview(ctx context.Context, prNumber int) CodexReviewRequest {
	ok, out := a.runner.Run(ctx, "pr", "comment", strconv.Itoa(prNumber),
		"--body", "@codex review")
	if !ok {
		return CodexReviewRequest{Requested: false, Message: out}
	}
	return CodexReviewRequest{Requested: true, Message: "codex re-review requested"}
}
