// Package review fetches and classifies pull request reviews left by AI
// reviewer bots (Copilot, Codex, Gemini), manages GraphQL review threads,
// and detects contradictory comments.
package review

import "time"

// Review is one submitted review on a pull request.
type Review struct {
	Author      string
	State       string // APPROVED, CHANGES_REQUESTED, COMMENTED, PENDING
	Body        string
	SubmittedAt time.Time
}

// Comment is a single review comment anchored to a file and line.
type Comment struct {
	ID     string
	Author string
	Body   string
	Path   string
	Line   int
}

// Thread is a resolvable GraphQL review thread. The first comment is the
// thread root; its author identifies who opened the thread.
type Thread struct {
	ID         string
	IsResolved bool
	Path       string
	Line       int
	Comments   []Comment
}

// Author returns the login of the thread's root comment, or "" for an
// empty thread.
func (t Thread) Author() string {
	if len(t.Comments) == 0 {
		return ""
	}
	return t.Comments[0].Author
}

// RootBody returns the body of the thread's root comment.
func (t Thread) RootBody() string {
	if len(t.Comments) == 0 {
		return ""
	}
	return t.Comments[0].Body
}

// Verdict summarizes whether one bot reviewer is finished with a PR.
type Verdict struct {
	// Done means the reviewer no longer blocks the merge.
	Done bool
	// AllowWithWarning is set when the reviewer is treated as done only
	// because its persistent errors exhausted the retry tolerance.
	AllowWithWarning bool
	// ConsecutiveErrors is the count of error reviews from the newest
	// backward.
	ConsecutiveErrors int
	// Pending means the reviewer was requested but has not produced a
	// usable review yet.
	Pending bool
}

// CodexReviewRequest records the outcome of asking Codex to re-review.
// Not persisted beyond the current poll iteration.
type CodexReviewRequest struct {
	Requested bool
	Message   string
}
