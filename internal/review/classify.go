package review

import "strings"

// ClassifiedComments partitions fetched review comments by reviewer and into
// actionable vs informational buckets. Used to decide whether a review is
// complete enough to merge.
type ClassifiedComments struct {
	// Actionable holds comments asking for a change, keyed by reviewer name
	// ("copilot", "codex", "gemini", or "human").
	Actionable map[string][]Comment
	// Informational holds notes, praise, and bot status chatter.
	Informational map[string][]Comment
}

// HasActionable reports whether any reviewer left an actionable comment.
func (c ClassifiedComments) HasActionable() bool {
	for _, comments := range c.Actionable {
		if len(comments) > 0 {
			return true
		}
	}
	return false
}

// Total returns the total number of classified comments.
func (c ClassifiedComments) Total() int {
	n := 0
	for _, comments := range c.Actionable {
		n += len(comments)
	}
	for _, comments := range c.Informational {
		n += len(comments)
	}
	return n
}

// actionableMarkers are body fragments indicating the comment requests a
// change rather than stating information.
var actionableMarkers = []string{
	"```suggestion",
	"should ",
	"must ",
	"needs to",
	"please ",
	"consider ",
	"fix ",
	"missing ",
	"incorrect",
	"bug",
	"error-prone",
	"potential issue",
}

// informationalMarkers override actionable detection for obvious chatter.
var informationalMarkers = []string{
	"nitpick",
	"nit:",
	"note:",
	"fyi",
	"lgtm",
	"looks good",
	"no issues found",
}

// Classify partitions comments by reviewer and by whether they demand action.
// Bot error/rate-limit notices are always informational.
func Classify(comments []Comment) ClassifiedComments {
	out := ClassifiedComments{
		Actionable:    make(map[string][]Comment),
		Informational: make(map[string][]Comment),
	}

	for _, c := range comments {
		reviewer := "human"
		adapter := AdapterFor(c.Author)
		if adapter != nil {
			reviewer = adapter.Name()
		}

		if adapter != nil && (adapter.IsReviewError(c.Body) || adapter.IsRateLimited(c.Body) || adapter.IsPending(c.Body)) {
			out.Informational[reviewer] = append(out.Informational[reviewer], c)
			continue
		}

		if isActionable(c.Body) {
			out.Actionable[reviewer] = append(out.Actionable[reviewer], c)
		} else {
			out.Informational[reviewer] = append(out.Informational[reviewer], c)
		}
	}
	return out
}

func isActionable(body string) bool {
	lower := strings.ToLower(body)
	for _, m := range informationalMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	for _, m := range actionableMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
