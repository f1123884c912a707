package review

import "strings"

// Adapter abstracts one AI reviewer bot. Adding a new bot means adding one
// adapter implementation; the monitoring state machine stays untouched.
type Adapter interface {
	// Name is the short reviewer identifier ("copilot", "codex", "gemini").
	Name() string

	// MatchesLogin reports whether a GitHub login belongs to this bot.
	MatchesLogin(login string) bool

	// IsReviewError reports whether a review body is the bot announcing it
	// failed rather than an actual review.
	IsReviewError(body string) bool

	// IsRateLimited reports whether a review body is the bot announcing it
	// was rate limited or out of quota.
	IsRateLimited(body string) bool

	// IsPending reports whether a review body announces the bot is still
	// working.
	IsPending(body string) bool
}

// Adapters returns the known AI reviewer adapters.
func Adapters() []Adapter {
	return []Adapter{copilotAdapter{}, codexAdapter{}, geminiAdapter{}}
}

// AdapterFor returns the adapter matching a login, or nil for human or
// unknown reviewers.
func AdapterFor(login string) Adapter {
	for _, a := range Adapters() {
		if a.MatchesLogin(login) {
			return a
		}
	}
	return nil
}

// IsAIReviewer reports whether the login belongs to any known reviewer bot.
func IsAIReviewer(login string) bool {
	return AdapterFor(login) != nil
}

func containsAny(body string, signatures ...string) bool {
	lower := strings.ToLower(body)
	for _, sig := range signatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// --- Copilot ---

type copilotAdapter struct{}

func (copilotAdapter) Name() string { return "copilot" }

func (copilotAdapter) MatchesLogin(login string) bool {
	lower := strings.ToLower(login)
	return lower == "copilot" || strings.HasPrefix(lower, "copilot-pull-request-reviewer")
}

func (copilotAdapter) IsReviewError(body string) bool {
	return containsAny(body,
		"copilot wasn't able to review",
		"encountered an error and was unable to review",
		"encountered an error",
	)
}

func (copilotAdapter) IsRateLimited(body string) bool {
	return containsAny(body, "rate limit", "quota")
}

func (copilotAdapter) IsPending(body string) bool {
	return containsAny(body, "currently reviewing")
}

// --- Codex ---

type codexAdapter struct{}

func (codexAdapter) Name() string { return "codex" }

func (codexAdapter) MatchesLogin(login string) bool {
	lower := strings.ToLower(login)
	return lower == "codex" || strings.HasPrefix(lower, "chatgpt-codex-connector")
}

func (codexAdapter) IsReviewError(body string) bool {
	return containsAny(body,
		"codex couldn't review",
		"codex was unable to review",
		"something went wrong",
	)
}

func (codexAdapter) IsRateLimited(body string) bool {
	return containsAny(body, "usage limit", "rate limit")
}

func (codexAdapter) IsPending(body string) bool {
	return containsAny(body, "codex is reviewing")
}

// --- Gemini ---

type geminiAdapter struct{}

func (geminiAdapter) Name() string { return "gemini" }

func (geminiAdapter) MatchesLogin(login string) bool {
	lower := strings.ToLower(login)
	return strings.HasPrefix(lower, "gemini-code-assist")
}

func (geminiAdapter) IsReviewError(body string) bool {
	return containsAny(body, "unable to generate a review", "an internal error occurred")
}

func (geminiAdapter) IsRateLimited(body string) bool {
	return containsAny(body,
		"exceeded your daily quota",
		"you have reached your quota limit",
		"rate limit",
	)
}

func (geminiAdapter) IsPending(body string) bool {
	return containsAny(body, "i'm currently reviewing", "review is in progress")
}
