package gh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"golang.org/x/time/rate"

	"cimonitor/internal/config"
)

// urlPattern matches embedded URLs so they can be stripped before rate-limit
// signature matching. URLs routinely contain words like "rate" and would
// otherwise produce false positives.
var urlPattern = regexp.MustCompile(`https?://\S+`)

// Runner abstracts gh execution for the packages that consume the client.
type Runner interface {
	// Run executes gh with the given arguments. Expected failures (non-zero
	// exit, timeout) are reported as ok=false with explanatory output, never
	// as a Go error.
	Run(ctx context.Context, args ...string) (ok bool, stdout string)

	// RunWithError is Run with stderr captured separately.
	RunWithError(ctx context.Context, args ...string) (ok bool, stdout, stderr string)

	// RunGraphQLWithFallback executes the primary call; on any failure it
	// executes the fallback and reports usedFallback=true regardless of
	// whether the fallback itself succeeded.
	RunGraphQLWithFallback(ctx context.Context, primary, fallback []string) (ok bool, output string, usedFallback bool)
}

// Client executes gh CLI invocations with a fixed per-call timeout and
// client-side pacing. All expected failure modes are returned as values.
type Client struct {
	binary  string
	token   string
	timeout time.Duration
	limiter *rate.Limiter

	// notifyRateLimit is invoked when a GraphQL call fails with a rate-limit
	// signature, so the shared RateLimiter can flip to preferring REST.
	notifyRateLimit func()

	// execFn is a test seam; nil means real subprocess execution.
	execFn func(ctx context.Context, name string, args []string) (stdout, stderr string, err error)
}

// OnGraphQLRateLimited registers a callback fired when a GraphQL primary
// call fails with a rate-limit signature.
func (c *Client) OnGraphQLRateLimited(fn func()) {
	c.notifyRateLimit = fn
}

// NewClient creates a Client from the gh and rate-limit config sections.
func NewClient(ghCfg config.GitHubConfig, rlCfg config.RateLimitConfig) *Client {
	cps := rlCfg.CallsPerSecond
	if cps <= 0 {
		cps = 2
	}
	return &Client{
		binary:  ghCfg.Binary,
		token:   ghCfg.Token,
		timeout: ghCfg.ParseCommandTimeout(),
		limiter: rate.NewLimiter(rate.Limit(cps), 1),
	}
}

// Run executes gh with the given arguments.
func (c *Client) Run(ctx context.Context, args ...string) (bool, string) {
	ok, stdout, _ := c.RunWithError(ctx, args...)
	return ok, stdout
}

// RunWithError executes gh and captures stdout and stderr separately.
func (c *Client) RunWithError(ctx context.Context, args ...string) (bool, string, string) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Sprintf("cancelled before invocation: %v", err), ""
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slog.Debug("running gh command", "cmd", shellquote.Join(append([]string{c.binary}, args...)...))

	stdout, stderr, err := c.execute(callCtx, c.binary, args)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			msg := fmt.Sprintf("gh command timed out after %s: %s", c.timeout, shellquote.Join(args...))
			return false, msg, stderr
		}
		return false, stdout, stderr
	}
	return true, stdout, stderr
}

// RunGraphQLWithFallback executes the primary GraphQL call, falling back to
// the supplied (typically REST) argument vector on any failure. usedFallback
// is true whenever the fallback was attempted, even if it also failed, so
// callers can count fallback attempts.
func (c *Client) RunGraphQLWithFallback(ctx context.Context, primary, fallback []string) (bool, string, bool) {
	ok, stdout, stderr := c.RunWithError(ctx, primary...)
	if ok {
		return true, stdout, false
	}

	if IsRateLimitError(stdout, stderr) {
		slog.Warn("graphql call rate limited, using fallback", "cmd", shellquote.Join(primary...))
		if c.notifyRateLimit != nil {
			c.notifyRateLimit()
		}
	} else {
		slog.Debug("graphql call failed, using fallback", "stderr", firstLine(stderr))
	}

	fbOK, fbOut := c.Run(ctx, fallback...)
	return fbOK, fbOut, true
}

// execute runs the subprocess, honoring the test seam when set.
func (c *Client) execute(ctx context.Context, name string, args []string) (string, string, error) {
	if c.execFn != nil {
		return c.execFn(ctx, name, args)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if c.token != "" {
		cmd.Env = append(os.Environ(), "GH_TOKEN="+c.token)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimRight(stdout.String(), "\n"), stderr.String(), err
}

// IsRateLimitError reports whether gh output carries a GitHub rate-limit
// signature. Embedded URLs are stripped first. Recognizes both the primary
// ("rate_limited" error code, "API rate limit exceeded") and secondary
// ("secondary rate limit", "submitted too quickly") forms.
func IsRateLimitError(stdout, stderr string) bool {
	combined := stdout + "\n" + stderr
	combined = urlPattern.ReplaceAllString(combined, "")
	combined = strings.ToLower(combined)

	for _, sig := range []string{
		"rate_limited",
		"api rate limit exceeded",
		"secondary rate limit",
		"was submitted too quickly",
	} {
		if strings.Contains(combined, sig) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
