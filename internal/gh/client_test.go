package gh

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cimonitor/internal/config"
)

func testClient(execFn func(ctx context.Context, name string, args []string) (string, string, error)) *Client {
	c := NewClient(config.GitHubConfig{Binary: "gh", CommandTimeout: "5s"},
		config.RateLimitConfig{CallsPerSecond: 1000})
	c.execFn = execFn
	return c
}

func TestRunSuccess(t *testing.T) {
	c := testClient(func(_ context.Context, name string, args []string) (string, string, error) {
		assert.Equal(t, "gh", name)
		assert.Equal(t, []string{"pr", "view", "42"}, args)
		return `{"number":42}`, "", nil
	})

	ok, out := c.Run(context.Background(), "pr", "view", "42")
	assert.True(t, ok)
	assert.Equal(t, `{"number":42}`, out)
}

func TestRunFailureIsNotAnError(t *testing.T) {
	c := testClient(func(_ context.Context, _ string, _ []string) (string, string, error) {
		return "", "pull request not found", errors.New("exit status 1")
	})

	ok, stdout, stderr := c.RunWithError(context.Background(), "pr", "view", "999999")
	assert.False(t, ok)
	assert.Empty(t, stdout)
	assert.Equal(t, "pull request not found", stderr)
}

func TestRunTimeoutReportedAsMessage(t *testing.T) {
	c := testClient(func(ctx context.Context, _ string, _ []string) (string, string, error) {
		<-ctx.Done()
		return "", "", ctx.Err()
	})
	c.timeout = 10 * time.Millisecond

	ok, out := c.Run(context.Background(), "pr", "checks", "42")
	assert.False(t, ok)
	assert.Contains(t, out, "timed out")
	assert.Contains(t, out, "pr checks 42")
}

func TestRunGraphQLWithFallback_PrimarySucceeds(t *testing.T) {
	c := testClient(func(_ context.Context, _ string, args []string) (string, string, error) {
		return "primary-result", "", nil
	})

	ok, out, usedFallback := c.RunGraphQLWithFallback(context.Background(),
		[]string{"api", "graphql", "-f", "query=..."},
		[]string{"api", "repos/o/r/pulls/1"})
	assert.True(t, ok)
	assert.Equal(t, "primary-result", out)
	assert.False(t, usedFallback)
}

func TestRunGraphQLWithFallback_FallbackUsedOnFailure(t *testing.T) {
	calls := 0
	c := testClient(func(_ context.Context, _ string, args []string) (string, string, error) {
		calls++
		if calls == 1 {
			return "", "API rate limit exceeded", errors.New("exit status 1")
		}
		return "rest-result", "", nil
	})

	ok, out, usedFallback := c.RunGraphQLWithFallback(context.Background(),
		[]string{"api", "graphql"}, []string{"api", "repos/o/r/pulls/1"})
	assert.True(t, ok)
	assert.Equal(t, "rest-result", out)
	assert.True(t, usedFallback)
}

func TestRunGraphQLWithFallback_FlagSetEvenWhenFallbackFails(t *testing.T) {
	c := testClient(func(_ context.Context, _ string, _ []string) (string, string, error) {
		return "", "boom", errors.New("exit status 1")
	})

	ok, _, usedFallback := c.RunGraphQLWithFallback(context.Background(),
		[]string{"api", "graphql"}, []string{"api", "repos/o/r/pulls/1"})
	assert.False(t, ok)
	assert.True(t, usedFallback)
}

func TestIsRateLimitError(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
		stderr string
		want   bool
	}{
		{"primary code", `{"errors":[{"type":"RATE_LIMITED"}]}`, "", true},
		{"rest message", "", "API rate limit exceeded for user ID 1", true},
		{"secondary", "", "You have exceeded a secondary rate limit", true},
		{"too quickly", "", "was submitted too quickly", true},
		{"clean failure", "", "pull request not found", false},
		{"url false positive", "see https://docs.github.com/rest/rate-limit for info", "not found", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRateLimitError(tc.stdout, tc.stderr))
		})
	}
}

// fakeRunner scripts gh responses by argument prefix.
type fakeRunner struct {
	responses map[string]fakeResponse
	calls     [][]string
}

type fakeResponse struct {
	ok     bool
	stdout string
	stderr string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string]fakeResponse)}
}

func (f *fakeRunner) stub(key string, ok bool, stdout string) {
	f.responses[key] = fakeResponse{ok: ok, stdout: stdout}
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (bool, string) {
	f.calls = append(f.calls, args)
	for key, resp := range f.responses {
		if matchesPrefix(args, key) {
			return resp.ok, resp.stdout
		}
	}
	return false, "no stub for " + join(args)
}

func (f *fakeRunner) RunWithError(ctx context.Context, args ...string) (bool, string, string) {
	ok, out := f.Run(ctx, args...)
	return ok, out, ""
}

func (f *fakeRunner) RunGraphQLWithFallback(ctx context.Context, primary, fallback []string) (bool, string, bool) {
	ok, out := f.Run(ctx, primary...)
	if ok {
		return true, out, false
	}
	fbOK, fbOut := f.Run(ctx, fallback...)
	return fbOK, fbOut, true
}

func matchesPrefix(args []string, key string) bool {
	return len(join(args)) >= len(key) && join(args)[:len(key)] == key
}

func join(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func TestCheckRateLimit(t *testing.T) {
	f := newFakeRunner()
	f.stub("api rate_limit", true, `{"resources":{"core":{"limit":5000,"remaining":4200,"reset":1767225600}}}`)

	rl := NewRateLimiter(f, config.RateLimitConfig{LowQuotaThreshold: 500, CriticalQuotaThreshold: 100, GraphQLCooldown: "10m"})
	q, ok := rl.CheckRateLimit(context.Background())
	require.True(t, ok)
	assert.Equal(t, 4200, q.Remaining)
	assert.Equal(t, 5000, q.Limit)
	assert.Equal(t, time.Unix(1767225600, 0), q.ResetAt)
}

func TestCheckRateLimitFailureKeepsSnapshot(t *testing.T) {
	f := newFakeRunner()
	f.stub("api rate_limit", true, `{"resources":{"core":{"limit":5000,"remaining":10,"reset":0}}}`)
	rl := NewRateLimiter(f, config.RateLimitConfig{LowQuotaThreshold: 500, CriticalQuotaThreshold: 100})

	_, ok := rl.CheckRateLimit(context.Background())
	require.True(t, ok)

	f.stub("api rate_limit", false, "")
	q, ok := rl.CheckRateLimit(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 10, q.Remaining)
}

func TestAdjustedInterval(t *testing.T) {
	f := newFakeRunner()
	rl := NewRateLimiter(f, config.RateLimitConfig{LowQuotaThreshold: 500, CriticalQuotaThreshold: 100})
	base := 30 * time.Second

	// No quota information yet: base unchanged.
	assert.Equal(t, base, rl.AdjustedInterval(base))

	stubRemaining := func(n int) {
		f.stub("api rate_limit", true,
			`{"resources":{"core":{"limit":5000,"remaining":`+strconv.Itoa(n)+`,"reset":0}}}`)
		_, ok := rl.CheckRateLimit(context.Background())
		require.True(t, ok)
	}

	stubRemaining(4000)
	assert.Equal(t, base, rl.AdjustedInterval(base))

	stubRemaining(400)
	assert.Equal(t, 2*base, rl.AdjustedInterval(base))

	stubRemaining(50)
	assert.Equal(t, 4*base, rl.AdjustedInterval(base))

	// Quota recovered: interval narrows back.
	stubRemaining(3000)
	assert.Equal(t, base, rl.AdjustedInterval(base))
}

func TestAdjustedIntervalExhaustedWaitsForReset(t *testing.T) {
	f := newFakeRunner()
	rl := NewRateLimiter(f, config.RateLimitConfig{LowQuotaThreshold: 500, CriticalQuotaThreshold: 100})

	resetAt := time.Now().Add(3 * time.Minute)
	f.stub("api rate_limit", true,
		`{"resources":{"core":{"limit":5000,"remaining":0,"reset":`+strconv.Itoa(int(resetAt.Unix()))+`}}}`)
	_, ok := rl.CheckRateLimit(context.Background())
	require.True(t, ok)

	got := rl.AdjustedInterval(30 * time.Second)
	assert.Greater(t, got, 2*time.Minute)
}

func TestShouldPreferRESTAPI(t *testing.T) {
	f := newFakeRunner()
	rl := NewRateLimiter(f, config.RateLimitConfig{GraphQLCooldown: "10m"})

	assert.False(t, rl.ShouldPreferRESTAPI())

	rl.NoteGraphQLRateLimited()
	assert.True(t, rl.ShouldPreferRESTAPI())

	// Advance past the cooldown via the clock seam.
	rl.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	assert.False(t, rl.ShouldPreferRESTAPI())
}
