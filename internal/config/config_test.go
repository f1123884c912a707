package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gh", cfg.GitHub.Binary)
	assert.Equal(t, 3, cfg.Monitor.MaxRebase)
	assert.Equal(t, 3, cfg.Monitor.MaxMergeAttempts)
	assert.Equal(t, 2, cfg.Monitor.MaxPRRecreate)
	assert.Equal(t, 2, cfg.Monitor.MainStablePolls)
	assert.Equal(t, 2, cfg.Review.ErrorRetryThreshold)
	assert.Equal(t, 10, cfg.Review.ProximityThreshold)
	assert.Equal(t, 30*time.Second, cfg.Monitor.ParsePollInterval())
	assert.Equal(t, time.Minute, cfg.GitHub.ParseCommandTimeout())
	assert.Equal(t, 60*time.Minute, cfg.Monitor.Timeout())
}

func TestLoadJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.jsonc")

	content := []byte(`{
  // This is a JSONC comment
  "monitor": {
    "max_rebase": 7
  },
  "github": {
    "binary": "/opt/gh/bin/gh"
  }
}`)

	require.NoError(t, os.WriteFile(path, content, 0644))

	m, err := loadJSONC(path)
	require.NoError(t, err)

	monitor, ok := m["monitor"].(map[string]any)
	require.True(t, ok, "expected monitor to be a map")
	assert.Equal(t, float64(7), monitor["max_rebase"])

	gh, ok := m["github"].(map[string]any)
	require.True(t, ok, "expected github to be a map")
	assert.Equal(t, "/opt/gh/bin/gh", gh["binary"])
}

func TestLoadJSONC_FileNotFound(t *testing.T) {
	_, err := loadJSONC("/nonexistent/path/config.jsonc")
	assert.Error(t, err)
}

func TestLoadJSONC_MalformedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.jsonc")

	// Truncated JSON
	require.NoError(t, os.WriteFile(path, []byte(`{"monitor": {"max_rebase": 7`), 0644))

	_, err := loadJSONC(path)
	assert.Error(t, err)
}

func TestMergeIntoConfig(t *testing.T) {
	cfg := DefaultConfig()

	src := map[string]any{
		"monitor": map[string]any{
			"max_rebase": 5,
		},
	}

	require.NoError(t, mergeIntoConfig(&cfg, src))

	assert.Equal(t, 5, cfg.Monitor.MaxRebase)
	// Sibling fields should remain untouched
	assert.Equal(t, 3, cfg.Monitor.MaxMergeAttempts)
	assert.Equal(t, 10, cfg.Review.ProximityThreshold)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv("GITHUB_TOKEN", "gh-token-456")
	t.Setenv("CI_MONITOR_STATE_DIR", "/tmp/cimon-state")
	t.Setenv("CI_MONITOR_EVENT_LOG", "/tmp/cimon-events.jsonl")

	applyEnvOverrides(&cfg)

	assert.Equal(t, "gh-token-456", cfg.GitHub.Token)
	assert.Equal(t, "/tmp/cimon-state", cfg.State.Dir)
	assert.Equal(t, "/tmp/cimon-events.jsonl", cfg.EventLog.Path)
}

func TestParsePollInterval_Invalid(t *testing.T) {
	m := MonitorConfig{PollInterval: "not-a-duration"}
	assert.Equal(t, 30*time.Second, m.ParsePollInterval())
}

func TestParseGraphQLCooldown_Invalid(t *testing.T) {
	r := RateLimitConfig{GraphQLCooldown: "bad"}
	assert.Equal(t, 10*time.Minute, r.ParseGraphQLCooldown())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	want := filepath.Join(home, ".local", "share", "ci-monitor", "state")
	assert.Equal(t, want, expandHome("~/.local/share/ci-monitor/state"))
	assert.Equal(t, "/absolute/path", expandHome("/absolute/path"))
}
