package config

import "time"

// Config is the top-level ci-monitor configuration.
type Config struct {
	GitHub    GitHubConfig    `json:"github"`
	Monitor   MonitorConfig   `json:"monitor"`
	Review    ReviewConfig    `json:"review"`
	State     StateConfig     `json:"state"`
	EventLog  EventLogConfig  `json:"event_log"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// GitHubConfig controls how the gh CLI is invoked.
type GitHubConfig struct {
	// Binary is the gh executable name or path.
	Binary string `json:"binary"`
	// Token overrides GH_TOKEN for gh invocations when set.
	Token string `json:"token,omitempty"`
	// CommandTimeout bounds every single gh invocation.
	CommandTimeout string `json:"command_timeout"`
}

// ParseCommandTimeout returns the per-invocation gh timeout as a time.Duration.
func (g GitHubConfig) ParseCommandTimeout() time.Duration {
	d, err := time.ParseDuration(g.CommandTimeout)
	if err != nil {
		return time.Minute
	}
	return d
}

// MonitorConfig holds the monitoring loop settings and retry budgets.
type MonitorConfig struct {
	PollInterval      string `json:"poll_interval"`
	TimeoutMinutes    int    `json:"timeout_minutes"`
	MaxRebase         int    `json:"max_rebase"`
	MaxMergeAttempts  int    `json:"max_merge_attempts"`
	MaxPRRecreate     int    `json:"max_pr_recreate"`
	MainBranch        string `json:"main_branch"`
	MainStablePolls   int    `json:"main_stable_polls"`
	MainStableMaxWait string `json:"main_stable_max_wait"`
}

// ParsePollInterval returns the base poll interval as a time.Duration.
func (m MonitorConfig) ParsePollInterval() time.Duration {
	d, err := time.ParseDuration(m.PollInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ParseMainStableMaxWait bounds how long WaitForMainStable may block.
func (m MonitorConfig) ParseMainStableMaxWait() time.Duration {
	d, err := time.ParseDuration(m.MainStableMaxWait)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// Timeout returns the overall monitoring deadline.
func (m MonitorConfig) Timeout() time.Duration {
	if m.TimeoutMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(m.TimeoutMinutes) * time.Minute
}

// ReviewConfig holds AI-reviewer classification settings.
type ReviewConfig struct {
	// ErrorRetryThreshold is the number of consecutive failed bot reviews
	// tolerated before the reviewer is treated as effectively done.
	ErrorRetryThreshold int `json:"error_retry_threshold"`
	// ProximityThreshold is the line distance under which two comments on the
	// same file are flagged as a potential contradiction.
	ProximityThreshold int `json:"proximity_threshold"`
}

// StateConfig controls where durable per-PR monitor state and run reports live.
type StateConfig struct {
	Dir string `json:"dir"`
	// ReportsDir holds one markdown report per finished monitoring run.
	ReportsDir string `json:"reports_dir"`
}

// EventLogConfig controls the append-only JSONL event log.
type EventLogConfig struct {
	Path string `json:"path"`
	// MaxSizeMB is the rotation threshold for the event log file.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups is how many rotated event log files to keep.
	MaxBackups int `json:"max_backups"`
}

// RateLimitConfig tunes the adaptive polling behavior.
type RateLimitConfig struct {
	// LowQuotaThreshold is the remaining-request count under which polling widens.
	LowQuotaThreshold int `json:"low_quota_threshold"`
	// CriticalQuotaThreshold is the count under which polling widens aggressively.
	CriticalQuotaThreshold int `json:"critical_quota_threshold"`
	// GraphQLCooldown is how long REST is preferred after a GraphQL rate limit.
	GraphQLCooldown string `json:"graphql_cooldown"`
	// CallsPerSecond paces gh invocations client-side.
	CallsPerSecond float64 `json:"calls_per_second"`
}

// ParseGraphQLCooldown returns the REST-preference window as a time.Duration.
func (r RateLimitConfig) ParseGraphQLCooldown() time.Duration {
	d, err := time.ParseDuration(r.GraphQLCooldown)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GitHub: GitHubConfig{
			Binary:         "gh",
			CommandTimeout: "60s",
		},
		Monitor: MonitorConfig{
			PollInterval:      "30s",
			TimeoutMinutes:    60,
			MaxRebase:         3,
			MaxMergeAttempts:  3,
			MaxPRRecreate:     2,
			MainBranch:        "main",
			MainStablePolls:   2,
			MainStableMaxWait: "5m",
		},
		Review: ReviewConfig{
			ErrorRetryThreshold: 2,
			ProximityThreshold:  10,
		},
		State: StateConfig{
			Dir:        "~/.local/share/ci-monitor/state",
			ReportsDir: "~/.local/share/ci-monitor/reports",
		},
		EventLog: EventLogConfig{
			Path:       "~/.local/share/ci-monitor/events.jsonl",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		RateLimit: RateLimitConfig{
			LowQuotaThreshold:      500,
			CriticalQuotaThreshold: 100,
			GraphQLCooldown:        "10m",
			CallsPerSecond:         2,
		},
	}
}
