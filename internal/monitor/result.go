package monitor

import "cimonitor/internal/pr"

// MonitorResult is the terminal summary of one PR monitoring run. Exactly one
// is produced per PR per run; it is what the CLI serializes to stdout.
type MonitorResult struct {
	Success           bool        `json:"success"`
	Message           string      `json:"message"`
	RebaseCount       int         `json:"rebase_count"`
	ReviewCompleted   bool        `json:"review_completed"`
	CIPassed          bool        `json:"ci_passed"`
	FinalState        *pr.PRState `json:"final_state,omitempty"`
	ReviewComments    int         `json:"review_comments,omitempty"`
	UnresolvedThreads int         `json:"unresolved_threads,omitempty"`
}

// MultiPREvent is the per-PR outcome line of a multi-PR run.
type MultiPREvent struct {
	PRNumber int    `json:"pr_number"`
	Event    string `json:"event"`
	State    string `json:"state"`
}
