// Package pr wraps the GitHub pull request operations the monitor drives:
// state inspection, rebase, merge, and the last-resort recreate path.
package pr

import (
	"fmt"
	"strconv"
	"strings"
)

// MergeState is GitHub's reported mergeability of a PR against its base.
type MergeState string

const (
	MergeStateClean    MergeState = "CLEAN"
	MergeStateBehind   MergeState = "BEHIND"
	MergeStateBlocked  MergeState = "BLOCKED"
	MergeStateDirty    MergeState = "DIRTY"
	MergeStateUnstable MergeState = "UNSTABLE"
	MergeStateUnknown  MergeState = "UNKNOWN"
)

// ParseMergeState maps gh's mergeStateStatus to a MergeState. Anything
// unrecognized, including an empty response, is UNKNOWN so the caller never
// merges on a state it cannot interpret.
func ParseMergeState(s string) MergeState {
	switch MergeState(strings.ToUpper(strings.TrimSpace(s))) {
	case MergeStateClean:
		return MergeStateClean
	case MergeStateBehind:
		return MergeStateBehind
	case MergeStateBlocked:
		return MergeStateBlocked
	case MergeStateDirty:
		return MergeStateDirty
	case MergeStateUnstable:
		return MergeStateUnstable
	default:
		return MergeStateUnknown
	}
}

// CheckStatus summarizes a PR's CI check rollup.
type CheckStatus string

const (
	CheckStatusPending CheckStatus = "PENDING"
	CheckStatusSuccess CheckStatus = "SUCCESS"
	CheckStatusFailure CheckStatus = "FAILURE"
)

// PRState is one atomic observation of a PR. It is recomputed every poll and
// replaced wholesale, never field-by-field.
type PRState struct {
	MergeState       MergeState  `json:"merge_state"`
	CheckStatus      CheckStatus `json:"check_status"`
	PendingReviewers []string    `json:"pending_reviewers"`
}

// RebaseResult describes the outcome of one rebase attempt.
type RebaseResult struct {
	Attempted bool
	Succeeded bool
	Message   string
}

// ValidatePRNumber rejects empty or non-numeric PR identifiers before any
// network call is made.
func ValidatePRNumber(s string) (int, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if s == "" {
		return 0, fmt.Errorf("PR number is empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid PR number %q", s)
	}
	return n, nil
}

// ValidatePRNumbers validates a list of PR identifiers, failing on the first
// invalid entry.
func ValidatePRNumbers(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no PR numbers given")
	}
	nums := make([]int, 0, len(args))
	for _, a := range args {
		n, err := ValidatePRNumber(a)
		if err != nil {
			return nil, err
		}
		nums = append(nums, n)
	}
	return nums, nil
}
