package pr

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"cimonitor/internal/config"
	"cimonitor/internal/gh"
)

// Ops executes pull request operations through the gh CLI and local git.
type Ops struct {
	runner gh.Runner
	cfg    config.MonitorConfig

	// Seams for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	runGit func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewOps creates an Ops over the shared gh runner.
func NewOps(runner gh.Runner, cfg config.MonitorConfig) *Ops {
	return &Ops{
		runner: runner,
		cfg:    cfg,
		sleep:  sleepCtx,
		runGit: runGitCmd,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func runGitCmd(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// State fetches merge, check and reviewer status in one combined gh call.
// A malformed response yields MergeStateUnknown rather than an error so the
// loop observes, logs and does not advance.
func (o *Ops) State(ctx context.Context, prNumber int) (PRState, error) {
	ok, out := o.runner.Run(ctx, "pr", "view", strconv.Itoa(prNumber),
		"--json", "mergeStateStatus,statusCheckRollup,reviewRequests")
	if !ok {
		return PRState{}, fmt.Errorf("fetching state for PR #%d: %s", prNumber, out)
	}

	st := PRState{
		MergeState:  ParseMergeState(gjson.Get(out, "mergeStateStatus").String()),
		CheckStatus: checkStatusFromRollup(gjson.Get(out, "statusCheckRollup")),
	}
	for _, r := range gjson.Get(out, "reviewRequests").Array() {
		login := r.Get("login").String()
		if login == "" {
			login = r.Get("name").String()
		}
		if login != "" {
			st.PendingReviewers = append(st.PendingReviewers, login)
		}
	}
	return st, nil
}

// checkStatusFromRollup folds the per-check rollup into one status. Any
// failed check fails the PR; otherwise any unfinished check keeps it pending.
// A PR with no checks counts as passing.
func checkStatusFromRollup(rollup gjson.Result) CheckStatus {
	pending := false
	for _, check := range rollup.Array() {
		switch strings.ToUpper(check.Get("conclusion").String()) {
		case "FAILURE", "CANCELLED", "TIMED_OUT", "STARTUP_FAILURE", "ACTION_REQUIRED", "ERROR":
			return CheckStatusFailure
		case "":
			// No conclusion yet: still running unless terminally skipped.
			if strings.ToUpper(check.Get("status").String()) != "COMPLETED" {
				pending = true
			}
		}
	}
	if pending {
		return CheckStatusPending
	}
	return CheckStatusSuccess
}

// WaitForMainStable polls the main branch head until the configured number of
// consecutive observations agree, so a rebase never races a mid-flight push to
// main. It gives up, without error, after the configured maximum wait.
func (o *Ops) WaitForMainStable(ctx context.Context, prNumber int) error {
	branch := o.cfg.MainBranch
	if branch == "" {
		branch = "main"
	}
	path := "repos/{owner}/{repo}/branches/" + branch

	needed := o.cfg.MainStablePolls
	if needed < 2 {
		needed = 2
	}

	deadline := time.Now().Add(o.cfg.ParseMainStableMaxWait())
	interval := o.cfg.ParsePollInterval()
	if interval > 15*time.Second {
		interval = 15 * time.Second
	}

	lastSHA := ""
	streak := 0
	for {
		ok, out := o.runner.Run(ctx, "api", path, "--jq", ".commit.sha")
		if !ok {
			return fmt.Errorf("checking %s head before rebasing PR #%d: %s", branch, prNumber, out)
		}
		sha := strings.TrimSpace(out)
		if sha != "" && sha == lastSHA {
			streak++
		} else {
			streak = 1
		}
		if sha != "" && streak >= needed {
			return nil
		}
		lastSHA = sha

		if time.Now().After(deadline) {
			slog.Warn("main branch did not stabilize, proceeding with rebase anyway",
				"branch", branch, "pr", prNumber)
			return nil
		}
		if err := o.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// Rebase asks GitHub to rebase the PR branch onto its base.
func (o *Ops) Rebase(ctx context.Context, prNumber int) RebaseResult {
	ok, out := o.runner.Run(ctx, "pr", "update-branch", strconv.Itoa(prNumber), "--rebase")
	if !ok {
		return RebaseResult{Attempted: true, Succeeded: false, Message: out}
	}
	return RebaseResult{Attempted: true, Succeeded: true, Message: "branch updated via rebase"}
}

// SyncLocalAfterRebase fast-forwards a local checkout of the PR branch after
// a server-side rebase. The local branch history was rewritten, so a plain
// fast-forward cannot apply; the checkout is reset to the rewritten remote.
func (o *Ops) SyncLocalAfterRebase(ctx context.Context, workDir, branch string) error {
	if _, err := o.runGit(ctx, workDir, "fetch", "origin", branch); err != nil {
		return err
	}
	dirty, err := o.runGit(ctx, workDir, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return err
	}
	if dirty != "" {
		return fmt.Errorf("local checkout of %s has uncommitted changes, refusing to reset", branch)
	}
	if _, err := o.runGit(ctx, workDir, "reset", "--hard", "origin/"+branch); err != nil {
		return err
	}
	return nil
}

// SyncAfterRebase fast-forwards the current working directory after a
// server-side rebase, when it has the PR's head branch checked out. A no-op
// when some other branch (or no repository) is checked out here.
func (o *Ops) SyncAfterRebase(ctx context.Context, prNumber int) error {
	ok, out := o.runner.Run(ctx, "pr", "view", strconv.Itoa(prNumber), "--json", "headRefName")
	if !ok {
		return fmt.Errorf("fetching head branch of PR #%d: %s", prNumber, out)
	}
	head := gjson.Get(out, "headRefName").String()
	if head == "" {
		return nil
	}
	current, err := o.runGit(ctx, "", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil
	}
	if current != head {
		return nil
	}
	return o.SyncLocalAfterRebase(ctx, "", head)
}

// Merge merges the PR with a squash and deletes the remote branch.
func (o *Ops) Merge(ctx context.Context, prNumber int) (bool, string) {
	ok, out := o.runner.Run(ctx, "pr", "merge", strconv.Itoa(prNumber),
		"--squash", "--delete-branch")
	if !ok {
		return false, out
	}
	return true, "merged"
}

// prCreatedURL matches the PR URL gh prints after creating one.
var prCreatedURL = regexp.MustCompile(`/pull/(\d+)`)

// ReopenWithRetry tries to reopen a closed PR, falling back to recreating it
// from the same branch. Returns the PR number that is now open, which is the
// original on reopen and a new one on recreate.
func (o *Ops) ReopenWithRetry(ctx context.Context, prNumber int) (int, error) {
	ok, out := o.runner.Run(ctx, "pr", "reopen", strconv.Itoa(prNumber))
	if ok {
		return prNumber, nil
	}
	slog.Warn("reopen failed, recreating PR", "pr", prNumber, "error", out)
	return o.Recreate(ctx, prNumber)
}

// Recreate closes the PR and opens a fresh one from the same head branch,
// carrying the title and body over. This is the last resort when merge or
// review keeps failing for reasons outside the monitor's control.
func (o *Ops) Recreate(ctx context.Context, prNumber int) (int, error) {
	ok, out := o.runner.Run(ctx, "pr", "view", strconv.Itoa(prNumber),
		"--json", "headRefName,baseRefName,title,body,state")
	if !ok {
		return 0, fmt.Errorf("inspecting PR #%d before recreate: %s", prNumber, out)
	}
	head := gjson.Get(out, "headRefName").String()
	base := gjson.Get(out, "baseRefName").String()
	title := gjson.Get(out, "title").String()
	body := gjson.Get(out, "body").String()
	if head == "" {
		return 0, fmt.Errorf("PR #%d has no head branch to recreate from", prNumber)
	}

	if gjson.Get(out, "state").String() == "OPEN" {
		ok, closeOut := o.runner.Run(ctx, "pr", "close", strconv.Itoa(prNumber),
			"--comment", "Closing to recreate after repeated failures.")
		if !ok {
			return 0, fmt.Errorf("closing PR #%d: %s", prNumber, closeOut)
		}
	}

	args := []string{"pr", "create", "--head", head, "--title", title, "--body", body}
	if base != "" {
		args = append(args, "--base", base)
	}
	ok, createOut := o.runner.Run(ctx, args...)
	if !ok {
		return 0, fmt.Errorf("recreating PR #%d: %s", prNumber, createOut)
	}

	m := prCreatedURL.FindStringSubmatch(createOut)
	if m == nil {
		return 0, fmt.Errorf("could not determine new PR number from: %s", strings.TrimSpace(createOut))
	}
	n, _ := strconv.Atoi(m[1])
	slog.Info("recreated PR", "old", prNumber, "new", n, "head", head)
	return n, nil
}

// closesIssue matches issue-closing keywords in a PR body.
var closesIssue = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\s+#(\d+)`)

// LinkedIssueBody returns the body of the issue the PR declares it closes,
// for checking review feedback against the issue's acceptance criteria.
// Returns "" without error when the PR links no issue.
func (o *Ops) LinkedIssueBody(ctx context.Context, prNumber int) (string, error) {
	ok, out := o.runner.Run(ctx, "pr", "view", strconv.Itoa(prNumber), "--json", "body")
	if !ok {
		return "", fmt.Errorf("fetching body of PR #%d: %s", prNumber, out)
	}
	m := closesIssue.FindStringSubmatch(gjson.Get(out, "body").String())
	if m == nil {
		return "", nil
	}

	ok, issueOut := o.runner.Run(ctx, "issue", "view", m[1], "--json", "body")
	if !ok {
		return "", fmt.Errorf("fetching linked issue #%s: %s", m[1], issueOut)
	}
	return gjson.Get(issueOut, "body").String(), nil
}

// OverlappingFiles reports which other open PRs touch files this PR touches,
// keyed by PR number. Used to warn before rebasing into a conflict.
func (o *Ops) OverlappingFiles(ctx context.Context, prNumber int) (map[int][]string, error) {
	ok, out := o.runner.Run(ctx, "pr", "view", strconv.Itoa(prNumber), "--json", "files")
	if !ok {
		return nil, fmt.Errorf("fetching files of PR #%d: %s", prNumber, out)
	}
	mine := make(map[string]bool)
	for _, f := range gjson.Get(out, "files").Array() {
		mine[f.Get("path").String()] = true
	}
	if len(mine) == 0 {
		return nil, nil
	}

	ok, listOut := o.runner.Run(ctx, "pr", "list", "--state", "open", "--json", "number,files")
	if !ok {
		return nil, fmt.Errorf("listing open PRs: %s", listOut)
	}

	overlaps := make(map[int][]string)
	for _, other := range gjson.Parse(listOut).Array() {
		n := int(other.Get("number").Int())
		if n == prNumber {
			continue
		}
		for _, f := range other.Get("files").Array() {
			if path := f.Get("path").String(); mine[path] {
				overlaps[n] = append(overlaps[n], path)
			}
		}
	}
	if len(overlaps) == 0 {
		return nil, nil
	}
	return overlaps, nil
}
