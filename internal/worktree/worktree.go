// Package worktree detects and tears down the git worktree a PR branch was
// developed in once the PR has merged.
package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Manager inspects and removes git worktrees.
type Manager struct {
	// runGit is swappable in tests.
	runGit func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewManager returns a Manager running real git commands.
func NewManager() *Manager {
	return &Manager{runGit: runGitCmd}
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

// InsideWorktree reports whether dir is a linked worktree rather than the
// primary checkout. In a linked worktree the per-checkout git dir and the
// shared common dir differ.
func (m *Manager) InsideWorktree(ctx context.Context, dir string) (bool, error) {
	gitDir, err := m.runGit(ctx, dir, "rev-parse", "--git-dir")
	if err != nil {
		return false, err
	}
	commonDir, err := m.runGit(ctx, dir, "rev-parse", "--git-common-dir")
	if err != nil {
		return false, err
	}
	return gitDir != commonDir, nil
}

// Branch returns the branch checked out in dir.
func (m *Manager) Branch(ctx context.Context, dir string) (string, error) {
	return m.runGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// Cleanup removes the worktree at dir and deletes its local branch from the
// primary checkout. It is called after a successful merge, so the branch is
// fully contained in the base and safe to delete. Branch deletion failure is
// logged but not fatal: the worktree itself is already gone.
func (m *Manager) Cleanup(ctx context.Context, dir string) error {
	inside, err := m.InsideWorktree(ctx, dir)
	if err != nil {
		return err
	}
	if !inside {
		return fmt.Errorf("%s is not a linked worktree, refusing to remove", dir)
	}

	branch, err := m.Branch(ctx, dir)
	if err != nil {
		return err
	}

	commonDir, err := m.runGit(ctx, dir, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return err
	}

	if _, err := m.runGit(ctx, commonDir, "worktree", "remove", "--force", dir); err != nil {
		return fmt.Errorf("removing worktree %s: %w", dir, err)
	}
	slog.Info("removed worktree", "dir", dir, "branch", branch)

	if branch != "" && branch != "HEAD" {
		if _, err := m.runGit(ctx, commonDir, "branch", "-D", branch); err != nil {
			slog.Warn("could not delete merged branch", "branch", branch, "error", err)
		}
	}
	return nil
}
