package worktree

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGit answers git invocations from a map keyed by the joined
// arguments, recording every call.
type scriptedGit struct {
	answers map[string]string
	calls   []string
}

func (s *scriptedGit) run(_ context.Context, _ string, args ...string) (string, error) {
	joined := strings.Join(args, " ")
	s.calls = append(s.calls, joined)
	return s.answers[joined], nil
}

func (s *scriptedGit) called(fragment string) bool {
	for _, c := range s.calls {
		if strings.Contains(c, fragment) {
			return true
		}
	}
	return false
}

func TestInsideWorktree(t *testing.T) {
	linked := &scriptedGit{answers: map[string]string{
		"rev-parse --git-dir":        "/repo/.git/worktrees/feat",
		"rev-parse --git-common-dir": "/repo/.git",
	}}
	m := &Manager{runGit: linked.run}
	inside, err := m.InsideWorktree(context.Background(), "/repo/wt")
	require.NoError(t, err)
	assert.True(t, inside)

	primary := &scriptedGit{answers: map[string]string{
		"rev-parse --git-dir":        ".git",
		"rev-parse --git-common-dir": ".git",
	}}
	m = &Manager{runGit: primary.run}
	inside, err = m.InsideWorktree(context.Background(), "/repo")
	require.NoError(t, err)
	assert.False(t, inside)
}

func TestCleanupRemovesWorktreeAndBranch(t *testing.T) {
	git := &scriptedGit{answers: map[string]string{
		"rev-parse --git-dir":                              "/repo/.git/worktrees/feat",
		"rev-parse --git-common-dir":                       "/repo/.git",
		"rev-parse --path-format=absolute --git-common-dir": "/repo/.git",
		"rev-parse --abbrev-ref HEAD":                      "feat-branch",
	}}
	m := &Manager{runGit: git.run}

	err := m.Cleanup(context.Background(), "/repo/wt")
	require.NoError(t, err)
	assert.True(t, git.called("worktree remove --force /repo/wt"))
	assert.True(t, git.called("branch -D feat-branch"))
}

func TestCleanupRefusesPrimaryCheckout(t *testing.T) {
	git := &scriptedGit{answers: map[string]string{
		"rev-parse --git-dir":        ".git",
		"rev-parse --git-common-dir": ".git",
	}}
	m := &Manager{runGit: git.run}

	err := m.Cleanup(context.Background(), "/repo")
	require.Error(t, err)
	assert.False(t, git.called("worktree remove"))
}

func TestCleanupSkipsDetachedHeadBranchDelete(t *testing.T) {
	git := &scriptedGit{answers: map[string]string{
		"rev-parse --git-dir":                              "/repo/.git/worktrees/feat",
		"rev-parse --git-common-dir":                       "/repo/.git",
		"rev-parse --path-format=absolute --git-common-dir": "/repo/.git",
		"rev-parse --abbrev-ref HEAD":                      "HEAD",
	}}
	m := &Manager{runGit: git.run}

	err := m.Cleanup(context.Background(), "/repo/wt")
	require.NoError(t, err)
	assert.True(t, git.called("worktree remove"))
	assert.False(t, git.called("branch -D"))
}
