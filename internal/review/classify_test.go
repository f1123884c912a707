package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPartitionsByReviewerAndAction(t *testing.T) {
	comments := []Comment{
		{Author: "copilot", Body: "You should check the error return here.", Path: "a.go"},
		{Author: "copilot", Body: "Note: this mirrors the helper above.", Path: "a.go"},
		{Author: "gemini-code-assist[bot]", Body: "```suggestion\nreturn err\n```", Path: "b.go"},
		{Author: "alice", Body: "please add a test for the empty case", Path: "b.go"},
		{Author: "bob", Body: "lgtm"},
	}

	c := Classify(comments)

	require.Len(t, c.Actionable["copilot"], 1)
	require.Len(t, c.Informational["copilot"], 1)
	require.Len(t, c.Actionable["gemini"], 1)
	require.Len(t, c.Actionable["human"], 1)
	require.Len(t, c.Informational["human"], 1)
	assert.Equal(t, "alice", c.Actionable["human"][0].Author)

	assert.True(t, c.HasActionable())
	assert.Equal(t, 5, c.Total())
}

func TestClassifyBotErrorNoticesAreInformational(t *testing.T) {
	comments := []Comment{
		{Author: "copilot", Body: "Copilot encountered an error and was unable to review this pull request. Please fix and retry."},
		{Author: "chatgpt-codex-connector[bot]", Body: "You have hit your usage limit. You should try again later."},
	}

	c := Classify(comments)

	assert.False(t, c.HasActionable())
	assert.Len(t, c.Informational["copilot"], 1)
	assert.Len(t, c.Informational["codex"], 1)
}

func TestClassifyInformationalMarkersOverrideActionable(t *testing.T) {
	c := Classify([]Comment{
		{Author: "copilot", Body: "nitpick: you should rename this variable"},
	})

	assert.False(t, c.HasActionable())
	assert.Len(t, c.Informational["copilot"], 1)
}

func TestClassifyUnmarkedCommentIsInformational(t *testing.T) {
	c := Classify([]Comment{
		{Author: "alice", Body: "interesting approach"},
	})

	assert.False(t, c.HasActionable())
	assert.Equal(t, 1, c.Total())
}
