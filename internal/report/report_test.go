package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cimonitor/internal/monitor"
	"cimonitor/internal/pr"
)

func TestWriteAndReadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	res := monitor.MonitorResult{
		Success:         true,
		Message:         "merged",
		RebaseCount:     2,
		CIPassed:        true,
		ReviewCompleted: true,
		ReviewComments:  3,
		FinalState:      &pr.PRState{MergeState: pr.MergeStateClean},
	}
	require.NoError(t, store.Write(42, "sess-1", res))

	reports, err := store.List()
	require.NoError(t, err)
	require.Len(t, reports, 1)

	got := reports[0]
	assert.Equal(t, 42, got.Meta.PRNumber)
	assert.Equal(t, "sess-1", got.Meta.SessionID)
	assert.True(t, got.Meta.Success)
	assert.Equal(t, 2, got.Meta.RebaseCount)
	assert.Contains(t, got.Body, "merged")
	assert.Contains(t, got.Body, "Final merge state: CLEAN")
}

func TestListNewestFirstAndSkipsJunk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Write(1, "a", monitor.MonitorResult{Message: "timed out"}))
	require.NoError(t, store.Write(2, "b", monitor.MonitorResult{Success: true, Message: "merged"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a report"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.md"), []byte("no frontmatter here"), 0644))

	reports, err := store.List()
	require.NoError(t, err)
	require.Len(t, reports, 2)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Write(7, "x", monitor.MonitorResult{Message: "merged", Success: true}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
