package event

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cimonitor/internal/config"
)

func TestNewCopiesDetails(t *testing.T) {
	details := map[string]string{"merge_state": "BEHIND"}
	ev := New(TypeBehindDetected, 42, "branch is behind main", details, "rebase")

	details["merge_state"] = "mutated"
	assert.Equal(t, "BEHIND", ev.Details["merge_state"])
	assert.Equal(t, TypeBehindDetected, ev.EventType)
	assert.Equal(t, 42, ev.PRNumber)
	assert.NotEmpty(t, ev.Timestamp)
}

func TestEmitWritesOneJSONLinePerEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	bus := NewBus(config.EventLogConfig{Path: path, MaxSizeMB: 10, MaxBackups: 1})
	defer bus.Close()

	bus.Emit(New(TypeCIPassed, 7, "all checks green", nil, ""))
	bus.Emit(New(TypeCIFailed, 8, "lint failed", map[string]string{"check": "lint"}, "fix the lint errors"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []MonitorEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev MonitorEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, TypeCIPassed, events[0].EventType)
	assert.Equal(t, 7, events[0].PRNumber)
	assert.Equal(t, TypeCIFailed, events[1].EventType)
	assert.Equal(t, "lint", events[1].Details["check"])
	assert.Equal(t, "fix the lint errors", events[1].SuggestedAction)
}

func TestEmitConcurrentAppendsDoNotInterleave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	bus := NewBus(config.EventLogConfig{Path: path, MaxSizeMB: 10, MaxBackups: 1})
	defer bus.Close()

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(pr int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				bus.Emit(New(TypeReviewCompleted, pr, "review done", nil, ""))
			}
		}(w)
	}
	wg.Wait()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev MonitorEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), "line must be valid JSON")
		count++
	}
	assert.Equal(t, workers*perWorker, count)
}

type failingSink struct{}

func (failingSink) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failingSink) Close() error              { return nil }

func TestEmitSwallowsSinkFailures(t *testing.T) {
	bus := NewBusWithSink(failingSink{})
	// Must not panic or propagate anything.
	bus.Emit(New(TypeError, 1, "boom", nil, ""))
}
