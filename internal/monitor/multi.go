package monitor

import (
	"context"
	"sync"

	"cimonitor/internal/pr"
)

// MonitorMultiplePRs runs one independent state machine per PR and returns
// one event per PR in input order. A slow or stuck PR never blocks another's
// resolution; early exit is a single-PR feature and is ignored here.
func (m *Monitor) MonitorMultiplePRs(ctx context.Context, prNumbers []int) []MultiPREvent {
	events := make([]MultiPREvent, len(prNumbers))

	var wg sync.WaitGroup
	for i, n := range prNumbers {
		wg.Add(1)
		go func(i, n int) {
			defer wg.Done()
			res := m.monitorPR(ctx, n, false)
			events[i] = MultiPREvent{
				PRNumber: n,
				Event:    eventFor(res),
				State:    stateFor(res),
			}
		}(i, n)
	}
	wg.Wait()
	return events
}

func eventFor(res MonitorResult) string {
	switch {
	case res.Success:
		return "merged"
	case res.Message == "monitoring timed out":
		return "timeout"
	default:
		return "failed"
	}
}

func stateFor(res MonitorResult) string {
	if res.FinalState == nil {
		return string(pr.MergeStateUnknown)
	}
	return string(res.FinalState.MergeState)
}
