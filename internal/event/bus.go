package event

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"cimonitor/internal/config"
)

// Bus appends MonitorEvents to a structured, append-only JSONL log consumed
// by external analytics collaborators. It is strictly a side channel: Emit
// never returns an error and a failed append never affects monitoring
// decisions. The lumberjack sink serializes writes internally, so concurrent
// PR workers can emit without interleaving lines.
type Bus struct {
	sink io.WriteCloser
}

// NewBus creates a Bus writing to the configured event log path.
func NewBus(cfg config.EventLogConfig) *Bus {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		slog.Warn("cannot create event log directory, events will be dropped", "path", cfg.Path, "error", err)
	}
	return &Bus{
		sink: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		},
	}
}

// NewBusWithSink creates a Bus over an arbitrary writer. Used by tests.
func NewBusWithSink(sink io.WriteCloser) *Bus {
	return &Bus{sink: sink}
}

// Emit appends one event as a single JSON line. Failures are logged at Warn
// and swallowed.
func (b *Bus) Emit(ev MonitorEvent) {
	line, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("failed to marshal monitor event", "type", ev.EventType, "error", err)
		return
	}
	line = append(line, '\n')
	if _, err := b.sink.Write(line); err != nil {
		slog.Warn("failed to append monitor event", "type", ev.EventType, "error", err)
	}
}

// Close flushes and closes the underlying sink.
func (b *Bus) Close() error {
	return b.sink.Close()
}
