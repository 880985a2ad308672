package enginejob

import "time"

// LogLevel is the severity of a LogEntry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is a single progress log line attached to a job.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Stage     Stage
	Message   string
	Metadata  map[string]any
}

// MaxLogEntries is the ring-cap applied to a job's progress logs.
const MaxLogEntries = 1000

// appendLogRing appends entry to logs, evicting the oldest entries (FIFO)
// once the slice would exceed MaxLogEntries. On the common path (len < cap)
// it is a plain append; only once per MaxLogEntries appends does it copy
// the window into a fresh backing array, so eviction stays amortized O(1)
// instead of rewriting the whole log on every call.
func appendLogRing(logs []LogEntry, entry LogEntry) []LogEntry {
	logs = append(logs, entry)
	if len(logs) <= MaxLogEntries {
		return logs
	}
	overflow := len(logs) - MaxLogEntries
	if cap(logs)-len(logs) > MaxLogEntries {
		// Backing array has grown far beyond the cap; reclaim it.
		trimmed := make([]LogEntry, MaxLogEntries)
		copy(trimmed, logs[overflow:])
		return trimmed
	}
	return logs[overflow:]
}
