// Package progressbus implements the in-process publish/subscribe bus that
// delivers job life-cycle events to HTTP stream subscribers.
package progressbus

import (
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

// EventKind identifies the variant carried by an Event.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventLog       EventKind = "log"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
	EventHeartbeat EventKind = "heartbeat"
)

// PipelineProgress is the payload of an EventProgress event.
type PipelineProgress struct {
	Stage          enginejob.Stage
	OverallPercent int
	StageDetail    enginejob.StageDetail
}

// CompletePayload is the payload of an EventComplete event.
type CompletePayload struct {
	OutputFile     string
	TotalElapsedMs int64
}

// Event is a single message published on the bus for a job.
type Event struct {
	JobID     string
	Kind      EventKind
	Timestamp time.Time

	Progress PipelineProgress
	Log      enginejob.LogEntry
	Complete CompletePayload
	Error    enginejob.JobError
}

// IsTerminal reports whether this event kind ends a job's event stream.
func (e Event) IsTerminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}
