// Package enginejob provides the Job aggregate for the automation pipeline
// engine. It includes the Job entity with state machine transitions for the
// five-stage pipeline, the Chunk/ChunkStatus value types used during dubbing,
// and the ring-capped progress log.
package enginejob

import "errors"

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job has been created but processing
	// has not yet started.
	StatusPending Status = "pending"
	// StatusDownloading indicates the source is being fetched.
	StatusDownloading Status = "downloading"
	// StatusChunking indicates the source is being sliced into chunks.
	StatusChunking Status = "chunking"
	// StatusDubbing indicates chunks are being dubbed by the provider.
	StatusDubbing Status = "dubbing"
	// StatusMerging indicates dubbed audio is being merged back into video.
	StatusMerging Status = "merging"
	// StatusFinalizing indicates the final artifact is being written.
	StatusFinalizing Status = "finalizing"
	// StatusComplete indicates the job finished successfully.
	StatusComplete Status = "complete"
	// StatusFailed indicates the job stopped with an error. A failed job
	// can be re-entered at dubbing by an explicit retry.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the job was cancelled by the caller.
	StatusCancelled Status = "cancelled"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("enginejob: invalid state transition")

// validTransitions defines which status transitions are allowed. Every
// non-terminal state may additionally transition to failed or cancelled;
// those are added programmatically in init to avoid repeating them.
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusDownloading},
	StatusDownloading: {StatusChunking},
	StatusChunking:    {StatusDubbing},
	StatusDubbing:     {StatusMerging},
	StatusMerging:     {StatusFinalizing},
	StatusFinalizing:  {StatusComplete},
	StatusComplete:    {},
	// A failed job may be re-entered at dubbing by an explicit retry
	// command (AutomationService.retry); this is the one backward edge
	// the DAG allows, and it is not part of the automatic pipeline walk.
	StatusFailed:    {StatusDubbing},
	StatusCancelled: {},
}

func init() {
	for status, targets := range validTransitions {
		if status == StatusComplete || status == StatusFailed || status == StatusCancelled {
			continue
		}
		validTransitions[status] = append(targets, StatusFailed, StatusCancelled)
	}
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is one of complete, failed, cancelled.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Stage identifies which pipeline stage progress information refers to.
type Stage string

const (
	StageDownload  Stage = "download"
	StageChunk     Stage = "chunk"
	StageDub       Stage = "dub"
	StageMerge     Stage = "merge"
	StageFinalize  Stage = "finalize"
)
