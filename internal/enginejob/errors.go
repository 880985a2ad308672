package enginejob

import "errors"

var (
	// ErrJobNotFound is returned by stores when a lookup finds no job.
	ErrJobNotFound = errors.New("enginejob: job not found")
	// ErrAlreadyTerminal is returned when a mutating command targets a job
	// that has already reached a terminal status.
	ErrAlreadyTerminal = errors.New("enginejob: job already in terminal state")
	// ErrNotCancellable is returned by Cancel when the job's stage cannot
	// currently observe a cancellation request (see pipelineexecutor).
	ErrNotCancellable = errors.New("enginejob: job is not cancellable in its current stage")
	// ErrChunksEmpty is returned by SetChunks when given an empty manifest.
	ErrChunksEmpty = errors.New("enginejob: chunk manifest is empty")
)
