package automationservice

import "errors"

// Static errors for AutomationService operations, mirroring the teacher's
// ProcessVideoService error style (static sentinels wrapped with %w).
var (
	// ErrValidation is returned when start's input fails validation before
	// a Job is ever created.
	ErrValidation = errors.New("automationservice: validation failed")
	// ErrConflict is returned when a command targets a job whose state
	// makes the command illegal: cancelling a terminal job, retrying a job
	// that is not in a retriable failed state.
	ErrConflict = errors.New("automationservice: conflicting job state")
	// ErrStorage wraps a JobStore failure encountered outside the
	// pipeline executor's own run loop (e.g. during start).
	ErrStorage = errors.New("automationservice: storage error")
)
