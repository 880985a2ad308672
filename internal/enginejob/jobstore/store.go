// Package jobstore defines the persistence port for enginejob.Job and its
// default in-memory implementation (see the memstore subpackage).
package jobstore

import (
	"context"
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

// Store defines the interface for job persistence. It is the sole port
// through which the rest of the engine reaches storage, mirroring the
// hexagonal-architecture split applied to the reference Repository
// implementation.
//
// Implementations must return clones from Get/List so that callers cannot
// mutate store-owned state by holding on to a returned *enginejob.Job.
type Store interface {
	// Create persists a brand new job. Returns an error if a job with the
	// same ID already exists.
	Create(ctx context.Context, job *enginejob.Job) error

	// Get retrieves a job by ID. Returns enginejob.ErrJobNotFound if absent.
	Get(ctx context.Context, id string) (*enginejob.Job, error)

	// Update replaces the stored job wholesale (used for status transitions
	// driven outside the store's own mutation helpers).
	Update(ctx context.Context, job *enginejob.Job) error

	// Delete removes a job. Deleting an id that is not present is a no-op:
	// Delete is idempotent and never returns enginejob.ErrJobNotFound.
	Delete(ctx context.Context, id string) error

	// List returns all jobs, newest first by CreatedAt.
	List(ctx context.Context) ([]*enginejob.Job, error)

	// Count returns the number of stored jobs.
	Count(ctx context.Context) (int, error)

	// Exists reports whether a job with the given ID is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// UpdateProgress mutates the stage/percent/stage-detail of a stored job
	// in place, without a read-modify-write round trip through Update.
	UpdateProgress(ctx context.Context, id string, stage enginejob.Stage, percent int, detail enginejob.StageDetail) error

	// AppendLog appends a single log line to a stored job's ring-capped log,
	// in place.
	AppendLog(ctx context.Context, id string, entry enginejob.LogEntry) error

	// GetRecentlyUpdated returns up to limit jobs ordered by UpdatedAt
	// descending (most recently updated first). limit <= 0 means no bound.
	GetRecentlyUpdated(ctx context.Context, limit int) ([]*enginejob.Job, error)

	// DeleteOldTerminal deletes terminal jobs (complete/failed/cancelled)
	// whose UpdatedAt is older than olderThan, returning the count removed.
	DeleteOldTerminal(ctx context.Context, olderThan time.Time) (int, error)
}
