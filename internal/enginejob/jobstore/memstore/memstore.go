// Package memstore is the default in-memory jobstore.Store implementation.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob/jobstore"
)

// Compile-time check that Store implements jobstore.Store.
var _ jobstore.Store = (*Store)(nil)

// ErrAlreadyExists is returned by Create when a job with the same ID is
// already stored.
var ErrAlreadyExists = errors.New("memstore: job already exists")

// Store is an in-memory implementation of jobstore.Store. It holds live
// *enginejob.Job pointers rather than clones, so in-place mutation helpers
// (UpdateProgress, AppendLog) can update a job's state directly through the
// job's own internal lock instead of paying for a read-modify-write cycle
// through the whole map on every progress tick. Get/List still return
// Clone()s so callers can never observe or corrupt store-owned state.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*enginejob.Job
}

// New creates a new empty in-memory job store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*enginejob.Job),
	}
}

// Create persists a new job. Returns ErrAlreadyExists if the ID is taken.
func (s *Store) Create(_ context.Context, job *enginejob.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	s.jobs[job.ID] = job
	return nil
}

// Get retrieves a job by ID, returning a clone.
func (s *Store) Get(_ context.Context, id string) (*enginejob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, enginejob.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Update replaces the stored job wholesale.
func (s *Store) Update(_ context.Context, job *enginejob.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return enginejob.ErrJobNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// Delete removes a job from storage. Deleting an id that is not present is
// a no-op: Delete is idempotent.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// List returns all jobs, newest first by CreatedAt.
func (s *Store) List(_ context.Context) ([]*enginejob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*enginejob.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		result = append(result, job.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Count returns the number of stored jobs.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs), nil
}

// Exists reports whether a job with the given ID is stored.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[id]
	return ok, nil
}

// UpdateProgress mutates a stored job's progress in place via the job's own
// lock, without taking the store's write lock.
func (s *Store) UpdateProgress(_ context.Context, id string, stage enginejob.Stage, percent int, detail enginejob.StageDetail) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return enginejob.ErrJobNotFound
	}
	job.SetProgress(stage, percent, detail)
	return nil
}

// AppendLog appends a log line to a stored job's ring-capped log in place.
func (s *Store) AppendLog(_ context.Context, id string, entry enginejob.LogEntry) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return enginejob.ErrJobNotFound
	}
	job.AppendLog(entry)
	return nil
}

// GetRecentlyUpdated returns up to limit jobs ordered by UpdatedAt
// descending. limit <= 0 returns every job.
func (s *Store) GetRecentlyUpdated(_ context.Context, limit int) ([]*enginejob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*enginejob.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		result = append(result, job.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// DeleteOldTerminal deletes terminal jobs last updated before olderThan,
// returning the number removed.
func (s *Store) DeleteOldTerminal(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		status := job.GetStatus()
		if status.IsTerminal() && job.LastUpdated().Before(olderThan) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}
