// Package automationservice is the public entry point of the automation
// pipeline engine (spec.md §4.8): it validates input, creates and binds a
// Job to a PipelineExecutor run, and exposes query/cancel/retry/subscribe
// over the engine's JobStore and ProgressBus. It is grounded on the
// teacher's ProcessVideoService.CreateJob/GetJob/DeleteJobVideo: validate,
// delegate to the store, log, wrap errors with %w.
package automationservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/collaborators"
	"github.com/maauso/automation-pipeline-engine/internal/costcalc"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob/id"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob/jobstore"
	"github.com/maauso/automation-pipeline-engine/internal/pipelineexecutor"
	"github.com/maauso/automation-pipeline-engine/internal/progressbus"
	"github.com/maauso/automation-pipeline-engine/internal/workspace"
)

// StartResult is returned immediately by Start, before the pipeline has run
// any stage.
type StartResult struct {
	JobID            string
	Status           enginejob.Status
	EstimatedTimeSec float64
	EstimatedCostUsd float64
}

// ListQuery filters and paginates List.
type ListQuery struct {
	Status *enginejob.Status
	Limit  int
	Offset int
}

// ListResult is a page of jobs, newest first.
type ListResult struct {
	Jobs    []*enginejob.Job
	Total   int
	HasMore bool
}

// RetryResult reports which chunk indices a retry actually re-ran.
type RetryResult struct {
	JobID        string
	ChunkIndices []int
}

// Service is the AutomationService: the sole entry point through which
// callers start, observe, cancel, and retry jobs.
type Service struct {
	store        jobstore.Store
	bus          *progressbus.Bus
	ws           *workspace.Workspace
	resolver     collaborators.SourceResolver
	executor     *pipelineexecutor.Executor
	logger       *slog.Logger
	cleanupDelay time.Duration

	// cancels holds the running context.CancelFunc for every job currently
	// owned by a launched executor goroutine (Run or Retry), keyed by job
	// ID. A job with no entry here is either not yet started or already
	// terminal.
	cancels sync.Map
}

// New builds a Service from its collaborators. The PipelineExecutor itself
// is constructed here from the same dependencies, since AutomationService
// is the sole launcher of executor runs.
func New(
	store jobstore.Store,
	bus *progressbus.Bus,
	ws *workspace.Workspace,
	resolver collaborators.SourceResolver,
	toolkit collaborators.MediaToolkit,
	provider collaborators.DubbingProvider,
	logger *slog.Logger,
	cleanupDelay time.Duration,
	executorOpts ...pipelineexecutor.Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		bus:          bus,
		ws:           ws,
		resolver:     resolver,
		executor:     pipelineexecutor.New(store, bus, ws, resolver, toolkit, provider, logger, cleanupDelay, executorOpts...),
		logger:       logger,
		cleanupDelay: cleanupDelay,
	}
}

// Start validates sourceRef/config, resolves sourceMeta, creates the Job and
// its workspace, and launches a PipelineExecutor run in the background. It
// returns as soon as the job is durably created, before any stage runs.
func (s *Service) Start(ctx context.Context, sourceRef string, cfg enginejob.Config) (StartResult, error) {
	if err := validateStart(sourceRef, cfg); err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	resolved, err := s.resolver.Resolve(ctx, sourceRef)
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", collaborators.ErrSourceUnavailable, err)
	}

	sourceMeta := enginejob.SourceMeta{
		Title:           resolved.SuggestedTitle,
		DurationSeconds: resolved.DurationSeconds,
		ResolutionLabel: resolved.Resolution,
		CodecLabel:      resolved.Codec,
		FileSizeBytes:   resolved.ContentLength,
	}

	job := enginejob.New(id.Generate(), sourceRef, cfg)
	job.SourceMeta = sourceMeta

	if err := s.store.Create(ctx, job); err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	paths, err := s.ws.CreateJobDirs(job.ID)
	if err != nil {
		_ = s.store.Delete(ctx, job.ID)
		return StartResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	job.SetPaths(paths)
	if err := s.store.Update(ctx, job); err != nil {
		if rmErr := s.ws.RemoveJobDirs(job.ID); rmErr != nil {
			s.logger.Warn("failed to remove job workspace after store update failure", slog.String("job_id", job.ID), slog.String("error", rmErr.Error()))
		}
		_ = s.store.Delete(ctx, job.ID)
		return StartResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.logger.Info("job started",
		slog.String("job_id", job.ID),
		slog.String("source_ref", sourceRef),
		slog.String("target_language", cfg.TargetLanguage),
		slog.Int("chunk_duration_sec", cfg.ChunkDurationSeconds),
	)

	cost := costcalc.CalculateCost(sourceMeta, cfg)
	timeEst := costcalc.CalculateTime(sourceMeta, cfg)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancels.Store(job.ID, cancel)
	go func() {
		defer s.cancels.Delete(job.ID)
		s.executor.Run(runCtx, job.ID)
	}()

	return StartResult{
		JobID:            job.ID,
		Status:           job.Status,
		EstimatedTimeSec: timeEst.TotalTime,
		EstimatedCostUsd: cost.TotalCost,
	}, nil
}

// Get retrieves a job by ID. Returns enginejob.ErrJobNotFound if absent.
func (s *Service) Get(ctx context.Context, jobID string) (*enginejob.Job, error) {
	return s.store.Get(ctx, jobID)
}

// List returns a newest-first page of jobs matching q.
func (s *Service) List(ctx context.Context, q ListQuery) (ListResult, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return ListResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	filtered := all
	if q.Status != nil {
		filtered = make([]*enginejob.Job, 0, len(all))
		for _, j := range all {
			if j.Status == *q.Status {
				filtered = append(filtered, j)
			}
		}
	}

	total := len(filtered)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return ListResult{
		Jobs:    filtered[offset:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// Cancel signals the running executor for jobID to stop at its next
// suspension point. Returns ErrConflict if jobID is already terminal or has
// no running executor.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrConflict
	}

	cancelAny, ok := s.cancels.Load(jobID)
	if !ok {
		return ErrConflict
	}
	cancelAny.(context.CancelFunc)()

	s.logger.Info("job cancel requested", slog.String("job_id", jobID))
	return nil
}

// Retry re-launches a failed job's executor from the dubbing stage over
// chunkIndices (default: the job's recorded failedChunkIndices). Valid only
// when the job is failed with a recoverable error.
func (s *Service) Retry(ctx context.Context, jobID string, chunkIndices []int) (RetryResult, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return RetryResult{}, err
	}
	if job.Status != enginejob.StatusFailed || job.Error == nil || !job.Error.Recoverable {
		return RetryResult{}, ErrConflict
	}

	effective := chunkIndices
	if len(effective) == 0 {
		effective = job.Error.FailedChunkIndices
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancels.Store(jobID, cancel)
	go func() {
		defer s.cancels.Delete(jobID)
		s.executor.Retry(runCtx, jobID, effective)
	}()

	s.logger.Info("job retry requested", slog.String("job_id", jobID), slog.Any("chunk_indices", effective))
	return RetryResult{JobID: jobID, ChunkIndices: effective}, nil
}

// Subscribe attaches a live event stream to jobID. Returns
// enginejob.ErrJobNotFound if no such job exists.
func (s *Service) Subscribe(ctx context.Context, jobID string) (*progressbus.Subscription, error) {
	exists, err := s.store.Exists(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !exists {
		return nil, enginejob.ErrJobNotFound
	}
	return s.bus.Subscribe(jobID), nil
}

// DownloadPath returns the local path of jobID's output artifact. Returns
// ErrConflict if the job has not completed.
func (s *Service) DownloadPath(ctx context.Context, jobID string) (string, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != enginejob.StatusComplete || job.OutputFile == "" {
		return "", ErrConflict
	}
	return job.OutputFile, nil
}

// RunSweeper periodically deletes terminal jobs older than the service's
// configured cleanup delay, so the store does not grow without bound. It
// runs until ctx is cancelled and is meant to be launched as a background
// goroutine alongside the HTTP server.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cleanupDelay)
			n, err := s.store.DeleteOldTerminal(ctx, cutoff)
			if err != nil {
				s.logger.Error("sweeper: delete old terminal jobs failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.logger.Info("sweeper: removed terminal jobs", slog.Int("count", n))
			}
		}
	}
}
