// Package pipelineexecutor drives the five-stage state machine for one job:
// download, chunk, dub, merge, finalize. It is grounded on
// ProcessVideoService.processJob's stage-by-stage orchestration, generalized
// from a single linear happy path to the full DAG with cancellation and
// resumable retry from the dubbing stage.
package pipelineexecutor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/chunkplanner"
	"github.com/maauso/automation-pipeline-engine/internal/collaborators"
	"github.com/maauso/automation-pipeline-engine/internal/dubscheduler"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob/jobstore"
	"github.com/maauso/automation-pipeline-engine/internal/progressbus"
	"github.com/maauso/automation-pipeline-engine/internal/workspace"
)

// Percent bands per stage, monotonic within a run.
const (
	percentDownloadStart = 5
	percentDownloadEnd   = 20
	percentChunkEnd      = 25
	percentDubEnd        = 95
	percentMergeEnd      = 98
	percentFinalizeEnd   = 100
)

// Executor drives jobs through the pipeline. A single Executor instance is
// shared by all jobs and retries; it holds no per-job state beyond its
// collaborators, mirroring the stateless ProcessVideoService methods
// operating on a *Job passed in.
type Executor struct {
	store     jobstore.Store
	bus       *progressbus.Bus
	workspace *workspace.Workspace
	resolver  collaborators.SourceResolver
	toolkit   collaborators.MediaToolkit
	provider  collaborators.DubbingProvider
	logger    *slog.Logger

	cleanupDelay time.Duration
	retention    *workspace.S3Retention
}

// Option configures an Executor.
type Option func(*Executor)

// WithS3Retention enables best-effort upload of a job's finalized output
// artifact to S3 once it completes, mirroring storage.S3Storage.UploadToS3
// being invoked alongside local temp storage in the teacher.
func WithS3Retention(r *workspace.S3Retention) Option {
	return func(e *Executor) { e.retention = r }
}

// New builds an Executor from its collaborators.
func New(
	store jobstore.Store,
	bus *progressbus.Bus,
	ws *workspace.Workspace,
	resolver collaborators.SourceResolver,
	toolkit collaborators.MediaToolkit,
	provider collaborators.DubbingProvider,
	logger *slog.Logger,
	cleanupDelay time.Duration,
	opts ...Option,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupDelay <= 0 {
		cleanupDelay = 24 * time.Hour
	}
	e := &Executor{
		store:        store,
		bus:          bus,
		workspace:    ws,
		resolver:     resolver,
		toolkit:      toolkit,
		provider:     provider,
		logger:       logger,
		cleanupDelay: cleanupDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the full pipeline for jobID, starting from StatusPending. It
// is meant to be launched in its own goroutine by AutomationService.start;
// it returns once the job reaches a terminal state.
func (e *Executor) Run(ctx context.Context, jobID string) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.logger.Error("pipelineexecutor: job not found at run start", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return
	}

	started := time.Now()

	if !e.transition(ctx, job, enginejob.StatusDownloading, enginejob.StageDownload, percentDownloadStart) {
		return
	}

	resolved, ok := e.runDownload(ctx, job)
	if !ok {
		return
	}

	if !e.transition(ctx, job, enginejob.StatusChunking, enginejob.StageChunk, percentDownloadEnd) {
		return
	}

	manifest, ok := e.runChunk(ctx, job)
	if !ok {
		return
	}

	if !e.transition(ctx, job, enginejob.StatusDubbing, enginejob.StageDub, percentChunkEnd) {
		return
	}

	results, ok := e.runDub(ctx, job, manifest, nil)
	if !ok {
		return
	}

	if !e.finishAfterDub(ctx, job, manifest, results, resolved, started) {
		return
	}
}

// Retry re-starts a failed job from the dubbing stage, re-running only the
// chunks in indices (default: job.Error.FailedChunkIndices), overlaying
// successful results on existing chunk outputs, then proceeding through
// merge and finalize. retryCount persists per chunk across retries because
// the executor seeds DubScheduler with the job's existing ChunkStatuses.
func (e *Executor) Retry(ctx context.Context, jobID string, indices []int) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.logger.Error("pipelineexecutor: job not found at retry start", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return
	}

	started := time.Now()

	if job.Status != enginejob.StatusFailed {
		e.logger.Warn("pipelineexecutor: retry requested on non-failed job", slog.String("job_id", jobID), slog.String("status", string(job.Status)))
		return
	}
	if len(indices) == 0 && job.Error != nil {
		indices = job.Error.FailedChunkIndices
	}

	if err := job.TransitionTo(enginejob.StatusDubbing); err != nil {
		e.logger.Error("pipelineexecutor: cannot resume into dubbing", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return
	}
	job.ClearError()
	_ = e.store.Update(ctx, job)
	e.publishProgress(job, enginejob.StageDub, percentChunkEnd, enginejob.StageDetail{})

	subManifest := enginejob.ChunkManifest{
		JobID:                job.ID,
		ChunkDurationSeconds: job.Config.ChunkDurationSeconds,
	}
	seeded := make(map[int]enginejob.ChunkStatus)
	for _, idx := range indices {
		if idx < 0 || idx >= len(job.ChunkInfos) {
			continue
		}
		subManifest.Chunks = append(subManifest.Chunks, job.ChunkInfos[idx])
		if idx < len(job.ChunkStatuses) {
			seeded[idx] = job.ChunkStatuses[idx]
		}
	}
	subManifest.TotalChunks = len(subManifest.Chunks)

	fullManifest := enginejob.ChunkManifest{
		JobID:                job.ID,
		ChunkDurationSeconds: job.Config.ChunkDurationSeconds,
		Chunks:               job.ChunkInfos,
		TotalChunks:          len(job.ChunkInfos),
	}

	results, ok := e.runDub(ctx, job, subManifest, seeded)
	if !ok {
		return
	}

	e.finishAfterDub(ctx, job, fullManifest, results, collaborators.ResolvedSource{
		Title:           job.SourceMeta.Title,
		DurationSeconds: job.SourceMeta.DurationSeconds,
	}, started)
}

// finishAfterDub merges retried/new dub results into the job's full chunk
// status list, runs merge+finalize, and returns false if the job reached a
// terminal state along the way (mirroring the other run* helpers' contract).
func (e *Executor) finishAfterDub(
	ctx context.Context,
	job *enginejob.Job,
	fullManifest enginejob.ChunkManifest,
	results []dubscheduler.DubbingResult,
	resolved collaborators.ResolvedSource,
	started time.Time,
) bool {
	var failedIndices []int
	for _, r := range results {
		if r.Success {
			continue
		}
		failedIndices = append(failedIndices, r.ChunkIndex)
	}

	if len(failedIndices) > 0 {
		// DUB_ALL_FAILED must reflect the whole job, not just this run's
		// results: on a Retry, results only covers the re-tried subset, and a
		// subset that fails again does not erase chunks a prior run already
		// completed.
		anyChunkSucceeded := false
		for _, cs := range job.ChunkStatuses {
			if cs.State == enginejob.ChunkComplete {
				anyChunkSucceeded = true
				break
			}
		}
		if !anyChunkSucceeded {
			e.fail(ctx, job, enginejob.JobError{
				Code:               "DUB_ALL_FAILED",
				Message:            "no chunks were dubbed successfully",
				Stage:              enginejob.StageDub,
				Recoverable:        false,
				FailedChunkIndices: failedIndices,
			})
			return false
		}

		e.fail(ctx, job, enginejob.JobError{
			Code:               "DUB_CHUNK_FAILED",
			Message:            fmt.Sprintf("%d chunk(s) failed after retries", len(failedIndices)),
			Stage:              enginejob.StageDub,
			Recoverable:        true,
			FailedChunkIndices: failedIndices,
		})
		return false
	}

	if !e.transition(ctx, job, enginejob.StatusMerging, enginejob.StageMerge, percentDubEnd) {
		return false
	}

	outputPath, ok := e.runMerge(ctx, job, fullManifest, results)
	if !ok {
		return false
	}

	if !e.transition(ctx, job, enginejob.StatusFinalizing, enginejob.StageFinalize, percentMergeEnd) {
		return false
	}

	return e.runFinalize(ctx, job, outputPath, started)
}

func (e *Executor) runDownload(ctx context.Context, job *enginejob.Job) (collaborators.ResolvedSource, bool) {
	select {
	case <-ctx.Done():
		e.cancel(ctx, job, enginejob.StageDownload)
		return collaborators.ResolvedSource{}, false
	default:
	}

	resolved, err := e.resolver.Resolve(ctx, job.SourceRef)
	if err != nil {
		e.fail(ctx, job, enginejob.JobError{Code: "SOURCE_UNAVAILABLE", Message: err.Error(), Stage: enginejob.StageDownload, Recoverable: false})
		return collaborators.ResolvedSource{}, false
	}

	job.SetSourceMeta(enginejob.SourceMeta{
		Title:           resolved.SuggestedTitle,
		DurationSeconds: resolved.DurationSeconds,
		ResolutionLabel: resolved.Resolution,
		CodecLabel:      resolved.Codec,
		FileSizeBytes:   resolved.ContentLength,
	})
	if !e.commitOrFail(ctx, job, enginejob.StageDownload) {
		return collaborators.ResolvedSource{}, false
	}

	var bytesWritten int64
	destFile := filepath.Join(job.Paths.Source, "source.media")
	err = e.toolkit.Fetch(ctx, resolved.DownloadURL, destFile, func(p collaborators.FetchProgress) {
		bytesWritten = p.Bytes
		e.publishProgress(job, enginejob.StageDownload, scaleBand(50, percentDownloadStart, percentDownloadEnd), enginejob.StageDetail{
			BytesDownloaded: p.Bytes, TotalBytes: p.Total, SpeedBytesPerS: p.Speed, ETASeconds: p.ETASec,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			e.cancel(ctx, job, enginejob.StageDownload)
			return collaborators.ResolvedSource{}, false
		}
		recoverable := bytesWritten == 0
		e.fail(ctx, job, enginejob.JobError{Code: "DOWNLOAD_FAILED", Message: err.Error(), Stage: enginejob.StageDownload, Recoverable: recoverable})
		return collaborators.ResolvedSource{}, false
	}

	job.SetSourcePath(destFile)
	if !e.commitOrFail(ctx, job, enginejob.StageDownload) {
		return collaborators.ResolvedSource{}, false
	}
	return resolved, true
}

func (e *Executor) runChunk(ctx context.Context, job *enginejob.Job) (enginejob.ChunkManifest, bool) {
	select {
	case <-ctx.Done():
		e.cancel(ctx, job, enginejob.StageChunk)
		return enginejob.ChunkManifest{}, false
	default:
	}

	manifest, err := chunkplanner.Plan(ctx, e.toolkit, job.ID, job.Paths.Source, job.Paths.Chunks, job.Config.ChunkDurationSeconds, collaborators.ChunkingStrategy(job.Config.ChunkingStrategy), func(p chunkplanner.Progress) {
		e.publishProgress(job, enginejob.StageChunk, scaleBand(percentProgress(p.Processed, p.TotalChunks), percentDownloadEnd, percentChunkEnd), enginejob.StageDetail{
			ChunksPlanned: p.TotalChunks, ChunksProcessed: p.Processed,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			e.cancel(ctx, job, enginejob.StageChunk)
			return enginejob.ChunkManifest{}, false
		}
		code := "CHUNKING_FAILED"
		if err == chunkplanner.ErrChunkingEmpty {
			code = "CHUNKING_EMPTY"
		}
		e.fail(ctx, job, enginejob.JobError{Code: code, Message: err.Error(), Stage: enginejob.StageChunk, Recoverable: false})
		return enginejob.ChunkManifest{}, false
	}

	job.SetChunks(manifest.Chunks)
	if !e.commitOrFail(ctx, job, enginejob.StageChunk) {
		return enginejob.ChunkManifest{}, false
	}
	return manifest, true
}

func (e *Executor) runDub(ctx context.Context, job *enginejob.Job, manifest enginejob.ChunkManifest, seeded map[int]enginejob.ChunkStatus) ([]dubscheduler.DubbingResult, bool) {
	results := dubscheduler.Run(ctx, manifest, job.Config, job.Paths.Dubbed, e.provider, seeded, func(snap dubscheduler.Snapshot) {
		for _, cs := range snap.Chunks {
			job.UpdateChunkStatus(cs.Index, cs)
		}
		done := snap.Completed + snap.Failed
		total := len(manifest.Chunks)
		e.publishProgress(job, enginejob.StageDub, scaleBand(percentProgress(done, total), percentChunkEnd, percentDubEnd), enginejob.StageDetail{
			Chunks: snap.Chunks, ActiveJobs: snap.ActiveJobs, Completed: snap.Completed, Failed: snap.Failed, PendingCount: snap.Pending,
		})
	})

	for _, r := range results {
		if !r.Success || r.ChunkIndex < 0 || r.ChunkIndex >= len(job.ChunkStatuses) {
			continue
		}
		updated := job.ChunkStatuses[r.ChunkIndex]
		updated.DubbedPath = r.OutputPath
		job.UpdateChunkStatus(r.ChunkIndex, updated)
	}

	select {
	case <-ctx.Done():
		e.cancel(ctx, job, enginejob.StageDub)
		return results, false
	default:
	}

	if !e.commitOrFail(ctx, job, enginejob.StageDub) {
		return results, false
	}
	return results, true
}

func (e *Executor) runMerge(ctx context.Context, job *enginejob.Job, manifest enginejob.ChunkManifest, results []dubscheduler.DubbingResult) (string, bool) {
	select {
	case <-ctx.Done():
		e.cancel(ctx, job, enginejob.StageMerge)
		return "", false
	default:
	}

	dubbedByIndex := make(map[int]string, len(results))
	for _, r := range results {
		if r.Success {
			dubbedByIndex[r.ChunkIndex] = r.OutputPath
		}
	}

	mergedChunks := make([]string, 0, len(manifest.Chunks))
	for _, chunk := range manifest.Chunks {
		dubbedAudio, ok := dubbedByIndex[chunk.Index]
		if !ok {
			// Overlay mode: a chunk untouched by this run keeps the dubbed
			// audio a prior run already downloaded for it.
			if chunk.Index < len(job.ChunkStatuses) && job.ChunkStatuses[chunk.Index].State == enginejob.ChunkComplete && job.ChunkStatuses[chunk.Index].DubbedPath != "" {
				dubbedAudio = job.ChunkStatuses[chunk.Index].DubbedPath
			} else {
				continue
			}
		}

		mergedPath := filepath.Join(job.Paths.Root, "merged", fmt.Sprintf("%04d%s", chunk.Index+1, filepath.Ext(chunk.Path)))
		if err := e.toolkit.ReplaceAudio(ctx, chunk.Path, dubbedAudio, mergedPath); err != nil {
			if ctx.Err() != nil {
				e.cancel(ctx, job, enginejob.StageMerge)
				return "", false
			}
			e.fail(ctx, job, enginejob.JobError{Code: "MERGE_FAILED", Message: err.Error(), Stage: enginejob.StageMerge, Recoverable: true})
			return "", false
		}
		mergedChunks = append(mergedChunks, mergedPath)

		e.publishProgress(job, enginejob.StageMerge, scaleBand(percentProgress(len(mergedChunks), len(manifest.Chunks)), percentDubEnd, percentMergeEnd), enginejob.StageDetail{})
	}

	ext := job.Config.OutputFormat
	if ext == "" {
		ext = enginejob.OutputFormatMP4
	}
	outputPath := filepath.Join(job.Paths.Output, "final."+ext)
	if err := e.toolkit.Concat(ctx, mergedChunks, outputPath); err != nil {
		if ctx.Err() != nil {
			e.cancel(ctx, job, enginejob.StageMerge)
			return "", false
		}
		e.fail(ctx, job, enginejob.JobError{Code: "MERGE_FAILED", Message: err.Error(), Stage: enginejob.StageMerge, Recoverable: true})
		return "", false
	}

	return outputPath, true
}

func (e *Executor) runFinalize(ctx context.Context, job *enginejob.Job, outputPath string, started time.Time) bool {
	select {
	case <-ctx.Done():
		e.cancel(ctx, job, enginejob.StageFinalize)
		return false
	default:
	}

	if _, err := os.Stat(outputPath); err != nil {
		e.fail(ctx, job, enginejob.JobError{Code: "FINALIZE_FAILED", Message: err.Error(), Stage: enginejob.StageFinalize, Recoverable: true})
		return false
	}

	if err := job.Complete(outputPath); err != nil {
		e.fail(ctx, job, enginejob.JobError{Code: "FINALIZE_FAILED", Message: err.Error(), Stage: enginejob.StageFinalize, Recoverable: true})
		return false
	}
	job.SetProgress(enginejob.StageFinalize, percentFinalizeEnd, enginejob.StageDetail{})
	if !e.commitOrFail(ctx, job, enginejob.StageFinalize) {
		return false
	}

	if e.workspace != nil {
		// The local output directory is retained; the store sweeper removes
		// only the job record, not its files. Only intermediates are subject
		// to keepIntermediateFiles here.
		e.workspace.ScheduleOutputCleanup(context.WithoutCancel(ctx), job.Paths, e.cleanupDelay, job.Config.KeepIntermediateFiles, true)
	}

	if e.retention != nil {
		go func(uploadCtx context.Context, jobID, path string) {
			url, err := e.retention.UploadOutput(uploadCtx, jobID, path)
			if err != nil {
				e.logger.Warn("S3 output retention upload failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
				return
			}
			e.logger.Info("output uploaded to S3", slog.String("job_id", jobID), slog.String("url", url))
		}(context.WithoutCancel(ctx), job.ID, outputPath)
	}

	elapsed := time.Since(started).Milliseconds()
	e.bus.Publish(job.ID, progressbus.Event{
		Kind:     progressbus.EventComplete,
		Complete: progressbus.CompletePayload{OutputFile: outputPath, TotalElapsedMs: elapsed},
	})
	e.logger.Info("job completed", slog.String("job_id", job.ID), slog.String("output", outputPath), slog.Int64("elapsed_ms", elapsed))
	return true
}

// transition moves job to status/stage/percent, persists, and publishes a
// progress event. Returns false (and does not mutate job further) if the
// transition itself is invalid, which should not happen on the happy path.
func (e *Executor) transition(ctx context.Context, job *enginejob.Job, status enginejob.Status, stage enginejob.Stage, percent int) bool {
	if err := job.TransitionTo(status); err != nil {
		e.logger.Error("pipelineexecutor: invalid transition", slog.String("job_id", job.ID), slog.String("to", string(status)), slog.String("error", err.Error()))
		return false
	}
	if err := e.store.Update(ctx, job); err != nil {
		e.logger.Error("pipelineexecutor: store update failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return false
	}
	e.publishProgress(job, stage, percent, enginejob.StageDetail{})
	return true
}

// commitOrFail persists job via Update and, on failure, fails the job with a
// STORAGE error and returns false so the caller aborts the stage instead of
// continuing on an uncommitted job (e.g. publishing a complete event the
// store never recorded).
func (e *Executor) commitOrFail(ctx context.Context, job *enginejob.Job, stage enginejob.Stage) bool {
	if err := e.store.Update(ctx, job); err != nil {
		e.logger.Error("pipelineexecutor: store update failed", slog.String("job_id", job.ID), slog.String("stage", string(stage)), slog.String("error", err.Error()))
		e.fail(ctx, job, enginejob.JobError{Code: "STORAGE", Message: err.Error(), Stage: stage, Recoverable: true})
		return false
	}
	return true
}

// publishProgress updates the job's in-memory progress, mirrors it into the
// store, and broadcasts it on the bus. It is the single place progress
// mutates, so every caller sees a consistent store/bus/job view. A failed
// UpdateProgress is logged rather than treated as fatal: it fires from deep
// inside collaborator progress callbacks that have no way to unwind the
// in-flight stage, so the job keeps running and simply catches up on its
// next commitOrFail.
func (e *Executor) publishProgress(job *enginejob.Job, stage enginejob.Stage, percent int, detail enginejob.StageDetail) {
	job.SetProgress(stage, percent, detail)
	if err := e.store.UpdateProgress(context.Background(), job.ID, stage, job.Progress.OverallPercent, detail); err != nil {
		e.logger.Error("pipelineexecutor: progress persist failed", slog.String("job_id", job.ID), slog.String("stage", string(stage)), slog.String("error", err.Error()))
	}
	e.bus.Publish(job.ID, progressbus.Event{
		Kind: progressbus.EventProgress,
		Progress: progressbus.PipelineProgress{
			Stage: stage, OverallPercent: job.Progress.OverallPercent, StageDetail: detail,
		},
	})
}

func (e *Executor) fail(ctx context.Context, job *enginejob.Job, jobErr enginejob.JobError) {
	if err := job.Fail(jobErr); err != nil {
		e.logger.Error("pipelineexecutor: fail transition rejected", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	if err := e.store.Update(ctx, job); err != nil {
		e.logger.Error("pipelineexecutor: failed to persist job failure", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	e.scheduleTerminalCleanup(ctx, job)
	e.bus.Publish(job.ID, progressbus.Event{Kind: progressbus.EventError, Error: jobErr})
	e.logger.Error("job failed", slog.String("job_id", job.ID), slog.String("code", jobErr.Code), slog.String("stage", string(jobErr.Stage)), slog.String("message", jobErr.Message))
}

func (e *Executor) cancel(ctx context.Context, job *enginejob.Job, stage enginejob.Stage) {
	if err := job.Cancel(stage); err != nil {
		e.logger.Error("pipelineexecutor: cancel transition rejected", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}
	if err := e.store.Update(ctx, job); err != nil {
		e.logger.Error("pipelineexecutor: failed to persist job cancellation", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	e.scheduleTerminalCleanup(ctx, job)
	e.bus.Publish(job.ID, progressbus.Event{Kind: progressbus.EventError, Error: *job.Error})
	e.logger.Info("job cancelled", slog.String("job_id", job.ID), slog.String("stage", string(stage)))
}

// scheduleTerminalCleanup tears down a failed/cancelled job's entire
// workspace tree after the same cleanupDelay window the sweeper uses to
// retire its store entry (cmd/engined's sweepInterval loop). A job with a
// recoverable error stays retryable up to that point, since Retry reads
// chunk and dubbed paths straight off disk.
func (e *Executor) scheduleTerminalCleanup(ctx context.Context, job *enginejob.Job) {
	if e.workspace == nil {
		return
	}
	e.workspace.ScheduleRemoval(context.WithoutCancel(ctx), job.ID, job.Paths, e.cleanupDelay)
}

// scaleBand maps a 0..100 sub-progress value onto [lo, hi].
func scaleBand(subPercent, lo, hi int) int {
	if subPercent < 0 {
		subPercent = 0
	}
	if subPercent > 100 {
		subPercent = 100
	}
	return lo + (hi-lo)*subPercent/100
}

func percentProgress(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
