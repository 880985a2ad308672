// Package dubscheduler implements the bounded-concurrency chunk dubbing
// scheduler: a worker pool that drives a chunk manifest through the
// DubbingProvider collaborator with per-chunk retry, jittered exponential
// poll backoff, and cooperative cancellation, then reassembles results in
// index order for the merge stage.
package dubscheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/automation-pipeline-engine/internal/collaborators"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

// MaxRetries bounds the number of restart attempts per chunk (invariant:
// retryCount ≤ 3).
const MaxRetries = 3

// Poll backoff bounds: exponential from 3s, capped at 20s, jittered ±10%.
const (
	pollBaseInterval = 3 * time.Second
	pollMaxInterval  = 20 * time.Second
)

// Retry backoff bounds: exponential from 1s, capped at 30s, jittered ±10%.
const (
	retryBaseBackoff = 1 * time.Second
	retryMaxBackoff  = 30 * time.Second
)

// snapshotCoalesceWindow bounds progress emission to ≤2 Hz per job.
const snapshotCoalesceWindow = 500 * time.Millisecond

// DubbingResult is one chunk's terminal outcome, returned by Run sorted
// ascending by ChunkIndex regardless of completion order.
type DubbingResult struct {
	ChunkIndex    int
	OutputPath    string
	ProviderJobID string
	Success       bool
	Error         *enginejob.JobError
}

// Snapshot is the aggregate state emitted to progressCb whenever any task
// changes state, coalesced to ≤2 Hz.
type Snapshot struct {
	Chunks     []enginejob.ChunkStatus
	ActiveJobs int
	Completed  int
	Failed     int
	Pending    int
}

// Run drives manifest.Chunks through provider using up to
// cfg.MaxParallelJobs concurrent workers. initial seeds per-chunk-index
// ChunkStatus (e.g. carried-over RetryCount on a retry run); chunks absent
// from initial start pending. Run never returns an error itself: a failed
// chunk after exhausting retries is reported as a non-Success result and
// it is the caller's decision whether that is fatal to the job.
func Run(
	ctx context.Context,
	manifest enginejob.ChunkManifest,
	cfg enginejob.Config,
	outDir string,
	provider collaborators.DubbingProvider,
	initial map[int]enginejob.ChunkStatus,
	progressCb func(Snapshot),
) []DubbingResult {
	n := len(manifest.Chunks)
	results := make([]DubbingResult, n)

	maxParallel := cfg.MaxParallelJobs
	if maxParallel <= 0 {
		maxParallel = 1
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	statuses := make([]enginejob.ChunkStatus, n)
	for i, c := range manifest.Chunks {
		if st, ok := initial[c.Index]; ok {
			statuses[i] = st
		} else {
			statuses[i] = enginejob.ChunkStatus{Index: c.Index, State: enginejob.ChunkPending}
		}
	}

	var mu sync.Mutex
	active := 0

	coalescer := newCoalescer(progressCb)
	defer coalescer.stop()

	emit := func() {
		mu.Lock()
		snap := buildSnapshot(statuses, active)
		mu.Unlock()
		coalescer.notify(snap)
	}

	var wg sync.WaitGroup
	for idx, chunk := range manifest.Chunks {
		i := idx
		ch := chunk

		update := func(mutate func(*enginejob.ChunkStatus)) {
			mu.Lock()
			mutate(&statuses[i])
			mu.Unlock()
			emit()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = DubbingResult{
					ChunkIndex: ch.Index,
					Success:    false,
					Error:      &enginejob.JobError{Code: "CANCELLED", Message: "cancelled before start", Stage: enginejob.StageDub, Recoverable: false},
				}
				return
			}
			mu.Lock()
			active++
			mu.Unlock()
			emit()
			defer func() {
				mu.Lock()
				active--
				mu.Unlock()
				sem.Release(1)
				emit()
			}()

			results[i] = runChunkTask(ctx, ch, cfg, outDir, provider, update)
		}()
	}
	wg.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].ChunkIndex < results[b].ChunkIndex })
	return results
}

// runChunkTask executes the create/poll/download lifecycle for one chunk,
// restarting from a fresh provider job on a retriable failure until
// MaxRetries is exhausted or the classification is non-retriable.
func runChunkTask(
	ctx context.Context,
	chunk enginejob.ChunkInfo,
	cfg enginejob.Config,
	outDir string,
	provider collaborators.DubbingProvider,
	update func(func(*enginejob.ChunkStatus)),
) DubbingResult {
	for {
		select {
		case <-ctx.Done():
			return cancelledResult(chunk)
		default:
		}

		startedAt := time.Now()
		update(func(s *enginejob.ChunkStatus) {
			s.State = enginejob.ChunkUploading
			s.StartedAt = &startedAt
			s.Error = ""
		})

		providerJobID, err := provider.Create(ctx, collaborators.CreateDubParams{
			SourceURLOrFile: chunk.Path,
			TargetLanguage:  cfg.TargetLanguage,
			UseWatermark:    cfg.UseWatermark,
		})
		if err != nil {
			if res, retry := handleFailure(ctx, chunk, err.Error(), err, update); !retry {
				return res
			}
			continue
		}

		update(func(s *enginejob.ChunkStatus) {
			s.State = enginejob.ChunkProcessing
			s.ProviderJobID = providerJobID
		})

		status, err := pollUntilDone(ctx, provider, providerJobID)
		if err != nil {
			if res, retry := handleFailure(ctx, chunk, err.Error(), err, update); !retry {
				return res
			}
			continue
		}
		if status.State == collaborators.DubbingFailed {
			if res, retry := handleFailure(ctx, chunk, status.ErrorMessage, nil, update); !retry {
				return res
			}
			continue
		}

		outPath, err := downloadChunk(ctx, provider, providerJobID, cfg.TargetLanguage, outDir, chunk.Index)
		if err != nil {
			if res, retry := handleFailure(ctx, chunk, err.Error(), err, update); !retry {
				return res
			}
			continue
		}

		completedAt := time.Now()
		update(func(s *enginejob.ChunkStatus) {
			s.State = enginejob.ChunkComplete
			s.CompletedAt = &completedAt
			s.Error = ""
		})
		return DubbingResult{ChunkIndex: chunk.Index, OutputPath: outPath, ProviderJobID: providerJobID, Success: true}
	}
}

// handleFailure classifies message/err and either arms a retry (returning
// retry=true once the backoff sleep completes) or marks the chunk terminally
// failed.
func handleFailure(
	ctx context.Context,
	chunk enginejob.ChunkInfo,
	message string,
	err error,
	update func(func(*enginejob.ChunkStatus)),
) (DubbingResult, bool) {
	var retryCount int
	update(func(s *enginejob.ChunkStatus) { retryCount = s.RetryCount })

	if classify(message, err) && retryCount < MaxRetries {
		next := retryCount + 1
		update(func(s *enginejob.ChunkStatus) {
			s.State = enginejob.ChunkRetrying
			s.RetryCount = next
			s.Error = message
		})

		select {
		case <-ctx.Done():
			return cancelledResult(chunk), false
		case <-time.After(retryBackoff(next)):
		}
		return DubbingResult{}, true
	}

	completedAt := time.Now()
	update(func(s *enginejob.ChunkStatus) {
		s.State = enginejob.ChunkFailed
		s.Error = message
		s.CompletedAt = &completedAt
	})

	return DubbingResult{
		ChunkIndex: chunk.Index,
		Success:    false,
		Error: &enginejob.JobError{
			Code:               "DUB_CHUNK_FAILED",
			Message:            message,
			Stage:              enginejob.StageDub,
			Recoverable:        true,
			FailedChunkIndices: []int{chunk.Index},
		},
	}, false
}

func cancelledResult(chunk enginejob.ChunkInfo) DubbingResult {
	return DubbingResult{
		ChunkIndex: chunk.Index,
		Success:    false,
		Error: &enginejob.JobError{
			Code:        "CANCELLED",
			Message:     "dubbing cancelled",
			Stage:       enginejob.StageDub,
			Recoverable: false,
		},
	}
}

// pollUntilDone polls provider.Status at a jittered exponential backoff
// (3s..20s) until the provider reports a terminal state.
func pollUntilDone(ctx context.Context, provider collaborators.DubbingProvider, providerJobID string) (collaborators.DubbingStatus, error) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return collaborators.DubbingStatus{}, ctx.Err()
		default:
		}

		status, err := provider.Status(ctx, providerJobID)
		if err != nil {
			return collaborators.DubbingStatus{}, err
		}
		if status.State == collaborators.DubbingDone || status.State == collaborators.DubbingFailed {
			return status, nil
		}

		wait := pollInterval(attempt)
		attempt++
		select {
		case <-ctx.Done():
			return collaborators.DubbingStatus{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// downloadChunk writes a completed provider job's audio to
// outDir/<index+1 zero-padded>.<ext>.
func downloadChunk(ctx context.Context, provider collaborators.DubbingProvider, providerJobID, targetLanguage, outDir string, index int) (string, error) {
	rc, ext, err := provider.Download(ctx, providerJobID, targetLanguage)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return "", fmt.Errorf("dubscheduler: create output directory: %w", err)
	}

	path := filepath.Join(outDir, fmt.Sprintf("%04d.%s", index+1, ext))
	f, err := os.Create(path) // #nosec G304 - path is engine-owned workspace path
	if err != nil {
		return "", fmt.Errorf("dubscheduler: create output file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return "", fmt.Errorf("dubscheduler: write output file: %w", err)
	}
	return path, nil
}

// classify decides whether a chunk failure should be retried. Provider-
// reported content-policy rejections, invalid-language, and zero-duration
// errors are non-retriable; everything else (transport errors, 5xx,
// rate-limiting) is treated as transient.
func classify(message string, err error) bool {
	lower := strings.ToLower(message)
	for _, marker := range []string{"content-policy", "content_policy", "invalid-language", "invalid_language", "zero-duration", "zero_duration"} {
		if strings.Contains(lower, marker) {
			return false
		}
	}

	if err != nil {
		if errors.Is(err, collaborators.ErrProviderJobNotFound) {
			return false
		}
		if errors.Is(err, collaborators.ErrServerError) || errors.Is(err, collaborators.ErrRateLimited) {
			return true
		}
	}

	return true
}

func pollInterval(attempt int) time.Duration {
	scaled := float64(pollBaseInterval) * math.Pow(2, float64(attempt))
	if scaled > float64(pollMaxInterval) {
		scaled = float64(pollMaxInterval)
	}
	return jitter(time.Duration(scaled))
}

func retryBackoff(retryCount int) time.Duration {
	scaled := float64(retryBaseBackoff) * math.Pow(2, float64(retryCount))
	if scaled > float64(retryMaxBackoff) {
		scaled = float64(retryMaxBackoff)
	}
	return jitter(time.Duration(scaled))
}

// jitter applies ±10% uniform jitter to d.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.1
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func buildSnapshot(statuses []enginejob.ChunkStatus, active int) Snapshot {
	snap := Snapshot{
		Chunks:     append([]enginejob.ChunkStatus(nil), statuses...),
		ActiveJobs: active,
	}
	for _, s := range statuses {
		switch s.State {
		case enginejob.ChunkComplete:
			snap.Completed++
		case enginejob.ChunkFailed:
			snap.Failed++
		case enginejob.ChunkPending:
			snap.Pending++
		}
	}
	return snap
}

// coalescer rate-limits Snapshot delivery to progressCb to ≤2 Hz: the
// leading event in a window is delivered immediately, later events in the
// same window collapse into one trailing flush.
type coalescer struct {
	cb func(Snapshot)

	mu      sync.Mutex
	last    time.Time
	pending bool
	latest  Snapshot
	timer   *time.Timer
	stopped bool
}

func newCoalescer(cb func(Snapshot)) *coalescer {
	return &coalescer{cb: cb}
}

func (c *coalescer) notify(s Snapshot) {
	if c.cb == nil {
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	if now.Sub(c.last) >= snapshotCoalesceWindow {
		c.last = now
		c.mu.Unlock()
		c.cb(s)
		return
	}

	c.latest = s
	if !c.pending {
		c.pending = true
		remaining := snapshotCoalesceWindow - now.Sub(c.last)
		c.timer = time.AfterFunc(remaining, c.flush)
	}
	c.mu.Unlock()
}

func (c *coalescer) flush() {
	c.mu.Lock()
	if c.stopped || !c.pending {
		c.mu.Unlock()
		return
	}
	s := c.latest
	c.pending = false
	c.last = time.Now()
	c.mu.Unlock()
	c.cb(s)
}

// stop halts further delivery, flushing one last pending snapshot so
// observers always see the terminal state.
func (c *coalescer) stop() {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	pending := c.pending
	s := c.latest
	c.mu.Unlock()

	if pending && c.cb != nil {
		c.cb(s)
	}
}
