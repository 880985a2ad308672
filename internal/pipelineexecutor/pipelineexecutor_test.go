package pipelineexecutor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/collaborators"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob/jobstore/memstore"
	"github.com/maauso/automation-pipeline-engine/internal/progressbus"
	"github.com/maauso/automation-pipeline-engine/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testRig struct {
	store    *memstore.Store
	bus      *progressbus.Bus
	ws       *workspace.Workspace
	resolver *collaborators.FakeSourceResolver
	toolkit  *collaborators.FakeMediaToolkit
	provider *collaborators.FakeDubbingProvider
	exec     *Executor
}

func newTestRig(t *testing.T, segments int) *testRig {
	t.Helper()

	store := memstore.New()
	bus := progressbus.New()
	ws, err := workspace.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}

	splitSegments := make([]collaborators.SplitSegment, segments)
	for i := range splitSegments {
		splitSegments[i] = collaborators.SplitSegment{StartTime: float64(i * 60), EndTime: float64((i + 1) * 60)}
	}

	resolver := &collaborators.FakeSourceResolver{Result: collaborators.ResolvedSource{
		DownloadURL: "https://example.com/source.mp4", SuggestedTitle: "a video", DurationSeconds: float64(segments * 60),
	}}
	toolkit := &collaborators.FakeMediaToolkit{SplitSegments: splitSegments}
	provider := collaborators.NewFakeDubbingProvider()
	provider.Outcomes = []collaborators.FakeDubOutcome{{PollsUntilDone: 1, FinalState: collaborators.DubbingDone}}

	exec := New(store, bus, ws, resolver, toolkit, provider, testLogger(), 50*time.Millisecond)

	return &testRig{store: store, bus: bus, ws: ws, resolver: resolver, toolkit: toolkit, provider: provider, exec: exec}
}

func (r *testRig) newJob(t *testing.T, id string, cfg enginejob.Config) *enginejob.Job {
	t.Helper()
	job := enginejob.New(id, "ref://"+id, cfg)
	paths, err := r.ws.CreateJobDirs(id)
	if err != nil {
		t.Fatalf("CreateJobDirs: %v", err)
	}
	job.Paths = paths
	if err := r.store.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}

func defaultConfig() enginejob.Config {
	return enginejob.Config{
		ChunkDurationSeconds: 60,
		TargetLanguage:       "es",
		MaxParallelJobs:      2,
		OutputFormat:         enginejob.OutputFormatMP4,
		ChunkingStrategy:     enginejob.ChunkingStrategyFixed,
	}
}

func TestRun_HappyPath_ReachesComplete(t *testing.T) {
	rig := newTestRig(t, 3)
	rig.newJob(t, "job-1", defaultConfig())

	rig.exec.Run(context.Background(), "job-1")

	job, err := rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != enginejob.StatusComplete {
		t.Fatalf("expected status complete, got %s (error: %+v)", job.Status, job.Error)
	}
	if job.Progress.OverallPercent != 100 {
		t.Errorf("expected overall percent 100, got %d", job.Progress.OverallPercent)
	}
	if job.OutputFile == "" {
		t.Fatal("expected output file to be set")
	}
	if _, err := os.Stat(job.OutputFile); err != nil {
		t.Errorf("expected output file to exist on disk: %v", err)
	}
	if len(job.ChunkStatuses) != 3 {
		t.Fatalf("expected 3 chunk statuses, got %d", len(job.ChunkStatuses))
	}
	for _, cs := range job.ChunkStatuses {
		if cs.State != enginejob.ChunkComplete {
			t.Errorf("chunk %d: expected complete, got %s", cs.Index, cs.State)
		}
	}
}

func TestRun_DownloadFailure_FailsJob(t *testing.T) {
	rig := newTestRig(t, 1)
	rig.resolver.Err = collaborators.ErrSourceUnavailable
	rig.newJob(t, "job-1", defaultConfig())

	rig.exec.Run(context.Background(), "job-1")

	job, err := rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != enginejob.StatusFailed {
		t.Fatalf("expected status failed, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != "SOURCE_UNAVAILABLE" {
		t.Fatalf("expected SOURCE_UNAVAILABLE error, got %+v", job.Error)
	}
	if job.Error.Stage != enginejob.StageDownload {
		t.Errorf("expected failure in download stage, got %s", job.Error.Stage)
	}
}

func TestRun_DownloadFailure_SchedulesWorkspaceCleanup(t *testing.T) {
	rig := newTestRig(t, 1)
	rig.resolver.Err = collaborators.ErrSourceUnavailable
	job := rig.newJob(t, "job-1", defaultConfig())

	rig.exec.Run(context.Background(), "job-1")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(job.Paths.Root); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected workspace %s to be cleaned up after a terminal failure", job.Paths.Root)
}

func TestRun_ChunkingEmpty_FailsJob(t *testing.T) {
	rig := newTestRig(t, 0)
	rig.newJob(t, "job-1", defaultConfig())

	rig.exec.Run(context.Background(), "job-1")

	job, err := rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != enginejob.StatusFailed {
		t.Fatalf("expected status failed, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != "CHUNKING_EMPTY" {
		t.Fatalf("expected CHUNKING_EMPTY error, got %+v", job.Error)
	}
}

func TestRun_AllChunksFail_FailsJobWithDubAllFailed(t *testing.T) {
	rig := newTestRig(t, 2)
	rig.provider.Outcomes = []collaborators.FakeDubOutcome{
		{PollsUntilDone: 1, FinalState: collaborators.DubbingFailed, ErrorMessage: "content-policy violation"},
	}
	rig.newJob(t, "job-1", defaultConfig())

	rig.exec.Run(context.Background(), "job-1")

	job, err := rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != enginejob.StatusFailed {
		t.Fatalf("expected status failed, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != "DUB_ALL_FAILED" {
		t.Fatalf("expected DUB_ALL_FAILED, got %+v", job.Error)
	}
}

func TestRun_PartialChunkFailure_FailsJobRecoverably(t *testing.T) {
	rig := newTestRig(t, 2)
	job := rig.newJob(t, "job-1", enginejob.Config{
		ChunkDurationSeconds: 60, TargetLanguage: "es", MaxParallelJobs: 2,
		OutputFormat: enginejob.OutputFormatMP4, ChunkingStrategy: enginejob.ChunkingStrategyFixed,
	})

	// Chunk 1 fails non-retriably, chunk 0 succeeds — keyed by source path
	// so the outcome is deterministic regardless of which goroutine wins
	// the race to call Create first.
	rig.provider.Outcomes = []collaborators.FakeDubOutcome{{PollsUntilDone: 1, FinalState: collaborators.DubbingDone}}
	rig.provider.OutcomeByPath = map[string]collaborators.FakeDubOutcome{
		filepath.Join(job.Paths.Chunks, "0002.mp4"): {PollsUntilDone: 1, FinalState: collaborators.DubbingFailed, ErrorMessage: "content-policy violation"},
	}

	rig.exec.Run(context.Background(), "job-1")

	job, err := rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != enginejob.StatusFailed {
		t.Fatalf("expected status failed, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != "DUB_CHUNK_FAILED" {
		t.Fatalf("expected DUB_CHUNK_FAILED, got %+v", job.Error)
	}
	if !job.Error.Recoverable {
		t.Error("expected DUB_CHUNK_FAILED to be recoverable")
	}
	if len(job.Error.FailedChunkIndices) != 1 || job.Error.FailedChunkIndices[0] != 1 {
		t.Errorf("expected failed chunk index [1], got %v", job.Error.FailedChunkIndices)
	}
}

func TestRetry_ResumesFromDubbingAndCompletes(t *testing.T) {
	rig := newTestRig(t, 2)
	job := rig.newJob(t, "job-1", enginejob.Config{
		ChunkDurationSeconds: 60, TargetLanguage: "es", MaxParallelJobs: 2,
		OutputFormat: enginejob.OutputFormatMP4, ChunkingStrategy: enginejob.ChunkingStrategyFixed,
	})

	// Chunk 0 succeeds, chunk 1 exhausts retries on a transient error,
	// keyed by source path for determinism under concurrent scheduling.
	failing := collaborators.FakeDubOutcome{PollsUntilDone: 1, FinalState: collaborators.DubbingFailed, ErrorMessage: "transient provider error"}
	rig.provider.Outcomes = []collaborators.FakeDubOutcome{{PollsUntilDone: 1, FinalState: collaborators.DubbingDone}}
	rig.provider.OutcomeByPath = map[string]collaborators.FakeDubOutcome{
		filepath.Join(job.Paths.Chunks, "0002.mp4"): failing,
	}

	rig.exec.Run(context.Background(), "job-1")

	failed, err := rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if failed.Status != enginejob.StatusFailed {
		t.Fatalf("expected intermediate status failed, got %s", failed.Status)
	}

	// Retry succeeds this time for the one failed chunk.
	rig.provider.OutcomeByPath = nil
	rig.provider.Outcomes = []collaborators.FakeDubOutcome{{PollsUntilDone: 1, FinalState: collaborators.DubbingDone}}

	rig.exec.Retry(context.Background(), "job-1", nil)

	job, err := rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != enginejob.StatusComplete {
		t.Fatalf("expected status complete after retry, got %s (error: %+v)", job.Status, job.Error)
	}
	if job.OutputFile == "" {
		t.Fatal("expected output file to be set after retry")
	}
}

func TestRetry_SubsetStillFails_StaysRecoverableNotAllFailed(t *testing.T) {
	rig := newTestRig(t, 2)
	job := rig.newJob(t, "job-1", enginejob.Config{
		ChunkDurationSeconds: 60, TargetLanguage: "es", MaxParallelJobs: 2,
		OutputFormat: enginejob.OutputFormatMP4, ChunkingStrategy: enginejob.ChunkingStrategyFixed,
	})

	// Chunk 0 succeeds on the initial run; chunk 1 fails.
	failing := collaborators.FakeDubOutcome{PollsUntilDone: 1, FinalState: collaborators.DubbingFailed, ErrorMessage: "transient provider error"}
	rig.provider.Outcomes = []collaborators.FakeDubOutcome{{PollsUntilDone: 1, FinalState: collaborators.DubbingDone}}
	rig.provider.OutcomeByPath = map[string]collaborators.FakeDubOutcome{
		filepath.Join(job.Paths.Chunks, "0002.mp4"): failing,
	}

	rig.exec.Run(context.Background(), "job-1")

	failed, err := rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if failed.Status != enginejob.StatusFailed || failed.Error == nil || failed.Error.Code != "DUB_CHUNK_FAILED" {
		t.Fatalf("expected intermediate DUB_CHUNK_FAILED, got status=%s error=%+v", failed.Status, failed.Error)
	}

	// Retry re-runs only chunk 1, and it fails again. Since chunk 0 already
	// succeeded, the job must stay recoverable rather than flip to
	// DUB_ALL_FAILED — a retry subset failing again is not the same as the
	// whole job never producing a success.
	rig.provider.OutcomeByPath = map[string]collaborators.FakeDubOutcome{
		filepath.Join(job.Paths.Chunks, "0002.mp4"): failing,
	}

	rig.exec.Retry(context.Background(), "job-1", nil)

	job, err = rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != enginejob.StatusFailed {
		t.Fatalf("expected status failed after retry, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != "DUB_CHUNK_FAILED" {
		t.Fatalf("expected DUB_CHUNK_FAILED after a still-failing retry, got %+v", job.Error)
	}
	if !job.Error.Recoverable {
		t.Error("expected job to remain recoverable after a partial retry failure")
	}
	if job.ChunkStatuses[0].State != enginejob.ChunkComplete {
		t.Errorf("expected chunk 0 to remain complete across retry, got %s", job.ChunkStatuses[0].State)
	}
}

func TestRun_CancelledBeforeStart_MarksCancelled(t *testing.T) {
	rig := newTestRig(t, 1)
	rig.newJob(t, "job-1", defaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rig.exec.Run(ctx, "job-1")

	job, err := rig.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != enginejob.StatusCancelled {
		t.Fatalf("expected status cancelled, got %s", job.Status)
	}
}

func TestRun_ProgressNeverRegresses(t *testing.T) {
	rig := newTestRig(t, 4)
	rig.newJob(t, "job-1", defaultConfig())

	var percents []int
	sub := rig.bus.Subscribe("job-1")
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events {
			if ev.Kind == progressbus.EventProgress {
				percents = append(percents, ev.Progress.OverallPercent)
			}
			if ev.IsTerminal() {
				return
			}
		}
	}()

	rig.exec.Run(context.Background(), "job-1")
	<-done

	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress regressed at index %d: %v", i, percents)
		}
	}
}

func TestRun_MergeUsesOrderedChunkPaths(t *testing.T) {
	rig := newTestRig(t, 2)
	rig.newJob(t, "job-1", defaultConfig())

	rig.exec.Run(context.Background(), "job-1")

	if len(rig.toolkit.ConcatCalls) != 1 {
		t.Fatalf("expected exactly one Concat call, got %d", len(rig.toolkit.ConcatCalls))
	}
	ordered := rig.toolkit.ConcatCalls[0]
	if len(ordered) != 2 {
		t.Fatalf("expected 2 merged chunk inputs, got %d", len(ordered))
	}
	if filepath.Base(ordered[0]) == filepath.Base(ordered[1]) {
		t.Errorf("expected distinct merged chunk filenames, got %v", ordered)
	}
}
