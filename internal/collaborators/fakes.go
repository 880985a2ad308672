package collaborators

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FakeSourceResolver returns a canned ResolvedSource (or error) for every
// call, for use in dubscheduler/pipelineexecutor/automationservice tests
// that should not depend on real network or ffmpeg binaries.
type FakeSourceResolver struct {
	Result ResolvedSource
	Err    error
}

func (f *FakeSourceResolver) Resolve(_ context.Context, _ string) (ResolvedSource, error) {
	return f.Result, f.Err
}

// FakeMediaToolkit is an in-memory MediaToolkit: Fetch/ReplaceAudio/Concat
// just touch-create their destination file, and Split synthesizes evenly
// spaced segments without invoking ffmpeg.
type FakeMediaToolkit struct {
	mu sync.Mutex

	FetchErr        error
	SplitErr        error
	ReplaceAudioErr error
	ConcatErr       error

	SplitSegments []SplitSegment

	FetchCalls   []string
	SplitCalls   []string
	ReplaceCalls []string
	ConcatCalls  [][]string
}

func (f *FakeMediaToolkit) Fetch(_ context.Context, url, destFile string, progress func(FetchProgress)) error {
	f.mu.Lock()
	f.FetchCalls = append(f.FetchCalls, destFile)
	f.mu.Unlock()
	if f.FetchErr != nil {
		return f.FetchErr
	}
	if progress != nil {
		progress(FetchProgress{Bytes: 1024})
	}
	return touch(destFile)
}

func (f *FakeMediaToolkit) Split(_ context.Context, srcFile, destDir string, durationSec int, strategy ChunkingStrategy, progress func(SplitProgress)) ([]SplitSegment, error) {
	f.mu.Lock()
	f.SplitCalls = append(f.SplitCalls, destDir)
	f.mu.Unlock()
	if f.SplitErr != nil {
		return nil, f.SplitErr
	}

	segments := f.SplitSegments
	for i := range segments {
		path := fmt.Sprintf("%s/%04d.mp4", destDir, i+1)
		if err := touch(path); err != nil {
			return nil, err
		}
		segments[i].Path = path
		if progress != nil {
			progress(SplitProgress{Processed: i + 1, TotalChunks: len(segments), CurrentChunk: path})
		}
	}
	return segments, nil
}

func (f *FakeMediaToolkit) ReplaceAudio(_ context.Context, srcChunkVideo, dubbedAudio, destFile string) error {
	f.mu.Lock()
	f.ReplaceCalls = append(f.ReplaceCalls, destFile)
	f.mu.Unlock()
	if f.ReplaceAudioErr != nil {
		return f.ReplaceAudioErr
	}
	return touch(destFile)
}

func (f *FakeMediaToolkit) Concat(_ context.Context, orderedFiles []string, destFile string) error {
	f.mu.Lock()
	f.ConcatCalls = append(f.ConcatCalls, append([]string(nil), orderedFiles...))
	f.mu.Unlock()
	if f.ConcatErr != nil {
		return f.ConcatErr
	}
	return touch(destFile)
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("fake"), 0640)
}

// FakeDubbingProvider simulates a dubbing backend entirely in memory. Each
// provider job id is assigned a scripted outcome via Outcomes, keyed by
// call order; if exhausted, the last entry repeats.
type FakeDubbingProvider struct {
	mu sync.Mutex

	// Outcomes, consumed in FIFO order per Create call. Each entry
	// describes what Status should report after a fixed PollsUntilDone
	// number of polls. Ignored for a chunk whose source path has a match
	// in OutcomeByPath.
	Outcomes []FakeDubOutcome

	// OutcomeByPath scripts a specific chunk's outcome by its
	// CreateDubParams.SourceURLOrFile, for tests that need a
	// deterministic per-chunk result independent of concurrent creation
	// order.
	OutcomeByPath map[string]FakeDubOutcome

	nextID int
	jobs   map[string]*fakeDubJob
}

// FakeDubOutcome scripts one simulated provider job's lifecycle.
type FakeDubOutcome struct {
	PollsUntilDone int
	FinalState     DubbingState
	ErrorMessage   string
	CreateErr      error
}

type fakeDubJob struct {
	outcome FakeDubOutcome
	polls   int
}

func NewFakeDubbingProvider() *FakeDubbingProvider {
	return &FakeDubbingProvider{jobs: make(map[string]*fakeDubJob)}
}

func (f *FakeDubbingProvider) Create(_ context.Context, params CreateDubParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.nextID
	var outcome FakeDubOutcome
	if byPath, ok := f.OutcomeByPath[params.SourceURLOrFile]; ok {
		outcome = byPath
	} else if idx < len(f.Outcomes) {
		outcome = f.Outcomes[idx]
	} else if len(f.Outcomes) > 0 {
		outcome = f.Outcomes[len(f.Outcomes)-1]
	} else {
		outcome = FakeDubOutcome{PollsUntilDone: 1, FinalState: DubbingDone}
	}
	f.nextID++

	if outcome.CreateErr != nil {
		return "", outcome.CreateErr
	}

	id := fmt.Sprintf("fake-job-%d", idx)
	f.jobs[id] = &fakeDubJob{outcome: outcome}
	return id, nil
}

func (f *FakeDubbingProvider) Status(_ context.Context, providerJobID string) (DubbingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[providerJobID]
	if !ok {
		return DubbingStatus{}, ErrProviderJobNotFound
	}

	job.polls++
	if job.polls < job.outcome.PollsUntilDone {
		return DubbingStatus{State: DubbingInProgress, Progress: job.polls * 100 / job.outcome.PollsUntilDone}, nil
	}
	return DubbingStatus{State: job.outcome.FinalState, ErrorMessage: job.outcome.ErrorMessage, Progress: 100}, nil
}

func (f *FakeDubbingProvider) Download(_ context.Context, providerJobID, _ string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	_, ok := f.jobs[providerJobID]
	f.mu.Unlock()
	if !ok {
		return nil, "", ErrProviderJobNotFound
	}
	return io.NopCloser(strings.NewReader("fake-dubbed-audio")), "mp3", nil
}

var (
	_ SourceResolver  = (*FakeSourceResolver)(nil)
	_ MediaToolkit    = (*FakeMediaToolkit)(nil)
	_ DubbingProvider = (*FakeDubbingProvider)(nil)
)
