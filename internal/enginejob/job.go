package enginejob

import (
	"sync"
	"time"
)

// SourceMeta describes the resolved source media, as returned by the
// SourceResolver collaborator.
type SourceMeta struct {
	Title           string
	DurationSeconds float64
	ResolutionLabel string
	CodecLabel      string
	FileSizeBytes   *int64
}

// Config holds the per-job dubbing/processing configuration.
type Config struct {
	ChunkDurationSeconds  int
	TargetLanguage        string
	MaxParallelJobs       int
	VideoQuality          string
	OutputFormat          string
	UseWatermark          bool
	KeepIntermediateFiles bool
	ChunkingStrategy      string
}

// Allowed chunk durations.
var AllowedChunkDurations = []int{30, 60, 120, 180, 300}

// Allowed output formats.
const (
	OutputFormatMP4  = "mp4"
	OutputFormatWebM = "webm"
)

// Allowed chunking strategies.
const (
	ChunkingStrategyFixed   = "fixed"
	ChunkingStrategyScene   = "scene"
	ChunkingStrategySilence = "silence"
)

// Paths holds the filesystem locations under a job's workspace root.
type Paths struct {
	Root   string
	Source string
	Chunks string
	Dubbed string
	Output string
}

// StageDetail carries stage-specific progress information. Only the field
// relevant to Progress.Stage is expected to be populated; the rest are zero.
type StageDetail struct {
	// Download progress.
	BytesDownloaded int64
	TotalBytes      *int64
	SpeedBytesPerS  float64
	ETASeconds      *float64

	// Chunk progress.
	ChunksPlanned   int
	ChunksProcessed int

	// Dub progress (mirrors DubScheduler's emitted snapshot).
	Chunks       []ChunkStatus
	ActiveJobs   int
	Completed    int
	Failed       int
	PendingCount int
}

// Progress holds the live progress state of a job.
type Progress struct {
	Stage               Stage
	OverallPercent      int
	StartedAt           time.Time
	EstimatedCompletion *time.Time
	StageDetail         StageDetail
	Logs                []LogEntry
}

// JobError describes a terminal failure or cancellation.
type JobError struct {
	Code               string
	Message            string
	Stage              Stage
	Recoverable        bool
	FailedChunkIndices []int
	Details            string
}

// Job is the root aggregate of the automation pipeline engine. A Job is
// exclusively owned by the engine once created: it is mutated only by its
// PipelineExecutor and by cancel/retry commands issued through
// AutomationService.
type Job struct {
	mu sync.RWMutex

	ID        string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time

	SourceRef  string
	SourceMeta SourceMeta
	Config     Config

	Progress Progress
	Paths    Paths

	OutputFile string
	Error      *JobError

	ChunkInfos    []ChunkInfo
	ChunkStatuses []ChunkStatus
}

// New creates a new Job with the given id in the initial pending state.
func New(id, sourceRef string, cfg Config) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		SourceRef: sourceRef,
		Config:    cfg,
		Progress: Progress{
			Stage: StageDownload,
		},
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetSourceMeta installs the resolved source metadata.
func (j *Job) SetSourceMeta(meta SourceMeta) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.SourceMeta = meta
	j.UpdatedAt = time.Now()
}

// SetPaths installs the job's workspace paths.
func (j *Job) SetPaths(paths Paths) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Paths = paths
	j.UpdatedAt = time.Now()
}

// SetSourcePath updates the path to the fetched source file once download
// completes.
func (j *Job) SetSourcePath(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Paths.Source = path
	j.UpdatedAt = time.Now()
}

// ClearError clears a previously recorded job error, used when a retry
// resumes a failed job back into the dubbing stage.
func (j *Job) ClearError() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Error = nil
	j.UpdatedAt = time.Now()
}

// SetProgress overwrites stage/percent/stage-detail atomically. percent is
// clamped to [0,100] and never allowed to regress
// within a single run.
func (j *Job) SetProgress(stage Stage, percent int, detail StageDetail) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < j.Progress.OverallPercent {
		percent = j.Progress.OverallPercent
	}

	j.Progress.Stage = stage
	j.Progress.OverallPercent = percent
	j.Progress.StageDetail = detail
	j.UpdatedAt = time.Now()
}

// AppendLog appends a log entry under the ring-cap invariant.
func (j *Job) AppendLog(entry LogEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	j.Progress.Logs = appendLogRing(j.Progress.Logs, entry)
	j.UpdatedAt = time.Now()
}

// SetChunks installs the planned chunk manifest and initializes a matching
// pending ChunkStatus for every index.
func (j *Job) SetChunks(infos []ChunkInfo) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.ChunkInfos = infos
	statuses := make([]ChunkStatus, len(infos))
	for i := range infos {
		statuses[i] = ChunkStatus{Index: i, State: ChunkPending}
	}
	j.ChunkStatuses = statuses
	j.UpdatedAt = time.Now()
}

// UpdateChunkStatus replaces the ChunkStatus at the given index.
func (j *Job) UpdateChunkStatus(index int, status ChunkStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index >= 0 && index < len(j.ChunkStatuses) {
		j.ChunkStatuses[index] = status
		j.UpdatedAt = time.Now()
	}
}

// Fail transitions the job to failed with the given error detail.
func (j *Job) Fail(jobErr JobError) error {
	j.mu.Lock()
	j.Error = &jobErr
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// Cancel transitions the job to cancelled with a CANCELLED error.
func (j *Job) Cancel(stage Stage) error {
	j.mu.Lock()
	j.Error = &JobError{
		Code:        "CANCELLED",
		Message:     "job cancelled by caller",
		Stage:       stage,
		Recoverable: false,
	}
	j.mu.Unlock()
	return j.TransitionTo(StatusCancelled)
}

// Complete transitions the job to complete and records the output file.
func (j *Job) Complete(outputFile string) error {
	j.mu.Lock()
	j.OutputFile = outputFile
	j.mu.Unlock()
	return j.TransitionTo(StatusComplete)
}

// LastUpdated returns the job's UpdatedAt timestamp (thread-safe).
func (j *Job) LastUpdated() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.UpdatedAt
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.IsTerminal()
}

// Clone creates a deep copy of the job for safe external reads, mirroring
// the isolation guarantees a repository must provide on get/list.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	clone := &Job{
		ID:         j.ID,
		Status:     j.Status,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
		SourceRef:  j.SourceRef,
		SourceMeta: j.SourceMeta,
		Config:     j.Config,
		Progress:   j.Progress,
		Paths:      j.Paths,
		OutputFile: j.OutputFile,
	}

	clone.Progress.Logs = append([]LogEntry(nil), j.Progress.Logs...)
	clone.Progress.StageDetail.Chunks = append([]ChunkStatus(nil), j.Progress.StageDetail.Chunks...)

	if j.Error != nil {
		errCopy := *j.Error
		errCopy.FailedChunkIndices = append([]int(nil), j.Error.FailedChunkIndices...)
		clone.Error = &errCopy
	}

	clone.ChunkInfos = append([]ChunkInfo(nil), j.ChunkInfos...)
	clone.ChunkStatuses = append([]ChunkStatus(nil), j.ChunkStatuses...)

	return clone
}
