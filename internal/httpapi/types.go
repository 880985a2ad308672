// Package httpapi provides the HTTP server for the automation pipeline
// engine. It includes handlers, middleware, routes, and DTOs separated from
// domain types, mirroring the teacher's internal/server package.
package httpapi

import "github.com/maauso/automation-pipeline-engine/internal/enginejob"

// StartJobRequest is the HTTP request body for starting a new job.
type StartJobRequest struct {
	// SourceRef is an opaque reference to the source video (URL or local
	// path) the SourceResolver collaborator knows how to resolve.
	SourceRef string `json:"source_ref" validate:"required"`
	// ChunkDurationSeconds is the target chunk length; must be one of
	// enginejob.AllowedChunkDurations.
	ChunkDurationSeconds int `json:"chunk_duration_seconds" validate:"required"`
	// TargetLanguage is a BCP-47 language tag, e.g. "pt-BR".
	TargetLanguage string `json:"target_language" validate:"required"`
	// MaxParallelJobs bounds concurrent chunk dubs, in [1,5].
	MaxParallelJobs int `json:"max_parallel_jobs" validate:"required,min=1,max=5"`
	// VideoQuality is an opaque quality hint passed through to the media
	// toolkit and dubbing provider.
	VideoQuality string `json:"video_quality,omitempty"`
	// OutputFormat is one of "mp4" or "webm".
	OutputFormat string `json:"output_format" validate:"required,oneof=mp4 webm"`
	// UseWatermark requests an overlay watermark on the output.
	UseWatermark bool `json:"use_watermark,omitempty"`
	// KeepIntermediateFiles skips workspace cleanup after a terminal state.
	KeepIntermediateFiles bool `json:"keep_intermediate_files,omitempty"`
	// ChunkingStrategy is one of "fixed", "scene", "silence", or empty for
	// the chunk planner's default.
	ChunkingStrategy string `json:"chunking_strategy,omitempty" validate:"omitempty,oneof=fixed scene silence"`
}

func (r StartJobRequest) toConfig() enginejob.Config {
	return enginejob.Config{
		ChunkDurationSeconds:  r.ChunkDurationSeconds,
		TargetLanguage:        r.TargetLanguage,
		MaxParallelJobs:       r.MaxParallelJobs,
		VideoQuality:          r.VideoQuality,
		OutputFormat:          r.OutputFormat,
		UseWatermark:          r.UseWatermark,
		KeepIntermediateFiles: r.KeepIntermediateFiles,
		ChunkingStrategy:      r.ChunkingStrategy,
	}
}

// StartJobResponse is the HTTP response after starting a job.
type StartJobResponse struct {
	JobID            string  `json:"job_id"`
	Status           string  `json:"status"`
	EstimatedTimeSec float64 `json:"estimated_time_sec"`
	EstimatedCostUsd float64 `json:"estimated_cost_usd"`
}

// RetryJobRequest is the optional HTTP request body for retrying a job.
type RetryJobRequest struct {
	// ChunkIndices, if non-empty, overrides the job's recorded
	// failedChunkIndices.
	ChunkIndices []int `json:"chunk_indices,omitempty"`
}

// RetryJobResponse is the HTTP response after accepting a retry.
type RetryJobResponse struct {
	JobID        string `json:"job_id"`
	ChunkIndices []int  `json:"chunk_indices"`
}

// SourceMetaResponse mirrors enginejob.SourceMeta.
type SourceMetaResponse struct {
	Title           string `json:"title,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ResolutionLabel string `json:"resolution,omitempty"`
	CodecLabel      string `json:"codec,omitempty"`
	FileSizeBytes   *int64 `json:"file_size_bytes,omitempty"`
}

// StageDetailResponse mirrors enginejob.StageDetail, flattened for the wire.
type StageDetailResponse struct {
	BytesDownloaded int64    `json:"bytes_downloaded,omitempty"`
	TotalBytes      *int64   `json:"total_bytes,omitempty"`
	ChunksPlanned   int      `json:"chunks_planned,omitempty"`
	ChunksProcessed int      `json:"chunks_processed,omitempty"`
	ActiveJobs      int      `json:"active_jobs,omitempty"`
	Completed       int      `json:"completed,omitempty"`
	Failed          int      `json:"failed,omitempty"`
	PendingCount    int      `json:"pending_count,omitempty"`
}

// ProgressResponse mirrors enginejob.Progress.
type ProgressResponse struct {
	Stage               string              `json:"stage"`
	OverallPercent      int                 `json:"overall_percent"`
	EstimatedCompletion *string             `json:"estimated_completion,omitempty"`
	StageDetail         StageDetailResponse `json:"stage_detail"`
}

// JobErrorResponse mirrors enginejob.JobError.
type JobErrorResponse struct {
	Code               string `json:"code"`
	Message            string `json:"message"`
	Stage              string `json:"stage"`
	Recoverable        bool   `json:"recoverable"`
	FailedChunkIndices []int  `json:"failed_chunk_indices,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	CreatedAt  string              `json:"created_at"`
	UpdatedAt  string              `json:"updated_at"`
	SourceRef  string              `json:"source_ref"`
	SourceMeta SourceMetaResponse  `json:"source_meta"`
	Progress   ProgressResponse    `json:"progress"`
	Error      *JobErrorResponse   `json:"error,omitempty"`
	OutputFile string              `json:"output_file,omitempty"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs    []JobResponse `json:"jobs"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
