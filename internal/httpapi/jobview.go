package httpapi

import (
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

func toJobResponse(job *enginejob.Job) JobResponse {
	resp := JobResponse{
		ID:        job.ID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
		SourceRef: job.SourceRef,
		SourceMeta: SourceMetaResponse{
			Title:           job.SourceMeta.Title,
			DurationSeconds: job.SourceMeta.DurationSeconds,
			ResolutionLabel: job.SourceMeta.ResolutionLabel,
			CodecLabel:      job.SourceMeta.CodecLabel,
			FileSizeBytes:   job.SourceMeta.FileSizeBytes,
		},
		Progress: ProgressResponse{
			Stage:          string(job.Progress.Stage),
			OverallPercent: job.Progress.OverallPercent,
			StageDetail: StageDetailResponse{
				BytesDownloaded: job.Progress.StageDetail.BytesDownloaded,
				TotalBytes:      job.Progress.StageDetail.TotalBytes,
				ChunksPlanned:   job.Progress.StageDetail.ChunksPlanned,
				ChunksProcessed: job.Progress.StageDetail.ChunksProcessed,
				ActiveJobs:      job.Progress.StageDetail.ActiveJobs,
				Completed:       job.Progress.StageDetail.Completed,
				Failed:          job.Progress.StageDetail.Failed,
				PendingCount:    job.Progress.StageDetail.PendingCount,
			},
		},
		OutputFile: job.OutputFile,
	}

	if job.Progress.EstimatedCompletion != nil {
		formatted := job.Progress.EstimatedCompletion.Format(time.RFC3339)
		resp.Progress.EstimatedCompletion = &formatted
	}

	if job.Error != nil {
		resp.Error = &JobErrorResponse{
			Code:               job.Error.Code,
			Message:            job.Error.Message,
			Stage:              string(job.Error.Stage),
			Recoverable:        job.Error.Recoverable,
			FailedChunkIndices: job.Error.FailedChunkIndices,
		}
	}

	return resp
}
