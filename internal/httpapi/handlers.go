package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/automation-pipeline-engine/internal/automationservice"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

// Handlers contains the HTTP handlers for the automation pipeline API.
type Handlers struct {
	service   *automationservice.Service
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *automationservice.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// StartJob handles POST /jobs requests.
func (h *Handlers) StartJob(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	result, err := h.service.Start(r.Context(), req.SourceRef, req.toConfig())
	if err != nil {
		if errors.Is(err, automationservice.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to start job", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start job", "JOB_START_FAILED")
		return
	}

	h.logger.Info("job started",
		slog.String("job_id", result.JobID),
		slog.String("source_ref", req.SourceRef),
	)

	writeJSON(w, http.StatusAccepted, StartJobResponse{
		JobID:            result.JobID,
		Status:           string(result.Status),
		EstimatedTimeSec: result.EstimatedTimeSec,
		EstimatedCostUsd: result.EstimatedCostUsd,
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	job, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, enginejob.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := automationservice.ListQuery{}

	if v := r.URL.Query().Get("status"); v != "" {
		status := enginejob.Status(v)
		q.Status = &status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}

	result, err := h.service.List(r.Context(), q)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	jobs := make([]JobResponse, 0, len(result.Jobs))
	for _, job := range result.Jobs {
		jobs = append(jobs, toJobResponse(job))
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{
		Jobs:    jobs,
		Total:   result.Total,
		HasMore: result.HasMore,
	})
}

// CancelJob handles POST /jobs/{id}/cancel requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	if err := h.service.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, enginejob.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, automationservice.ErrConflict):
			writeError(w, http.StatusConflict, "job cannot be cancelled in its current state", "JOB_CONFLICT")
		default:
			h.logger.Error("failed to cancel job", slog.String("job_id", jobID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RetryJob handles POST /jobs/{id}/retry requests.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	var req RetryJobRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return
		}
	}

	result, err := h.service.Retry(r.Context(), jobID, req.ChunkIndices)
	if err != nil {
		switch {
		case errors.Is(err, enginejob.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, automationservice.ErrConflict):
			writeError(w, http.StatusConflict, "job is not in a retriable state", "JOB_CONFLICT")
		default:
			h.logger.Error("failed to retry job", slog.String("job_id", jobID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to retry job", "JOB_RETRY_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, RetryJobResponse{
		JobID:        result.JobID,
		ChunkIndices: result.ChunkIndices,
	})
}

// DownloadJob handles GET /jobs/{id}/download requests.
func (h *Handlers) DownloadJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	path, err := h.service.DownloadPath(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, enginejob.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, automationservice.ErrConflict):
			writeError(w, http.StatusConflict, "job has not completed", "JOB_CONFLICT")
		default:
			h.logger.Error("failed to resolve download path", slog.String("job_id", jobID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to resolve download path", "JOB_DOWNLOAD_FAILED")
		}
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("failed to open output file", slog.String("job_id", jobID), slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to open output file", "JOB_DOWNLOAD_FAILED")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("failed to stat output file", slog.String("job_id", jobID), slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to stat output file", "JOB_DOWNLOAD_FAILED")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, path, info.ModTime(), f)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
