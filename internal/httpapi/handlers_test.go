package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/automation-pipeline-engine/internal/automationservice"
	"github.com/maauso/automation-pipeline-engine/internal/collaborators"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob/jobstore/memstore"
	"github.com/maauso/automation-pipeline-engine/internal/progressbus"
	"github.com/maauso/automation-pipeline-engine/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter(t *testing.T) (http.Handler, *automationservice.Service) {
	t.Helper()

	ws, err := workspace.New(t.TempDir(), testLogger())
	require.NoError(t, err)

	store := memstore.New()
	bus := progressbus.New()
	resolver := &collaborators.FakeSourceResolver{
		Result: collaborators.ResolvedSource{SuggestedTitle: "clip.mp4", DurationSeconds: 120},
	}
	toolkit := &collaborators.FakeMediaToolkit{
		SplitSegments: []collaborators.SplitSegment{{StartTime: 0, EndTime: 60}},
	}
	provider := collaborators.NewFakeDubbingProvider()

	svc := automationservice.New(store, bus, ws, resolver, toolkit, provider, testLogger(), time.Hour)
	h := NewHandlers(svc, testLogger())
	return NewRouter(h, testLogger(), DefaultConfig()), svc
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartJob_ValidationError(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(StartJobRequest{})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartJob_Success(t *testing.T) {
	router, _ := newTestRouter(t)

	reqBody := StartJobRequest{
		SourceRef:            "https://example.com/clip.mp4",
		ChunkDurationSeconds: 60,
		TargetLanguage:       "pt-BR",
		MaxParallelJobs:      2,
		OutputFormat:         "mp4",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp StartJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.JobID)
}

func TestGetJob_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_Success(t *testing.T) {
	router, svc := newTestRouter(t)

	result, err := svc.Start(context.Background(), "https://example.com/clip.mp4", validConfigForTest())
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var rec *httptest.ResponseRecorder
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+result.JobID, nil)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		var resp JobResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		if resp.Status == "complete" || resp.Status == "failed" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListJobs(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.Start(context.Background(), "https://example.com/clip.mp4", validConfigForTest())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/jobs?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListJobsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Total)
}

func TestCancelJob_NotFoundWhenUnknown(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-does-not-exist/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func validConfigForTest() enginejob.Config {
	return enginejob.Config{
		ChunkDurationSeconds: 60,
		TargetLanguage:       "pt-BR",
		MaxParallelJobs:      2,
		OutputFormat:         enginejob.OutputFormatMP4,
	}
}
