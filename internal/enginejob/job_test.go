package enginejob

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	job := New("job-1", "https://example.com/video.mp4", Config{ChunkDurationSeconds: 60})

	if job.ID != "job-1" {
		t.Errorf("expected ID job-1, got %s", job.ID)
	}
	if job.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if job.Progress.Stage != StageDownload {
		t.Errorf("expected initial stage %s, got %s", StageDownload, job.Progress.Stage)
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"pending to downloading", StatusPending, StatusDownloading, false},
		{"pending to cancelled", StatusPending, StatusCancelled, false},
		{"downloading to chunking", StatusDownloading, StatusChunking, false},
		{"chunking to dubbing", StatusChunking, StatusDubbing, false},
		{"dubbing to merging", StatusDubbing, StatusMerging, false},
		{"merging to finalizing", StatusMerging, StatusFinalizing, false},
		{"finalizing to complete", StatusFinalizing, StatusComplete, false},
		{"dubbing to failed", StatusDubbing, StatusFailed, false},
		{"pending to chunking", StatusPending, StatusChunking, true},
		{"pending to complete", StatusPending, StatusComplete, true},
		{"complete to pending", StatusComplete, StatusPending, true},
		{"failed to downloading", StatusFailed, StatusDownloading, true},
		{"cancelled to downloading", StatusCancelled, StatusDownloading, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := New("test", "src", Config{})
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_CannotTransitionFromTerminalState(t *testing.T) {
	terminalStates := []Status{StatusComplete, StatusFailed, StatusCancelled}
	allStates := []Status{StatusPending, StatusDownloading, StatusChunking, StatusDubbing, StatusMerging, StatusFinalizing, StatusComplete, StatusFailed, StatusCancelled}

	for _, terminal := range terminalStates {
		for _, target := range allStates {
			t.Run(string(terminal)+"_to_"+string(target), func(t *testing.T) {
				job := New("test", "src", Config{})
				job.Status = terminal

				err := job.TransitionTo(target)
				if terminal == StatusFailed && target == StatusDubbing {
					// The one backward edge: an explicit retry re-enters dubbing.
					if err != nil {
						t.Errorf("expected retry edge from failed to dubbing to be allowed, got %v", err)
					}
					return
				}
				if err == nil {
					t.Errorf("expected error when transitioning from %s to %s", terminal, target)
				}
				if err != ErrInvalidTransition {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
			})
		}
	}
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusDownloading, false},
		{StatusDubbing, false},
		{StatusComplete, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := New("test", "src", Config{})
			job.Status = tt.status

			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestJob_SetProgress_ClampsAndNeverRegresses(t *testing.T) {
	job := New("test", "src", Config{})

	job.SetProgress(StageDownload, 50, StageDetail{})
	if job.Progress.OverallPercent != 50 {
		t.Fatalf("expected 50, got %d", job.Progress.OverallPercent)
	}

	job.SetProgress(StageDownload, -10, StageDetail{})
	if job.Progress.OverallPercent != 50 {
		t.Errorf("expected regression to be rejected, got %d", job.Progress.OverallPercent)
	}

	job.SetProgress(StageChunk, 150, StageDetail{})
	if job.Progress.OverallPercent != 100 {
		t.Errorf("expected clamp to 100, got %d", job.Progress.OverallPercent)
	}
}

func TestJob_SetChunks(t *testing.T) {
	job := New("test", "src", Config{})
	job.SetChunks([]ChunkInfo{
		{Index: 0, Filename: "0001.mp4"},
		{Index: 1, Filename: "0002.mp4"},
	})

	if len(job.ChunkInfos) != 2 {
		t.Fatalf("expected 2 chunk infos, got %d", len(job.ChunkInfos))
	}
	if len(job.ChunkStatuses) != 2 {
		t.Fatalf("expected 2 chunk statuses, got %d", len(job.ChunkStatuses))
	}
	if job.ChunkStatuses[0].State != ChunkPending {
		t.Errorf("expected pending, got %s", job.ChunkStatuses[0].State)
	}
}

func TestJob_UpdateChunkStatus(t *testing.T) {
	job := New("test", "src", Config{})
	job.SetChunks([]ChunkInfo{{Index: 0, Filename: "0001.mp4"}})

	job.UpdateChunkStatus(0, ChunkStatus{Index: 0, State: ChunkComplete, ProviderJobID: "prov-1"})

	if job.ChunkStatuses[0].State != ChunkComplete {
		t.Errorf("expected complete, got %s", job.ChunkStatuses[0].State)
	}
	if job.ChunkStatuses[0].ProviderJobID != "prov-1" {
		t.Errorf("expected prov-1, got %s", job.ChunkStatuses[0].ProviderJobID)
	}
}

func TestJob_Fail(t *testing.T) {
	job := New("test", "src", Config{})
	_ = job.TransitionTo(StatusDownloading)

	err := job.Fail(JobError{Code: "DOWNLOAD_FAILED", Message: "boom", Stage: StageDownload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != "DOWNLOAD_FAILED" {
		t.Errorf("expected error code DOWNLOAD_FAILED, got %+v", job.Error)
	}
}

func TestJob_Cancel(t *testing.T) {
	job := New("test", "src", Config{})
	_ = job.TransitionTo(StatusDownloading)

	err := job.Cancel(StageDownload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != "CANCELLED" {
		t.Errorf("expected CANCELLED error code, got %+v", job.Error)
	}
}

func TestJob_Complete(t *testing.T) {
	job := New("test", "src", Config{})
	job.Status = StatusFinalizing

	err := job.Complete("/tmp/out.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusComplete {
		t.Errorf("expected complete, got %s", job.Status)
	}
	if job.OutputFile != "/tmp/out.mp4" {
		t.Errorf("expected output file set, got %s", job.OutputFile)
	}
}

func TestJob_AppendLog_RingCap(t *testing.T) {
	job := New("test", "src", Config{})

	for i := 0; i < 1100; i++ {
		job.AppendLog(LogEntry{Level: LogInfo, Message: "line"})
	}

	if len(job.Progress.Logs) != MaxLogEntries {
		t.Fatalf("expected %d logs, got %d", MaxLogEntries, len(job.Progress.Logs))
	}
}

func TestJob_Clone(t *testing.T) {
	job := New("test", "src", Config{})
	job.Status = StatusDubbing
	job.SetProgress(StageDub, 50, StageDetail{ActiveJobs: 2})
	job.SetChunks([]ChunkInfo{{Index: 0, Filename: "0001.mp4"}})
	job.AppendLog(LogEntry{Level: LogInfo, Message: "hello", Timestamp: time.Now()})

	clone := job.Clone()

	if clone.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, clone.ID)
	}
	if clone.Status != job.Status {
		t.Errorf("expected status %s, got %s", job.Status, clone.Status)
	}

	clone.Status = StatusComplete
	if job.Status == StatusComplete {
		t.Error("modifying clone should not affect original")
	}

	clone.ChunkStatuses[0].State = ChunkFailed
	if job.ChunkStatuses[0].State == ChunkFailed {
		t.Error("modifying clone chunk statuses should not affect original")
	}

	clone.Progress.Logs[0].Message = "tampered"
	if job.Progress.Logs[0].Message == "tampered" {
		t.Error("modifying clone logs should not affect original")
	}
}

func TestJob_GetStatus_ThreadSafe(t *testing.T) {
	job := New("test", "src", Config{})
	_ = job.TransitionTo(StatusDownloading)

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			_ = job.GetStatus()
		}
		done <- true
	}()
	go func() {
		for i := 0; i < 100; i++ {
			job.AppendLog(LogEntry{Level: LogDebug, Message: "tick"})
		}
		done <- true
	}()

	<-done
	<-done
}
