package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

func TestStore_CreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := enginejob.New("job-1", "src", enginejob.Config{})

	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "job-1" {
		t.Errorf("expected job-1, got %s", got.ID)
	}
}

func TestStore_Create_Duplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := enginejob.New("job-1", "src", enginejob.Config{})

	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Create(ctx, job); err != ErrAlreadyExists {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "missing"); err != enginejob.ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStore_Get_ReturnsIndependentClone(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := enginejob.New("job-1", "src", enginejob.Config{})
	_ = s.Create(ctx, job)

	got, _ := s.Get(ctx, "job-1")
	got.Status = enginejob.StatusComplete

	again, _ := s.Get(ctx, "job-1")
	if again.Status == enginejob.StatusComplete {
		t.Error("mutating a returned job should not affect stored state")
	}
}

func TestStore_Delete(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := enginejob.New("job-1", "src", enginejob.Config{})
	_ = s.Create(ctx, job)

	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Errorf("delete of an already-deleted id should be idempotent, got %v", err)
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("delete of a non-existent id should be idempotent, got %v", err)
	}
}

func TestStore_List_NewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	older := enginejob.New("old", "src", enginejob.Config{})
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := enginejob.New("new", "src", enginejob.Config{})
	newer.CreatedAt = time.Now()

	_ = s.Create(ctx, older)
	_ = s.Create(ctx, newer)

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}
	if list[0].ID != "new" {
		t.Errorf("expected newest first, got %s", list[0].ID)
	}
}

func TestStore_Count(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, enginejob.New("a", "src", enginejob.Config{}))
	_ = s.Create(ctx, enginejob.New("b", "src", enginejob.Config{}))

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestStore_Exists(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, enginejob.New("a", "src", enginejob.Config{}))

	ok, _ := s.Exists(ctx, "a")
	if !ok {
		t.Error("expected job a to exist")
	}
	ok, _ = s.Exists(ctx, "missing")
	if ok {
		t.Error("expected missing job to not exist")
	}
}

func TestStore_UpdateProgress(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := enginejob.New("a", "src", enginejob.Config{})
	_ = s.Create(ctx, job)

	if err := s.UpdateProgress(ctx, "a", enginejob.StageDub, 42, enginejob.StageDetail{ActiveJobs: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.Get(ctx, "a")
	if got.Progress.OverallPercent != 42 {
		t.Errorf("expected 42, got %d", got.Progress.OverallPercent)
	}
	if got.Progress.StageDetail.ActiveJobs != 3 {
		t.Errorf("expected 3 active jobs, got %d", got.Progress.StageDetail.ActiveJobs)
	}
}

func TestStore_AppendLog(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := enginejob.New("a", "src", enginejob.Config{})
	_ = s.Create(ctx, job)

	if err := s.AppendLog(ctx, "a", enginejob.LogEntry{Level: enginejob.LogInfo, Message: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.Get(ctx, "a")
	if len(got.Progress.Logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(got.Progress.Logs))
	}
	if got.Progress.Logs[0].Message != "hi" {
		t.Errorf("expected hi, got %s", got.Progress.Logs[0].Message)
	}
}

func TestStore_GetRecentlyUpdated(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	older := enginejob.New("older", "src", enginejob.Config{})
	older.UpdatedAt = now.Add(-time.Hour)
	_ = s.Create(ctx, older)

	newer := enginejob.New("newer", "src", enginejob.Config{})
	newer.UpdatedAt = now
	_ = s.Create(ctx, newer)

	result, err := s.GetRecentlyUpdated(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 || result[0].ID != "newer" {
		t.Errorf("expected only newer job, got %+v", result)
	}

	all, err := s.GetRecentlyUpdated(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].ID != "newer" || all[1].ID != "older" {
		t.Errorf("expected both jobs newest-first with limit 0, got %+v", all)
	}
}

func TestStore_DeleteOldTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	cutoff := time.Now()

	terminal := enginejob.New("done", "src", enginejob.Config{})
	terminal.Status = enginejob.StatusComplete
	terminal.UpdatedAt = cutoff.Add(-time.Hour)
	_ = s.Create(ctx, terminal)

	active := enginejob.New("active", "src", enginejob.Config{})
	active.Status = enginejob.StatusDubbing
	active.UpdatedAt = cutoff.Add(-time.Hour)
	_ = s.Create(ctx, active)

	recentTerminal := enginejob.New("recent-done", "src", enginejob.Config{})
	recentTerminal.Status = enginejob.StatusComplete
	recentTerminal.UpdatedAt = cutoff.Add(time.Minute)
	_ = s.Create(ctx, recentTerminal)

	removed, err := s.DeleteOldTerminal(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	if _, err := s.Get(ctx, "done"); err != enginejob.ErrJobNotFound {
		t.Error("expected old terminal job to be removed")
	}
	if _, err := s.Get(ctx, "active"); err != nil {
		t.Error("expected active job to survive cleanup")
	}
	if _, err := s.Get(ctx, "recent-done"); err != nil {
		t.Error("expected recent terminal job to survive cleanup")
	}
}
