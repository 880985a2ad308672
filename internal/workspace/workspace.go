// Package workspace manages per-job filesystem layout under the engine's
// workspace root: source/chunks/dubbed/output directories, scoped creation,
// and scheduled cleanup on terminal job transitions.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

// Paths mirrors enginejob.Paths; kept as a distinct type at this layer so
// workspace stays free of an import-cycle back to enginejob for anything
// beyond value conversion.
type Paths = enginejob.Paths

// Workspace creates and tears down per-job directory trees under root.
type Workspace struct {
	root   string
	logger *slog.Logger
}

// New creates a Workspace rooted at root. The root directory is created if
// it does not already exist.
func New(root string, logger *slog.Logger) (*Workspace, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "automation-pipeline-engine")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{root: root, logger: logger}, nil
}

// CreateJobDirs ensures the source/chunks/dubbed/output directories exist
// for jobID, empty. Creation is scoped: on any failure partial state is
// removed before returning.
func (w *Workspace) CreateJobDirs(jobID string) (Paths, error) {
	root := filepath.Join(w.root, jobID)
	paths := Paths{
		Root:   root,
		Source: filepath.Join(root, "source"),
		Chunks: filepath.Join(root, "chunks"),
		Dubbed: filepath.Join(root, "dubbed"),
		Output: filepath.Join(root, "output"),
	}

	dirs := []string{paths.Root, paths.Source, paths.Chunks, paths.Dubbed, paths.Output}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0750); err != nil {
			_ = os.RemoveAll(root)
			return Paths{}, fmt.Errorf("create job directory %s: %w", dir, err)
		}
	}

	return paths, nil
}

// RemoveJobDirs immediately tears down the entire directory tree for jobID.
// Used on early cancellation.
func (w *Workspace) RemoveJobDirs(jobID string) error {
	root := filepath.Join(w.root, jobID)
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove job directory %s: %w", root, err)
	}
	return nil
}

// ScheduleRemoval removes a job's entire directory tree, including its root,
// after delay. Used for jobs that end failed or cancelled: there is no
// output worth retaining, so the whole tree is torn down on the same delay
// window ScheduleOutputCleanup uses for a successful job's intermediates.
func (w *Workspace) ScheduleRemoval(ctx context.Context, jobID string, paths Paths, delay time.Duration) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := os.RemoveAll(paths.Root); err != nil {
			w.logger.Warn("workspace removal failed", "job_id", jobID, "dir", paths.Root, "error", err)
		}
	}()
}

// ScheduleOutputCleanup removes source/, chunks/, and dubbed/ after delay
// unless keepIntermediateFiles is set, and additionally removes output/
// unless retainOutput is set. Cleanup is best-effort: it does not block the
// caller and logs failures rather than returning them, mirroring the
// teacher's cleanup-continues-past-errors idiom in CleanupTemp.
func (w *Workspace) ScheduleOutputCleanup(ctx context.Context, paths Paths, delay time.Duration, keepIntermediateFiles, retainOutput bool) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		var dirs []string
		if !keepIntermediateFiles {
			dirs = append(dirs, paths.Source, paths.Chunks, paths.Dubbed)
		}
		if !retainOutput {
			dirs = append(dirs, paths.Output)
		}

		for _, dir := range dirs {
			if err := os.RemoveAll(dir); err != nil {
				w.logger.Warn("workspace cleanup failed", "dir", dir, "error", err)
			}
		}
	}()
}
