// Package chunkplanner produces an ordered manifest of time-bounded chunks
// for a source media file, by invoking the injected MediaToolkit.Split
// capability and synthesizing the engine's own ChunkInfo records from the
// segments it returns.
package chunkplanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/automation-pipeline-engine/internal/collaborators"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

// ErrChunkingEmpty is returned by Plan when the toolkit produced zero
// segments for a source.
var ErrChunkingEmpty = errors.New("chunkplanner: source produced no chunks")

// Progress reports planning progress, mirroring collaborators.SplitProgress
// one level up with chunk count already known to the caller.
type Progress struct {
	Processed    int
	TotalChunks  int
	CurrentChunk string
}

// Plan invokes toolkit.Split on sourcePath, writing segments into outDir,
// and converts the ordered segment list into a ChunkManifest. Segments are
// expected back in time order; their index in the returned slice becomes
// their reassembly index.
func Plan(
	ctx context.Context,
	toolkit collaborators.MediaToolkit,
	jobID, sourcePath, outDir string,
	chunkDurationSeconds int,
	strategy collaborators.ChunkingStrategy,
	progress func(Progress),
) (enginejob.ChunkManifest, error) {
	segments, err := toolkit.Split(ctx, sourcePath, outDir, chunkDurationSeconds, strategy, func(p collaborators.SplitProgress) {
		if progress != nil {
			progress(Progress{Processed: p.Processed, TotalChunks: p.TotalChunks, CurrentChunk: p.CurrentChunk})
		}
	})
	if err != nil {
		return enginejob.ChunkManifest{}, fmt.Errorf("chunkplanner: split: %w", err)
	}
	if len(segments) == 0 {
		return enginejob.ChunkManifest{}, ErrChunkingEmpty
	}

	chunks := make([]enginejob.ChunkInfo, len(segments))
	for i, seg := range segments {
		chunks[i] = enginejob.ChunkInfo{
			Index:     i,
			Filename:  filenameOf(seg.Path),
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
			Duration:  seg.EndTime - seg.StartTime,
			Path:      seg.Path,
		}
	}

	return enginejob.ChunkManifest{
		JobID:                jobID,
		TotalChunks:          len(chunks),
		ChunkDurationSeconds: chunkDurationSeconds,
		Chunks:               chunks,
	}, nil
}

func filenameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
