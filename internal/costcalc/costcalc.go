// Package costcalc provides pure, deterministic cost and time estimation
// for a prospective job, plus formatting and breakdown-percentage helpers.
// No method in this package performs I/O or depends on mutable state.
package costcalc

import (
	"fmt"
	"math"
	"sort"

	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

// Pricing constants, configuration rather than measured behavior.
const (
	rateDubPerMinute = 0.24
	ratePerChunk     = 0.01
)

// Fixed per-job time constants, in seconds.
const (
	downloadSecondsPerMinute    = 45
	chunkingSecondsPerMinute    = 1
	mergingSecondsPerMinute     = 2
	finalizationSeconds         = 5
	dubbingSecondsPerChunkScale = 2.5
)

// CostBreakdown splits total cost between dubbing and chunk processing.
type CostBreakdown struct {
	DubbingCost    float64
	ProcessingCost float64
}

// CostEstimate is the result of CalculateCost.
type CostEstimate struct {
	TotalCost     float64
	CostPerChunk  float64
	TotalChunks   int
	VideoDuration float64
	Breakdown     CostBreakdown
}

// TimeBreakdown splits total estimated time across pipeline stages.
type TimeBreakdown struct {
	Download     float64
	Chunking     float64
	Dubbing      float64
	Merging      float64
	Finalization float64
}

// TimeEstimate is the result of CalculateTime.
type TimeEstimate struct {
	TotalTime float64
	Breakdown TimeBreakdown
}

// CalculateChunkCount returns ceil(durationSeconds / chunkDurationSeconds).
// Both calculateCost and the chunk planner rely on this same formula so the
// quoted estimate always matches how many chunks actually get planned.
func CalculateChunkCount(durationSeconds float64, chunkDurationSeconds int) int {
	if chunkDurationSeconds <= 0 {
		return 0
	}
	return int(math.Ceil(durationSeconds / float64(chunkDurationSeconds)))
}

// CalculateCost estimates the monetary cost of dubbing sourceMeta's video
// under config.
func CalculateCost(sourceMeta enginejob.SourceMeta, config enginejob.Config) CostEstimate {
	totalChunks := CalculateChunkCount(sourceMeta.DurationSeconds, config.ChunkDurationSeconds)

	watermarkFactor := 1.0
	if config.UseWatermark {
		watermarkFactor = 0.5
	}

	minutes := sourceMeta.DurationSeconds / 60
	dubbingCost := minutes * rateDubPerMinute * watermarkFactor
	processingCost := float64(totalChunks) * ratePerChunk
	totalCost := dubbingCost + processingCost

	var costPerChunk float64
	if totalChunks > 0 {
		costPerChunk = totalCost / float64(totalChunks)
	}

	return CostEstimate{
		TotalCost:     round2(totalCost),
		CostPerChunk:  round2(costPerChunk),
		TotalChunks:   totalChunks,
		VideoDuration: sourceMeta.DurationSeconds,
		Breakdown: CostBreakdown{
			DubbingCost:    round2(dubbingCost),
			ProcessingCost: round2(processingCost),
		},
	}
}

// CalculateTime estimates the wall-clock time to process sourceMeta's video
// under config.
func CalculateTime(sourceMeta enginejob.SourceMeta, config enginejob.Config) TimeEstimate {
	totalChunks := CalculateChunkCount(sourceMeta.DurationSeconds, config.ChunkDurationSeconds)
	minutes := sourceMeta.DurationSeconds / 60

	maxParallel := config.MaxParallelJobs
	if maxParallel <= 0 {
		maxParallel = 1
	}

	download := minutes * downloadSecondsPerMinute
	chunking := minutes * chunkingSecondsPerMinute
	merging := minutes * mergingSecondsPerMinute
	finalization := float64(finalizationSeconds)
	waves := math.Ceil(float64(totalChunks) / float64(maxParallel))
	dubbing := waves * float64(config.ChunkDurationSeconds) * dubbingSecondsPerChunkScale

	total := download + chunking + dubbing + merging + finalization

	return TimeEstimate{
		TotalTime: total,
		Breakdown: TimeBreakdown{
			Download:     download,
			Chunking:     chunking,
			Dubbing:      dubbing,
			Merging:      merging,
			Finalization: finalization,
		},
	}
}

// CalculateOptimalChunkDuration suggests a chunk duration in seconds, drawn
// from enginejob.AllowedChunkDurations, scaled to the source's length.
func CalculateOptimalChunkDuration(durationSeconds float64) int {
	switch {
	case durationSeconds < 300:
		return 60
	case durationSeconds < 900:
		return 120
	case durationSeconds < 1800:
		return 180
	default:
		return 300
	}
}

// FormatCost renders value as a "$X.XX" string, rounded half-away-from-zero.
func FormatCost(value float64) string {
	return fmt.Sprintf("$%.2f", round2(value))
}

// FormatTime renders seconds as a human string: "Ns" under a minute, "Mm" or
// "Mm Ss" under an hour, "Hh" or "Hh Mm" otherwise. Zero components are
// omitted except the leading one.
func FormatTime(seconds float64) string {
	total := int(math.Round(seconds))

	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	if total < 3600 {
		m := total / 60
		s := total % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}

	h := total / 3600
	m := (total % 3600) / 60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// GetCostBreakdownPercentage returns dubbing/processing as integer
// percentages of breakdown's total, summing to exactly 100.
func GetCostBreakdownPercentage(b CostBreakdown) (dubbingPercent, processingPercent int) {
	pcts := normalizePercentages([]float64{b.DubbingCost, b.ProcessingCost})
	return pcts[0], pcts[1]
}

// GetTimeBreakdownPercentage returns each stage's share of breakdown's total
// as integer percentages summing to exactly 100.
func GetTimeBreakdownPercentage(b TimeBreakdown) (download, chunking, dubbing, merging, finalization int) {
	pcts := normalizePercentages([]float64{b.Download, b.Chunking, b.Dubbing, b.Merging, b.Finalization})
	return pcts[0], pcts[1], pcts[2], pcts[3], pcts[4]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// normalizePercentages converts values into integer percentages of their sum
// using the largest-remainder method, guaranteeing the results sum to 100
// (or all zero, if every value is zero).
func normalizePercentages(values []float64) []int {
	result := make([]int, len(values))

	total := 0.0
	for _, v := range values {
		total += v
	}
	if total <= 0 {
		return result
	}

	raw := make([]float64, len(values))
	remainders := make([]int, len(values))
	sumFloors := 0
	for i, v := range values {
		raw[i] = v / total * 100
		result[i] = int(math.Floor(raw[i]))
		sumFloors += result[i]
		remainders[i] = i
	}

	sort.Slice(remainders, func(i, j int) bool {
		return (raw[remainders[i]] - math.Floor(raw[remainders[i]])) > (raw[remainders[j]] - math.Floor(raw[remainders[j]]))
	})

	remainder := 100 - sumFloors
	for i := 0; i < remainder && i < len(remainders); i++ {
		result[remainders[i]]++
	}

	return result
}
