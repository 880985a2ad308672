package automationservice

import (
	"fmt"
	"regexp"

	"github.com/maauso/automation-pipeline-engine/internal/enginejob"
)

// bcp47Pattern loosely validates a BCP-47 language tag (e.g. "en", "pt-BR",
// "zh-Hans-CN"). spec.md names no closed set of supported languages, so
// start validates syntax rather than membership; see DESIGN.md.
var bcp47Pattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,8})*$`)

func validateStart(sourceRef string, cfg enginejob.Config) error {
	if sourceRef == "" {
		return fmt.Errorf("sourceRef must not be empty")
	}
	if !validChunkDuration(cfg.ChunkDurationSeconds) {
		return fmt.Errorf("chunkDurationSeconds %d is not one of %v", cfg.ChunkDurationSeconds, enginejob.AllowedChunkDurations)
	}
	if cfg.TargetLanguage == "" || !bcp47Pattern.MatchString(cfg.TargetLanguage) {
		return fmt.Errorf("targetLanguage %q is not a valid BCP-47 tag", cfg.TargetLanguage)
	}
	if cfg.MaxParallelJobs < 1 || cfg.MaxParallelJobs > 5 {
		return fmt.Errorf("maxParallelJobs %d is outside [1,5]", cfg.MaxParallelJobs)
	}
	if cfg.OutputFormat != enginejob.OutputFormatMP4 && cfg.OutputFormat != enginejob.OutputFormatWebM {
		return fmt.Errorf("outputFormat %q is not one of {mp4, webm}", cfg.OutputFormat)
	}
	if cfg.ChunkingStrategy != "" &&
		cfg.ChunkingStrategy != enginejob.ChunkingStrategyFixed &&
		cfg.ChunkingStrategy != enginejob.ChunkingStrategyScene &&
		cfg.ChunkingStrategy != enginejob.ChunkingStrategySilence {
		return fmt.Errorf("chunkingStrategy %q is not one of {fixed, scene, silence}", cfg.ChunkingStrategy)
	}
	return nil
}

func validChunkDuration(d int) bool {
	for _, allowed := range enginejob.AllowedChunkDurations {
		if d == allowed {
			return true
		}
	}
	return false
}
