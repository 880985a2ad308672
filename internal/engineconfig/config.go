// Package engineconfig provides configuration loading from environment
// variables for the automation pipeline engine, mirroring the teacher's
// internal/config package: struct-tag-driven loading via go-envconfig, a
// masked String() for logging, and a NewLogger() that selects a slog
// handler based on LOG_FORMAT.
package engineconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrDubbingAPIKeyRequired is returned when DUBBING_PROVIDER_API_KEY is
	// not set.
	ErrDubbingAPIKeyRequired = errors.New("engineconfig: DUBBING_PROVIDER_API_KEY is required")
	// ErrDubbingBaseURLRequired is returned when DUBBING_PROVIDER_BASE_URL
	// is not set.
	ErrDubbingBaseURLRequired = errors.New("engineconfig: DUBBING_PROVIDER_BASE_URL is required")
)

// Config holds all configuration for the automation pipeline engine, per
// spec.md §6 "Environment configuration" plus the server/runtime settings
// the teacher's own Config carries alongside its domain settings.
type Config struct {
	// Server settings.
	Port int `env:"PORT, default=8080" json:"port"`

	// TempWorkspace settings.
	WorkspaceRoot   string `env:"WORKSPACE_ROOT, default=./temp/automation" json:"workspace_root"`
	CleanupDelaySec int    `env:"CLEANUP_DELAY_SEC, default=86400" json:"cleanup_delay_sec"`

	// CostCalculator rate constants. CostCalculator itself applies
	// spec.md's literal default values (0.24/0.01); these are carried here
	// for observability/override of a deployment's quoted pricing and are
	// not currently threaded into costcalc, which spec.md S1-S4 pins to
	// exact numeric outputs.
	DubRatePerMinute    float64 `env:"DUB_RATE_PER_MINUTE, default=0.24" json:"dub_rate_per_minute"`
	ProcessRatePerChunk float64 `env:"PROCESS_RATE_PER_CHUNK, default=0.01" json:"process_rate_per_chunk"`

	// Provider poll backoff bounds. These are loaded from the environment
	// but not passed to the DubScheduler, which polls with its own fixed
	// 3s..20s backoff.
	ProviderPollMinMs int `env:"PROVIDER_POLL_MIN_MS, default=3000" json:"provider_poll_min_ms"`
	ProviderPollMaxMs int `env:"PROVIDER_POLL_MAX_MS, default=20000" json:"provider_poll_max_ms"`

	// DubbingProvider (collaborator) settings.
	DubbingProviderBaseURL string `env:"DUBBING_PROVIDER_BASE_URL" json:"dubbing_provider_base_url"`
	DubbingProviderAPIKey  string `env:"DUBBING_PROVIDER_API_KEY" json:"-"` // Masked in JSON

	// Optional S3 settings, used by workspace.S3Retention when configured.
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings.
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 retention configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// CleanupDelay returns CleanupDelaySec as a time.Duration.
func (c *Config) CleanupDelay() time.Duration {
	return time.Duration(c.CleanupDelaySec) * time.Second
}

// PollMinInterval returns ProviderPollMinMs as a time.Duration.
func (c *Config) PollMinInterval() time.Duration {
	return time.Duration(c.ProviderPollMinMs) * time.Millisecond
}

// PollMaxInterval returns ProviderPollMaxMs as a time.Duration.
func (c *Config) PollMaxInterval() time.Duration {
	return time.Duration(c.ProviderPollMaxMs) * time.Millisecond
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("engineconfig: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.DubbingProviderBaseURL == "" {
		return ErrDubbingBaseURLRequired
	}
	if c.DubbingProviderAPIKey == "" {
		return ErrDubbingAPIKeyRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration. When
// LogFormat is "json", it outputs JSON logs suitable for production;
// otherwise it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive
// values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, WorkspaceRoot: %s, CleanupDelaySec: %d, DubbingProviderBaseURL: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.WorkspaceRoot,
		c.CleanupDelaySec,
		c.DubbingProviderBaseURL,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
