// Package main provides the entry point for the automation pipeline engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/automation-pipeline-engine/internal/automationservice"
	"github.com/maauso/automation-pipeline-engine/internal/collaborators"
	"github.com/maauso/automation-pipeline-engine/internal/engineconfig"
	"github.com/maauso/automation-pipeline-engine/internal/enginejob/jobstore/memstore"
	"github.com/maauso/automation-pipeline-engine/internal/httpapi"
	"github.com/maauso/automation-pipeline-engine/internal/pipelineexecutor"
	"github.com/maauso/automation-pipeline-engine/internal/progressbus"
	"github.com/maauso/automation-pipeline-engine/internal/workspace"
)

// sweepInterval is how often the automation service checks for terminal jobs
// old enough to be retired from the store. The sweeper does not touch the
// filesystem. The executor handles each job's workspace directory tree
// separately, after the cleanup delay. On failure or cancellation it removes
// the whole tree. On success it removes the intermediate directories (unless
// keepIntermediateFiles is set) and keeps the output directory.
const sweepInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := engineconfig.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting automation pipeline engine",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("workspace_root", cfg.WorkspaceRoot),
		slog.Int("cleanup_delay_sec", cfg.CleanupDelaySec),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	ws, err := workspace.New(cfg.WorkspaceRoot, logger)
	if err != nil {
		return fmt.Errorf("initialize workspace: %w", err)
	}

	resolver := collaborators.NewHTTPSourceResolver(nil)
	toolkit := collaborators.NewFFmpegMediaToolkit("", "")
	provider, err := collaborators.NewHTTPDubbingProvider(cfg.DubbingProviderBaseURL, cfg.DubbingProviderAPIKey)
	if err != nil {
		return fmt.Errorf("create dubbing provider client: %w", err)
	}
	logger.Info("dubbing provider initialized", slog.String("base_url", cfg.DubbingProviderBaseURL))

	var execOpts []pipelineexecutor.Option
	if cfg.S3Enabled() {
		retention, err := workspace.NewS3Retention(context.Background(), workspace.S3RetentionConfig{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("create S3 retention client: %w", err)
		}
		execOpts = append(execOpts, pipelineexecutor.WithS3Retention(retention))
		logger.Info("S3 output retention configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
	}

	store := memstore.New()
	bus := progressbus.New()

	svc := automationservice.New(store, bus, ws, resolver, toolkit, provider, logger, cfg.CleanupDelay(), execOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunSweeper(ctx, sweepInterval)

	handlers := httpapi.NewHandlers(svc, logger)
	router := httpapi.NewRouter(handlers, logger, httpapi.DefaultConfig())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints (SSE, download) must not be cut off
		IdleTimeout:  60 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
