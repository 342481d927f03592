package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/capture"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/database"
	"github.com/stemsi/exstem-speaking/internal/handler"
	"github.com/stemsi/exstem-speaking/internal/logger"
	"github.com/stemsi/exstem-speaking/internal/repository"
	"github.com/stemsi/exstem-speaking/internal/router"
	"github.com/stemsi/exstem-speaking/internal/service"
	"github.com/stemsi/exstem-speaking/internal/submission"
	"github.com/stemsi/exstem-speaking/internal/validator"
	"github.com/stemsi/exstem-speaking/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Speaking")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	examService := service.NewExamService(examRepo, rdb, cfg.ExamCacheTTL, log)
	monitorService := service.NewMonitorService(rdb, log)
	registry := service.NewSessionRegistry(rdb, cfg.SessionLockTTL)

	// Without an external endpoint, submissions are queued and persisted
	// by the submission worker.
	var uploader submission.Uploader
	if cfg.SubmissionURL != "" {
		uploader = submission.NewHTTPUploader(cfg.SubmissionURL, cfg.SubmissionTimeout, log)
		log.Info().Str("url", cfg.SubmissionURL).Msg("Submissions go to external endpoint")
	} else {
		uploader = submission.NewQueueUploader(rdb, log)
		log.Info().Msg("Submissions go to the persistence queue")
	}
	packager := submission.NewPackager(uploader, cfg.SubmissionRetryDelay, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Exam: handler.NewExamHandler(examService, log),
		Session: handler.NewSessionHandler(examService, registry, monitorService, packager, handler.SessionConfig{
			AllowedOrigins: cfg.AllowedOrigins,
			Format:         capture.Format{SampleRate: cfg.AudioSampleRate, Channels: 1},
			FlushTimeout:   cfg.CaptureFlushTimeout,
			PromptFallback: cfg.PromptFallbackDelay,
		}, log),
		System: handler.NewSystemHandler(pool, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	submissionWorker := worker.NewSubmissionWorker(submissionRepo, rdb, log)
	go func() {
		defer close(workerDone)
		submissionWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout). Hijacked session
	// sockets are not tracked by Shutdown and end with the process.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the submission worker and wait for the queue to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Submission worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
