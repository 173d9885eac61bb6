package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/store"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreBackend).
		Int("violation_threshold", cfg.ViolationThreshold).
		Msg("Starting ExStem Proctor")

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

	// ─── Session Store ─────────────────────────────────────────────────
	var kv store.KV
	switch cfg.StoreBackend {
	case "memory":
		kv = store.NewMemoryKV()
		log.Warn().Msg("Using in-memory session store; answers are lost on restart")
	default:
		kv = store.NewRedisKV(rdb, cfg.SessionTTL)
	}
	sessions := store.NewSessionStore(kv, log)

	// ─── Initialize Services ──────────────────────────────────────────
	m := metrics.New()
	catalog := service.NewCatalog(time.Now())
	authService := service.NewAuthService(cfg)
	assessmentService := service.NewAssessmentService(
		catalog,
		sessions,
		service.NewRedisSignalBus(rdb),
		m,
		service.AttemptOptions{
			Threshold:        cfg.ViolationThreshold,
			CountdownSeconds: cfg.CountdownSeconds,
			ReAttemptDelay:   cfg.ReAttemptDelay,
			IdleTTL:          cfg.AttemptIdleTTL,
		},
		log,
	)
	attemptRepo := repository.NewAttemptRepository(pool)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Assessment: handler.NewAssessmentHandler(assessmentService, log),
		Proctor:    handler.NewProctorHandler(assessmentService, log, cfg.AllowedOrigins, cfg.EventRatePerSecond, cfg.EventBurst),
		Monitor:    handler.NewMonitorHandler(rdb, catalog, attemptRepo, log),
		Results:    handler.NewResultsHandler(catalog, attemptRepo, log),
		System: handler.NewSystemHandler(rdb, assessmentService, map[string]handler.Pinger{
			"redis":    handler.RedisPinger(rdb),
			"postgres": pool,
		}, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	violationWorker := worker.NewViolationWorker(pool, rdb, m, log)
	resultWorker := worker.NewResultWorker(pool, rdb, m, log)

	workersDone := make(chan struct{}, 2)
	go func() { violationWorker.Start(workerCtx); workersDone <- struct{}{} }()
	go func() { resultWorker.Start(workerCtx); workersDone <- struct{}{} }()

	// Student API limiter: 120 requests per minute per client.
	limiter := middleware.NewRateLimiter(120, time.Minute)

	sweeper := worker.NewSweeper(assessmentService, cfg.SweepInterval, log)
	if err := sweeper.AddJob("rate_limiter", time.Minute, limiter.Cleanup); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule rate limiter cleanup")
	}
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start attempt sweeper")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, m, limiter)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
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

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop timers of live attempts so nothing new is queued.
	sweeper.Stop()
	assessmentService.Shutdown()

	// 3. Stop background workers and wait for their buffers to flush.
	workerCancel()
	for i := 0; i < 2; i++ {
		select {
		case <-workersDone:
		case <-time.After(5 * time.Second):
			log.Warn().Msg("Worker did not stop in time")
		}
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
