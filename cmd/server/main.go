package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/bundle"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/database"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/handler"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/ocr"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/router"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/storage"
	"github.com/stemsi/exstem-grader/internal/validator"
	"github.com/stemsi/exstem-grader/internal/worker"
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
		Str("storage", cfg.StorageDriver).
		Msg("Starting ExStem Grader")

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

	// ─── Storage & Pipeline ────────────────────────────────────────────
	store, err := storage.NewFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure storage")
	}
	fetcher := storage.NewFetcher(cfg.DownloadTimeout)
	raster := rasterizer.New(rasterizer.Options{
		MaxPages:   cfg.RasterMaxPages,
		DPI:        cfg.PDFRenderDPI,
		ImageScale: cfg.RasterImageScale,
		Quality:    cfg.RasterJPEGQuality,
	}, rasterizer.NewPopplerRenderer(), fetcher, log)
	packager := bundle.NewPackager(store, cfg.BundleUploadDelay, log)
	grader := grading.NewClient(cfg.GradingFunctionURL, cfg.GradingFunctionKey, cfg.GradingTimeout, log)
	extractor, err := ocr.NewOpenAIClient(cfg.OCRBaseURL, cfg.OCRAPIKey, cfg.OCRModel, cfg.OCRMaxTokens, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create OCR client")
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	evaluationRepo := repository.NewEvaluationRepository(pool)
	gradeRepo := repository.NewGradeRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	documentRepo := repository.NewDocumentRepository(pool)
	studentRepo := repository.NewStudentRepository(pool)
	testRepo := repository.NewTestRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret)
	mediaService := service.NewMediaService(store, cfg.MaxUploadBytes)
	progress := service.NewRedisProgressPublisher(rdb, log)

	evaluationService := service.NewEvaluationService(service.EvaluationDeps{
		Evaluations: evaluationRepo,
		Grades:      gradeRepo,
		Answers:     answerRepo,
		Documents:   documentRepo,
		Tests:       testRepo,
		Students:    studentRepo,
		Grader:      grader,
		Fetcher:     fetcher,
		Rasterizer:  raster,
		Packager:    packager,
		Locker:      service.NewRedisLocker(rdb, log),
		Progress:    progress,
	}, service.EvaluationOptions{
		MaxRetries:     cfg.EvalMaxRetries,
		RetryBase:      cfg.EvalRetryBase,
		GradingTimeout: cfg.GradingTimeout,
		LockTTL:        cfg.EvalLockTTL,
	}, log)
	scoreService := service.NewScoreService(evaluationRepo, gradeRepo, log)
	resetService := service.NewResetService(evaluationRepo, gradeRepo, testRepo, log)
	answerService := service.NewAnswerService(answerRepo, mediaService, resetService, log)
	extractionService := service.NewExtractionService(documentRepo, mediaService, fetcher, raster, packager, extractor, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Evaluation: handler.NewEvaluationHandler(evaluationService, scoreService, resetService, service.NewRedisEvaluationQueue(rdb), log),
		Document:   handler.NewDocumentHandler(extractionService),
		Answer:     handler.NewAnswerHandler(answerService),
		Function:   handler.NewFunctionHandler(extractionService, log),
		Progress:   handler.NewProgressHandler(progress, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	evaluationWorker := worker.NewEvaluationWorker(rdb, evaluationService, log)
	gradeSyncWorker := worker.NewGradeSyncWorker(scoreService, cfg.GradeSyncEvery, log)

	workers.Add(2)
	go func() { defer workers.Done(); evaluationWorker.Start(workerCtx) }()
	go func() { defer workers.Done(); gradeSyncWorker.Start(workerCtx) }()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	// No WriteTimeout: synchronous evaluations may wait out grading retries.
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

	// 2. Stop background workers. An interrupted job is pushed back onto
	// the queue before the evaluation worker returns.
	workerCancel()
	done := make(chan struct{})
	go func() { workers.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Workers did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
