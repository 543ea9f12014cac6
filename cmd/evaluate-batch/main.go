package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/bundle"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/database"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/storage"
)

// Grades every student of a test from the terminal, sharing the server's
// lock and progress channel so live dashboards follow along.
func main() {
	var testArg, studentsArg string
	flag.StringVar(&testArg, "test", "", "Test ID (required)")
	flag.StringVar(&studentsArg, "students", "", "Comma-separated student IDs; default is every student with an answer sheet")
	flag.Parse()

	testID, err := uuid.Parse(testArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: -test must be a test UUID")
		flag.Usage()
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect ───────────────────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	store, err := storage.NewFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure storage")
	}

	// ─── Initialize Service ────────────────────────────────────────────
	fetcher := storage.NewFetcher(cfg.DownloadTimeout)
	studentRepo := repository.NewStudentRepository(pool)
	testRepo := repository.NewTestRepository(pool)

	evaluationService := service.NewEvaluationService(service.EvaluationDeps{
		Evaluations: repository.NewEvaluationRepository(pool),
		Grades:      repository.NewGradeRepository(pool),
		Answers:     repository.NewAnswerRepository(pool),
		Documents:   repository.NewDocumentRepository(pool),
		Tests:       testRepo,
		Students:    studentRepo,
		Grader:      grading.NewClient(cfg.GradingFunctionURL, cfg.GradingFunctionKey, cfg.GradingTimeout, log),
		Fetcher:     fetcher,
		Rasterizer: rasterizer.New(rasterizer.Options{
			MaxPages:   cfg.RasterMaxPages,
			DPI:        cfg.PDFRenderDPI,
			ImageScale: cfg.RasterImageScale,
			Quality:    cfg.RasterJPEGQuality,
		}, rasterizer.NewPopplerRenderer(), fetcher, log),
		Packager: bundle.NewPackager(store, cfg.BundleUploadDelay, log),
		Locker:   service.NewRedisLocker(rdb, log),
		Progress: service.NewRedisProgressPublisher(rdb, log),
	}, service.EvaluationOptions{
		MaxRetries:     cfg.EvalMaxRetries,
		RetryBase:      cfg.EvalRetryBase,
		GradingTimeout: cfg.GradingTimeout,
		LockTTL:        cfg.EvalLockTTL,
	}, log)

	// ─── Resolve Students ──────────────────────────────────────────────
	test, err := testRepo.Get(ctx, testID)
	if err != nil {
		log.Fatal().Err(err).Str("test_id", testID.String()).Msg("Failed to load test")
	}

	var studentIDs []uuid.UUID
	if studentsArg != "" {
		for _, raw := range strings.Split(studentsArg, ",") {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				log.Fatal().Str("value", raw).Msg("Invalid student ID")
			}
			studentIDs = append(studentIDs, id)
		}
	} else {
		studentIDs, err = studentRepo.ListIDsWithAnswers(ctx, testID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list students")
		}
	}
	if len(studentIDs) == 0 {
		fmt.Println("No students with answer sheets for this test.")
		return
	}

	fmt.Printf("=== Evaluating %d students for %s (%s) ===\n", len(studentIDs), test.Title, test.SubjectName)

	// ─── Run ───────────────────────────────────────────────────────────
	results, err := evaluationService.EvaluateBatch(ctx, testID, test.SubjectID, studentIDs)
	if err != nil {
		log.Warn().Err(err).Int("evaluated", len(results)).Msg("Batch interrupted")
	}

	completed := 0
	for _, res := range results {
		if res.Status == model.EvaluationStatusCompleted {
			completed++
			continue
		}
		fmt.Printf("  %s: %s\n", res.StudentID, res.Error)
	}
	fmt.Printf("\nBatch finished! %d/%d evaluations completed.\n", completed, len(studentIDs))
	if completed < len(studentIDs) {
		os.Exit(1)
	}
}
