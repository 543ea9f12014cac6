package main

import (
	"context"
	"fmt"
	"time"

	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/database"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/service"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	scoreService := service.NewScoreService(
		repository.NewEvaluationRepository(pool),
		repository.NewGradeRepository(pool),
		log,
	)

	fmt.Println("=== Sync Gradebook ===")
	fmt.Println("Writes the marks of every completed evaluation into test_grades where they differ.")

	n, err := scoreService.SyncGrades(ctx)
	if err != nil {
		log.Fatal().Err(err).Int("repaired", n).Msg("Grade sync failed")
	}
	fmt.Printf("\nDone! Repaired %d grade row(s).\n", n)
}
