package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// GradeSyncer repairs gradebook rows that drifted from their evaluations.
type GradeSyncer interface {
	SyncGrades(ctx context.Context) (int, error)
}

// GradeSyncWorker periodically reconciles test_grades with completed
// evaluations. Every pass is idempotent.
type GradeSyncWorker struct {
	syncer   GradeSyncer
	interval time.Duration
	log      zerolog.Logger
}

func NewGradeSyncWorker(syncer GradeSyncer, interval time.Duration, log zerolog.Logger) *GradeSyncWorker {
	return &GradeSyncWorker{
		syncer:   syncer,
		interval: interval,
		log:      log.With().Str("component", "grade_sync_worker").Logger(),
	}
}

func (w *GradeSyncWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("GradeSyncWorker started")

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("GradeSyncWorker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *GradeSyncWorker) runOnce(ctx context.Context) {
	repaired, err := w.syncer.SyncGrades(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Int("repaired", repaired).Msg("Grade sync failed")
		}
		return
	}
	if repaired > 0 {
		w.log.Info().Int("repaired", repaired).Msg("Gradebook rows repaired")
	}
}
