package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/service"
)

const (
	PollTimeout       = 1 * time.Second // Must be >= 1s to satisfy Redis
	redisErrorBackoff = 3 * time.Second
)

// BatchEvaluator runs a batch of evaluations for one test.
type BatchEvaluator interface {
	EvaluateBatch(ctx context.Context, testID, subjectID uuid.UUID, studentIDs []uuid.UUID) ([]service.BatchResult, error)
}

// EvaluationWorker consumes batch jobs from the evaluation queue and grades
// their students one after another.
type EvaluationWorker struct {
	rdb       *redis.Client
	evaluator BatchEvaluator
	requeue   func(ctx context.Context, job model.EvaluationJob) error
	log       zerolog.Logger
}

func NewEvaluationWorker(rdb *redis.Client, evaluator BatchEvaluator, log zerolog.Logger) *EvaluationWorker {
	w := &EvaluationWorker{
		rdb:       rdb,
		evaluator: evaluator,
		log:       log.With().Str("component", "evaluation_worker").Logger(),
	}
	w.requeue = w.pushFront
	return w
}

func (w *EvaluationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EvaluationWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("EvaluationWorker stopped")
			return
		default:
		}

		// BLPop blocks for PollTimeout. Returns immediately if data exists.
		item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.EvaluationJobsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(redisErrorBackoff)
			continue
		}
		if len(item) < 2 {
			continue
		}

		w.handle(ctx, item[1])
	}
}

// handle runs one queued job. A job interrupted by shutdown is pushed back
// starting at the student that was in flight.
func (w *EvaluationWorker) handle(ctx context.Context, raw string) {
	var job model.EvaluationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload")
		return
	}
	if len(job.StudentIDs) == 0 {
		return
	}

	log := w.log.With().
		Str("test_id", job.TestID.String()).
		Int("students", len(job.StudentIDs)).
		Logger()
	if !job.QueuedAt.IsZero() {
		log.Info().Dur("queued_for", time.Since(job.QueuedAt)).Msg("Evaluation job picked up")
	}

	results, err := w.evaluator.EvaluateBatch(ctx, job.TestID, job.SubjectID, job.StudentIDs)

	completed, failed := 0, 0
	for _, r := range results {
		if r.Status == model.EvaluationStatusCompleted {
			completed++
		} else {
			failed++
		}
	}

	if err != nil || ctx.Err() != nil {
		resumeAt := resumePoint(results)
		if resumeAt < len(job.StudentIDs) {
			rest := job
			rest.StudentIDs = job.StudentIDs[resumeAt:]
			if rqErr := w.requeue(context.WithoutCancel(ctx), rest); rqErr != nil {
				log.Error().Err(rqErr).Int("remaining", len(rest.StudentIDs)).Msg("Failed to requeue interrupted job")
				return
			}
			log.Warn().Int("remaining", len(rest.StudentIDs)).Msg("Evaluation job interrupted, requeued")
			return
		}
	}

	log.Info().
		Int("completed", completed).
		Int("failed", failed).
		Msg("Evaluation job finished")
}

// resumePoint returns the index of the first student without a final
// result. Results follow the job's student order.
func resumePoint(results []service.BatchResult) int {
	for i, r := range results {
		if r.Interrupted {
			return i
		}
	}
	return len(results)
}

// pushFront puts an interrupted job back at the head of the queue.
func (w *EvaluationWorker) pushFront(ctx context.Context, job model.EvaluationJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return w.rdb.LPush(ctx, config.WorkerKey.EvaluationJobsQueue, raw).Err()
}
