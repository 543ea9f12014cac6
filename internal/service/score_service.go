package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/repository"
)

// Domain Errors
var (
	ErrNotCompleted  = errors.New("only completed evaluations can be edited")
	ErrQuestionIndex = errors.New("question index out of range")
	ErrInvalidScore  = errors.New("score must be a number")
)

const gradeSyncBatch = 500

// ScoreUpdate is the result of a manual score override.
type ScoreUpdate struct {
	Evaluation  *model.Evaluation `json:"evaluation"`
	GradeSynced bool              `json:"grade_synced"`
}

// ScoreService handles manual score overrides and gradebook reconciliation.
type ScoreService struct {
	evaluations EvaluationStore
	grades      GradeStore
	log         zerolog.Logger
}

// NewScoreService creates a new ScoreService.
func NewScoreService(evaluations EvaluationStore, grades GradeStore, log zerolog.Logger) *ScoreService {
	return &ScoreService{
		evaluations: evaluations,
		grades:      grades,
		log:         log.With().Str("component", "score_service").Logger(),
	}
}

// SetQuestionScore overrides the awarded score of one question, clamped to
// [0, max], and recomputes the summary over every answer. A failed
// evaluation write leaves the gradebook untouched. A failed gradebook write
// returns the saved evaluation together with ErrGradebookSyncFailed.
func (s *ScoreService) SetQuestionScore(ctx context.Context, evalID uuid.UUID, index int, score float64) (*ScoreUpdate, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return nil, ErrInvalidScore
	}

	ev, err := s.evaluations.GetByID(ctx, evalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEvaluationNotFound
		}
		return nil, err
	}

	completed, ok := ev.Outcome.(model.Completed)
	if !ok {
		return nil, ErrNotCompleted
	}
	if index < 0 || index >= len(completed.Answers) {
		return nil, ErrQuestionIndex
	}

	answers := make([]model.AnswerScore, len(completed.Answers))
	copy(answers, completed.Answers)
	maxScore := answers[index].Score.Max()
	answers[index].Score[0] = math.Min(math.Max(score, 0), maxScore)

	updated := model.Completed{Answers: answers}
	updated.Recompute()

	if err := s.evaluations.SaveOutcome(ctx, ev.ID, updated); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEvaluationNotFound
		}
		return nil, fmt.Errorf("save evaluation: %w", err)
	}
	ev.Outcome = updated

	total := updated.Summary.TotalScore
	remark := GradeRemark("Teacher adjusted", total, updated.Summary.Percentage)
	if err := s.grades.Upsert(ctx, ev.TestID, ev.StudentID, total.Awarded(), remark); err != nil {
		s.log.Error().Err(err).
			Str("evaluation_id", ev.ID.String()).
			Msg("Score saved but gradebook not updated")
		return &ScoreUpdate{Evaluation: ev, GradeSynced: false}, fmt.Errorf("%w: %v", ErrGradebookSyncFailed, err)
	}

	s.log.Info().
		Str("evaluation_id", ev.ID.String()).
		Int("question_index", index).
		Float64("score", answers[index].Score.Awarded()).
		Float64("total", total.Awarded()).
		Msg("Question score updated")
	return &ScoreUpdate{Evaluation: ev, GradeSynced: true}, nil
}

// SyncGrades upserts the gradebook row of every completed evaluation whose
// grade is missing or stale. It is idempotent and returns the rows repaired.
func (s *ScoreService) SyncGrades(ctx context.Context) (int, error) {
	repaired := 0
	for {
		drift, err := s.evaluations.ListGradeDrift(ctx, gradeSyncBatch)
		if err != nil {
			return repaired, fmt.Errorf("list grade drift: %w", err)
		}

		fixed := 0
		for _, ev := range drift {
			completed, ok := ev.Outcome.(model.Completed)
			if !ok {
				continue
			}
			total := completed.Summary.TotalScore
			remark := GradeRemark("AI evaluated", total, completed.Summary.Percentage)
			if err := s.grades.Upsert(ctx, ev.TestID, ev.StudentID, total.Awarded(), remark); err != nil {
				s.log.Warn().Err(err).Str("evaluation_id", ev.ID.String()).Msg("Grade sync failed for evaluation")
				continue
			}
			fixed++
		}
		repaired += fixed

		// A short page means everything left has been seen; a page with no
		// progress means the remaining rows keep failing.
		if len(drift) < gradeSyncBatch || fixed == 0 {
			return repaired, nil
		}
	}
}
