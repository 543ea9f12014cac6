package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/bundle"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/repository"
)

// ErrAnswerNotFound is returned when a student has no answer sheet for a test.
var ErrAnswerNotFound = errors.New("answer sheet not found")

// AnswerUpload is a student's answer sheet file.
type AnswerUpload struct {
	StudentID uuid.UUID
	SubjectID uuid.UUID
	TestID    uuid.UUID
	File      io.Reader
}

// AnswerUploadResult reports the stored sheet and the reset it triggered.
type AnswerUploadResult struct {
	Answer *model.TestAnswer `json:"answer"`
	Reset  ResetReport       `json:"reset"`
}

// AnswerService stores answer sheets.
type AnswerService struct {
	answers AnswerStore
	media   *MediaService
	reset   *ResetService
	now     func() time.Time
	log     zerolog.Logger
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(answers AnswerStore, media *MediaService, reset *ResetService, log zerolog.Logger) *AnswerService {
	return &AnswerService{
		answers: answers,
		media:   media,
		reset:   reset,
		now:     time.Now,
		log:     log.With().Str("component", "answer_service").Logger(),
	}
}

// UploadAnswerSheet stores the file, replaces the student's answer record
// and resets every evaluation and grade computed from the previous sheet.
func (s *AnswerService) UploadAnswerSheet(ctx context.Context, up AnswerUpload) (*AnswerUploadResult, error) {
	previous, err := s.answers.Get(ctx, up.StudentID, up.SubjectID, up.TestID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get previous answer: %w", err)
	}

	nameBase := fmt.Sprintf("answers/%s/%s_%d", up.TestID, up.StudentID, s.now().UnixMilli())
	stored, err := s.media.Save(ctx, up.File, nameBase)
	if err != nil {
		return nil, err
	}

	answer := &model.TestAnswer{
		StudentID:      up.StudentID,
		TestID:         up.TestID,
		SubjectID:      up.SubjectID,
		AnswerSheetURL: stored.URL,
		ObjectName:     stored.Name,
	}
	if err := s.answers.Upsert(ctx, answer); err != nil {
		if rmErr := s.media.Remove(ctx, stored.Name); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("object", stored.Name).Msg("Failed to remove orphaned upload")
		}
		return nil, fmt.Errorf("save answer: %w", err)
	}

	if previous != nil && previous.ObjectName != "" && previous.ObjectName != stored.Name {
		if _, err := s.media.Archive(ctx, previous.ObjectName); err != nil {
			s.log.Warn().Err(err).Str("object", previous.ObjectName).Msg("Failed to archive replaced answer sheet")
		}
	}

	// Page bundles derived from the old sheet are stale.
	prefix := bundle.Prefix(bundleCategory, up.StudentID.String()+"_"+up.TestID.String())
	if n, err := s.media.RemovePrefix(ctx, prefix); err != nil {
		s.log.Warn().Err(err).Str("prefix", prefix).Msg("Failed to prune page bundles")
	} else if n > 0 {
		s.log.Debug().Int("count", n).Str("prefix", prefix).Msg("Pruned page bundles")
	}

	testID := up.TestID
	report := s.reset.ResetEvaluations(ctx, up.StudentID, up.SubjectID, &testID)

	s.log.Info().
		Str("student_id", up.StudentID.String()).
		Str("test_id", up.TestID.String()).
		Int("bytes", stored.Size).
		Msg("Answer sheet uploaded")
	return &AnswerUploadResult{Answer: answer, Reset: report}, nil
}

// GetAnswerSheet retrieves a student's answer sheet for a test.
func (s *AnswerService) GetAnswerSheet(ctx context.Context, studentID, subjectID, testID uuid.UUID) (*model.TestAnswer, error) {
	a, err := s.answers.Get(ctx, studentID, subjectID, testID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAnswerNotFound
		}
		return nil, err
	}
	return a, nil
}
