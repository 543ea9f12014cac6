package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ResetRemark is written on gradebook rows zeroed by a reset.
const ResetRemark = "Reset due to answer sheet reupload"

// ResetReport counts the rows a reset touched.
type ResetReport struct {
	StudentID          uuid.UUID   `json:"student_id"`
	TestIDs            []uuid.UUID `json:"test_ids"`
	EvaluationsDeleted int64       `json:"evaluations_deleted"`
	GradesReset        int64       `json:"grades_reset"`
	Errors             []string    `json:"errors,omitempty"`
}

// ResetService invalidates evaluations and grades after a re-upload.
type ResetService struct {
	evaluations EvaluationStore
	grades      GradeStore
	tests       TestStore
	log         zerolog.Logger
}

// NewResetService creates a new ResetService.
func NewResetService(evaluations EvaluationStore, grades GradeStore, tests TestStore, log zerolog.Logger) *ResetService {
	return &ResetService{
		evaluations: evaluations,
		grades:      grades,
		tests:       tests,
		log:         log.With().Str("component", "reset_service").Logger(),
	}
}

// ResetEvaluations deletes the student's evaluations for testID, or for every
// test of subjectID when testID is nil, and zeroes the paired grade rows.
// It never fails: errors are logged and listed in the report so an upload
// is never blocked by a reset.
func (s *ResetService) ResetEvaluations(ctx context.Context, studentID, subjectID uuid.UUID, testID *uuid.UUID) ResetReport {
	report := ResetReport{StudentID: studentID}
	log := s.log.With().
		Str("student_id", studentID.String()).
		Str("subject_id", subjectID.String()).
		Logger()

	if testID != nil {
		report.TestIDs = []uuid.UUID{*testID}
	} else {
		ids, err := s.tests.ListIDsBySubject(ctx, subjectID)
		if err != nil {
			log.Error().Err(err).Msg("Reset skipped: failed to list tests of subject")
			report.Errors = append(report.Errors, "list tests: "+err.Error())
			return report
		}
		report.TestIDs = ids
	}
	if len(report.TestIDs) == 0 {
		return report
	}

	deleted, err := s.evaluations.DeleteForStudent(ctx, studentID, report.TestIDs)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete evaluations")
		report.Errors = append(report.Errors, "delete evaluations: "+err.Error())
	}
	report.EvaluationsDeleted = deleted

	reset, err := s.grades.Reset(ctx, studentID, report.TestIDs, ResetRemark)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reset grades")
		report.Errors = append(report.Errors, "reset grades: "+err.Error())
	}
	report.GradesReset = reset

	log.Info().
		Int("tests", len(report.TestIDs)).
		Int64("evaluations_deleted", deleted).
		Int64("grades_reset", reset).
		Msg("Evaluations reset")
	return report
}
