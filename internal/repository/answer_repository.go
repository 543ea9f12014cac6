package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// AnswerRepository handles test_answers data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Get retrieves a student's answer sheet for a test of a subject.
func (r *AnswerRepository) Get(ctx context.Context, studentID, subjectID, testID uuid.UUID) (*model.TestAnswer, error) {
	a := &model.TestAnswer{}
	err := r.pool.QueryRow(ctx,
		`SELECT student_id, test_id, subject_id, answer_sheet_url, object_name, text_content, updated_at
		 FROM test_answers WHERE student_id = $1 AND subject_id = $2 AND test_id = $3`,
		studentID, subjectID, testID,
	).Scan(&a.StudentID, &a.TestID, &a.SubjectID, &a.AnswerSheetURL, &a.ObjectName, &a.TextContent, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// Upsert replaces the sheet of a (student, test) pair. Text extracted from
// the previous sheet is cleared.
func (r *AnswerRepository) Upsert(ctx context.Context, a *model.TestAnswer) error {
	a.TextContent = nil
	return r.pool.QueryRow(ctx,
		`INSERT INTO test_answers (student_id, test_id, subject_id, answer_sheet_url, object_name)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (student_id, test_id) DO UPDATE
		 SET subject_id = EXCLUDED.subject_id,
		     answer_sheet_url = EXCLUDED.answer_sheet_url,
		     object_name = EXCLUDED.object_name,
		     text_content = NULL,
		     updated_at = NOW()
		 RETURNING updated_at`,
		a.StudentID, a.TestID, a.SubjectID, a.AnswerSheetURL, a.ObjectName,
	).Scan(&a.UpdatedAt)
}

// SetText stores the text the grader extracted from the sheet.
func (r *AnswerRepository) SetText(ctx context.Context, studentID, testID uuid.UUID, text string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE test_answers SET text_content = $1 WHERE student_id = $2 AND test_id = $3`,
		text, studentID, testID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
