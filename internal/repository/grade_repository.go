package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// GradeRepository handles test_grades data access.
type GradeRepository struct {
	pool *pgxpool.Pool
}

// NewGradeRepository creates a new GradeRepository.
func NewGradeRepository(pool *pgxpool.Pool) *GradeRepository {
	return &GradeRepository{pool: pool}
}

func (r *GradeRepository) Get(ctx context.Context, testID, studentID uuid.UUID) (*model.TestGrade, error) {
	g := &model.TestGrade{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, student_id, marks, remarks, updated_at
		 FROM test_grades WHERE test_id = $1 AND student_id = $2`,
		testID, studentID,
	).Scan(&g.ID, &g.TestID, &g.StudentID, &g.Marks, &g.Remarks, &g.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return g, nil
}

// Upsert writes the pair's marks, creating the row on first use.
func (r *GradeRepository) Upsert(ctx context.Context, testID, studentID uuid.UUID, marks float64, remarks string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO test_grades (test_id, student_id, marks, remarks)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (test_id, student_id) DO UPDATE
		 SET marks = EXCLUDED.marks, remarks = EXCLUDED.remarks, updated_at = NOW()`,
		testID, studentID, marks, remarks)
	return err
}

// Reset zeroes the student's existing rows for the given tests.
func (r *GradeRepository) Reset(ctx context.Context, studentID uuid.UUID, testIDs []uuid.UUID, remarks string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE test_grades SET marks = 0, remarks = $3, updated_at = NOW()
		 WHERE student_id = $1 AND test_id = ANY($2::uuid[])`,
		studentID, testIDs, remarks)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *GradeRepository) Delete(ctx context.Context, testID, studentID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM test_grades WHERE test_id = $1 AND student_id = $2`, testID, studentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
