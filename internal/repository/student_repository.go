package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// StudentRepository handles student data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// Get retrieves a student by ID.
func (r *StudentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, roll_number, class_name FROM students WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.RollNumber, &s.ClassName)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ListIDsWithAnswers returns the students that uploaded a sheet for a test,
// in roll-number order.
func (r *StudentRepository) ListIDsWithAnswers(ctx context.Context, testID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id FROM students s
		 JOIN test_answers a ON a.student_id = s.id
		 WHERE a.test_id = $1
		 ORDER BY s.roll_number, s.name`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
