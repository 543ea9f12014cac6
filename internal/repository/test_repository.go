package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// TestRepository reads tests and their subject.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

func (r *TestRepository) Get(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT t.id, t.subject_id, s.name, t.title
		 FROM tests t JOIN subjects s ON s.id = t.subject_id
		 WHERE t.id = $1`, id,
	).Scan(&t.ID, &t.SubjectID, &t.SubjectName, &t.Title)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (r *TestRepository) ListIDsBySubject(ctx context.Context, subjectID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tests WHERE subject_id = $1`, subjectID)
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
