package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

const evaluationColumns = `id, test_id, student_id, subject_id, status, evaluation_data, created_at, updated_at`

// EvaluationRepository handles paper_evaluations data access. A row is unique
// per (test_id, student_id); status always mirrors the stored outcome type.
type EvaluationRepository struct {
	pool *pgxpool.Pool
}

// NewEvaluationRepository creates a new EvaluationRepository.
func NewEvaluationRepository(pool *pgxpool.Pool) *EvaluationRepository {
	return &EvaluationRepository{pool: pool}
}

func scanEvaluation(row pgx.Row) (*model.Evaluation, error) {
	var (
		e      model.Evaluation
		status string
		raw    []byte
	)
	if err := row.Scan(&e.ID, &e.TestID, &e.StudentID, &e.SubjectID, &status, &raw, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	outcome, err := model.DecodeOutcome(model.EvaluationStatus(status), raw)
	if err != nil {
		return nil, fmt.Errorf("evaluation %s: %w", e.ID, err)
	}
	e.Outcome = outcome
	return &e, nil
}

func collectEvaluations(rows pgx.Rows) ([]model.Evaluation, error) {
	defer rows.Close()
	var out []model.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetByID retrieves an evaluation by ID.
func (r *EvaluationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Evaluation, error) {
	return scanEvaluation(r.pool.QueryRow(ctx,
		`SELECT `+evaluationColumns+` FROM paper_evaluations WHERE id = $1`, id))
}

// GetByTestAndStudent retrieves the evaluation of a (test, student) pair.
func (r *EvaluationRepository) GetByTestAndStudent(ctx context.Context, testID, studentID uuid.UUID) (*model.Evaluation, error) {
	return scanEvaluation(r.pool.QueryRow(ctx,
		`SELECT `+evaluationColumns+` FROM paper_evaluations WHERE test_id = $1 AND student_id = $2`,
		testID, studentID))
}

// Begin inserts the pair's row or resets the existing one to in_progress
// with empty data. The unique key makes concurrent callers converge on one row.
func (r *EvaluationRepository) Begin(ctx context.Context, testID, studentID, subjectID uuid.UUID) (*model.Evaluation, error) {
	return scanEvaluation(r.pool.QueryRow(ctx,
		`INSERT INTO paper_evaluations (test_id, student_id, subject_id, status, evaluation_data)
		 VALUES ($1, $2, $3, $4, '{}'::jsonb)
		 ON CONFLICT (test_id, student_id) DO UPDATE
		 SET subject_id = EXCLUDED.subject_id,
		     status = EXCLUDED.status,
		     evaluation_data = EXCLUDED.evaluation_data,
		     updated_at = NOW()
		 RETURNING `+evaluationColumns,
		testID, studentID, subjectID, model.EvaluationStatusInProgress))
}

// SaveOutcome writes the outcome and its derived status. Returns ErrNotFound
// when the row was deleted.
func (r *EvaluationRepository) SaveOutcome(ctx context.Context, id uuid.UUID, outcome model.Outcome) error {
	status, raw, err := model.EncodeOutcome(outcome)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE paper_evaluations SET status = $1, evaluation_data = $2, updated_at = NOW() WHERE id = $3`,
		string(status), raw, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes an evaluation.
func (r *EvaluationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM paper_evaluations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteForStudent removes the student's evaluations for the given tests.
func (r *EvaluationRepository) DeleteForStudent(ctx context.Context, studentID uuid.UUID, testIDs []uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM paper_evaluations WHERE student_id = $1 AND test_id = ANY($2::uuid[])`,
		studentID, testIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByTestPaginated retrieves one page of a test's evaluations, most
// recently updated first, with the total count of the test's evaluations.
func (r *EvaluationRepository) ListByTestPaginated(ctx context.Context, testID uuid.UUID, limit, offset int) ([]model.Evaluation, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM paper_evaluations WHERE test_id = $1`, testID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 || offset >= total {
		return nil, total, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+evaluationColumns+` FROM paper_evaluations WHERE test_id = $1
		 ORDER BY updated_at DESC, id
		 LIMIT $2 OFFSET $3`, testID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	evs, err := collectEvaluations(rows)
	if err != nil {
		return nil, 0, err
	}
	return evs, total, nil
}

// ListGradeDrift returns completed evaluations whose gradebook row is missing
// or carries marks other than the evaluation's awarded total.
func (r *EvaluationRepository) ListGradeDrift(ctx context.Context, limit int) ([]model.Evaluation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.test_id, e.student_id, e.subject_id, e.status, e.evaluation_data, e.created_at, e.updated_at
		 FROM paper_evaluations e
		 LEFT JOIN test_grades g ON g.test_id = e.test_id AND g.student_id = e.student_id
		 WHERE e.status = $1
		   AND (g.id IS NULL
		        OR g.marks IS DISTINCT FROM (e.evaluation_data->'summary'->'totalScore'->>0)::double precision)
		 ORDER BY e.updated_at
		 LIMIT $2`,
		string(model.EvaluationStatusCompleted), limit)
	if err != nil {
		return nil, err
	}
	return collectEvaluations(rows)
}
