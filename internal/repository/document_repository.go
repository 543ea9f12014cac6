package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

const documentColumns = `id, owner_id, subject_id, test_id, student_id, role, label, file_name,
	object_name, url, content_type, ocr_text, created_at, updated_at`

// DocumentRepository handles documents data access.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var (
		d    model.Document
		role string
	)
	err := row.Scan(&d.ID, &d.OwnerID, &d.SubjectID, &d.TestID, &d.StudentID, &role, &d.Label, &d.FileName,
		&d.ObjectName, &d.URL, &d.ContentType, &d.OCRText, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	d.Role = model.DocumentRole(role)
	return &d, nil
}

func (r *DocumentRepository) Create(ctx context.Context, d *model.Document) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO documents (owner_id, subject_id, test_id, student_id, role, label, file_name, object_name, url, content_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		d.OwnerID, d.SubjectID, d.TestID, d.StudentID, string(d.Role), d.Label, d.FileName, d.ObjectName, d.URL, d.ContentType,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	return scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
}

// LatestByRole returns the most recent document of a role attached to a test.
func (r *DocumentRepository) LatestByRole(ctx context.Context, testID uuid.UUID, role model.DocumentRole) (*model.Document, error) {
	return scanDocument(r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE test_id = $1 AND role = $2
		 ORDER BY created_at DESC LIMIT 1`,
		testID, string(role)))
}

func (r *DocumentRepository) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE subject_id = $1 ORDER BY created_at DESC`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) SetOCRText(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE documents SET ocr_text = $1, updated_at = NOW() WHERE id = $2`, text, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
