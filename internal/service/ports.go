package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/ocr"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	ws "github.com/stemsi/exstem-grader/internal/websocket"
)

// Stores are implemented by the pgx repositories. Lookups that match no row
// return repository.ErrNotFound.

// EvaluationStore persists paper_evaluations rows.
type EvaluationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Evaluation, error)
	GetByTestAndStudent(ctx context.Context, testID, studentID uuid.UUID) (*model.Evaluation, error)
	// Begin inserts the (test, student) row or resets the existing one to
	// in_progress with empty data, atomically.
	Begin(ctx context.Context, testID, studentID, subjectID uuid.UUID) (*model.Evaluation, error)
	SaveOutcome(ctx context.Context, id uuid.UUID, outcome model.Outcome) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteForStudent(ctx context.Context, studentID uuid.UUID, testIDs []uuid.UUID) (int64, error)
	// ListByTestPaginated returns one page and the test's total count.
	ListByTestPaginated(ctx context.Context, testID uuid.UUID, limit, offset int) ([]model.Evaluation, int, error)
	// ListGradeDrift returns completed evaluations whose grade row is missing
	// or holds different marks.
	ListGradeDrift(ctx context.Context, limit int) ([]model.Evaluation, error)
}

// GradeStore persists test_grades rows.
type GradeStore interface {
	Get(ctx context.Context, testID, studentID uuid.UUID) (*model.TestGrade, error)
	Upsert(ctx context.Context, testID, studentID uuid.UUID, marks float64, remarks string) error
	// Reset zeroes existing rows without deleting them.
	Reset(ctx context.Context, studentID uuid.UUID, testIDs []uuid.UUID, remarks string) (int64, error)
	Delete(ctx context.Context, testID, studentID uuid.UUID) error
}

// AnswerStore persists test_answers rows.
type AnswerStore interface {
	Get(ctx context.Context, studentID, subjectID, testID uuid.UUID) (*model.TestAnswer, error)
	Upsert(ctx context.Context, a *model.TestAnswer) error
	SetText(ctx context.Context, studentID, testID uuid.UUID, text string) error
}

// DocumentStore persists uploaded papers.
type DocumentStore interface {
	Create(ctx context.Context, d *model.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Document, error)
	LatestByRole(ctx context.Context, testID uuid.UUID, role model.DocumentRole) (*model.Document, error)
	ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]model.Document, error)
	SetOCRText(ctx context.Context, id uuid.UUID, text string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TestStore reads tests.
type TestStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Test, error)
	ListIDsBySubject(ctx context.Context, subjectID uuid.UUID) ([]uuid.UUID, error)
}

// StudentStore reads students.
type StudentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Student, error)
}

// Downloader fetches documents by URL.
type Downloader interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// PageRasterizer turns a document into normalized pages.
type PageRasterizer interface {
	Rasterize(ctx context.Context, data []byte, kind rasterizer.Kind) ([]rasterizer.Page, error)
}

// BundlePackager stores pages as a bundle and returns its URL.
type BundlePackager interface {
	PackageAndStore(ctx context.Context, pages []rasterizer.Page, identifier, category string) (string, error)
}

// TextExtractor runs OCR over page images.
type TextExtractor interface {
	Extract(ctx context.Context, images []ocr.Image, role ocr.Role) (string, error)
}

// Locker serializes evaluation runs for one (test, student) pair.
type Locker interface {
	// TryLock returns ErrLockHeld when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ProgressNotifier publishes evaluation progress events.
type ProgressNotifier interface {
	Publish(ctx context.Context, ev ws.ProgressEvent)
}
