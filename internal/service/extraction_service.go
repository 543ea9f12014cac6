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
	"github.com/stemsi/exstem-grader/internal/ocr"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/storage"
)

// Domain Errors
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrNotDocumentOwner = errors.New("not the owner of this document")
	ErrInvalidRole      = errors.New("invalid document role")
)

// DocumentUpload is a question paper, answer key or handwritten paper file.
type DocumentUpload struct {
	OwnerID   uuid.UUID
	SubjectID uuid.UUID
	TestID    *uuid.UUID
	Role      model.DocumentRole
	Label     string
	FileName  string
	File      io.Reader
}

// ExtractionService uploads papers and extracts their text.
type ExtractionService struct {
	documents  DocumentStore
	media      *MediaService
	fetcher    Downloader
	rasterizer PageRasterizer
	packager   BundlePackager
	extractor  TextExtractor
	now        func() time.Time
	log        zerolog.Logger
}

// NewExtractionService creates a new ExtractionService.
func NewExtractionService(
	documents DocumentStore,
	media *MediaService,
	fetcher Downloader,
	raster PageRasterizer,
	packager BundlePackager,
	extractor TextExtractor,
	log zerolog.Logger,
) *ExtractionService {
	return &ExtractionService{
		documents:  documents,
		media:      media,
		fetcher:    fetcher,
		rasterizer: raster,
		packager:   packager,
		extractor:  extractor,
		now:        time.Now,
		log:        log.With().Str("component", "extraction_service").Logger(),
	}
}

// Extract implements the extraction contract. A PDF without a bundle URL
// returns the is_pdf sentinel; with a bundle URL the bundle's pages are read
// in order and extracted in one call. Images are normalized and extracted
// directly.
func (s *ExtractionService) Extract(ctx context.Context, req model.ExtractionRequest) (*model.ExtractionResult, error) {
	role := ocr.Role(req.FileType)

	if req.ZipURL != "" {
		data, err := s.fetcher.Fetch(ctx, req.ZipURL)
		if err != nil {
			return nil, fmt.Errorf("download bundle: %w", err)
		}
		files, err := bundle.Read(data)
		if err != nil {
			return nil, err
		}
		images := make([]ocr.Image, len(files))
		for i, f := range files {
			images[i] = ocr.Image{Name: f.Name, Data: f.Data}
		}
		return s.extractImages(ctx, images, role)
	}

	data, err := s.fetcher.Fetch(ctx, req.FileURL)
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}
	return s.extractFile(ctx, data, req.FileName, role)
}

// extractFile extracts an already downloaded document.
func (s *ExtractionService) extractFile(ctx context.Context, data []byte, fileName string, role ocr.Role) (*model.ExtractionResult, error) {
	switch rasterizer.DetectKind(data) {
	case rasterizer.KindPDF:
		return &model.ExtractionResult{IsPDF: true}, nil
	case rasterizer.KindImage:
		pages, err := s.rasterizer.Rasterize(ctx, data, rasterizer.KindImage)
		if err != nil {
			return nil, err
		}
		return s.extractImages(ctx, pagesToImages(pages), role)
	default:
		return nil, fmt.Errorf("%w: %s", rasterizer.ErrUnsupportedFormat, fileName)
	}
}

func (s *ExtractionService) extractImages(ctx context.Context, images []ocr.Image, role ocr.Role) (*model.ExtractionResult, error) {
	text, err := s.extractor.Extract(ctx, images, role)
	if err != nil {
		return nil, err
	}
	return &model.ExtractionResult{Text: text}, nil
}

// ExtractDocument extracts a stored document's text and caches it on the
// document. The file is downloaded once; a PDF is rasterized from those
// bytes, stored as a page bundle and its pages extracted in one call.
func (s *ExtractionService) ExtractDocument(ctx context.Context, docID, ownerID uuid.UUID) (*model.Document, error) {
	doc, err := s.ownedDocument(ctx, docID, ownerID)
	if err != nil {
		return nil, err
	}
	role := ocr.Role(doc.Role)

	data, err := s.fetcher.Fetch(ctx, doc.URL)
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}
	res, err := s.extractFile(ctx, data, doc.FileName, role)
	if err != nil {
		return nil, err
	}
	if res.IsPDF {
		pages, err := s.rasterizer.Rasterize(ctx, data, rasterizer.KindPDF)
		if err != nil {
			return nil, err
		}
		if _, err := s.packager.PackageAndStore(ctx, pages, doc.ID.String(), string(doc.Role)); err != nil {
			return nil, err
		}
		if res, err = s.extractImages(ctx, pagesToImages(pages), role); err != nil {
			return nil, err
		}
	}

	if err := s.documents.SetOCRText(ctx, doc.ID, res.Text); err != nil {
		return nil, fmt.Errorf("save ocr text: %w", err)
	}
	doc.OCRText = &res.Text
	s.log.Info().
		Str("document_id", doc.ID.String()).
		Str("role", string(doc.Role)).
		Int("chars", len(res.Text)).
		Msg("Document text extracted")
	return doc, nil
}

// UploadDocument stores a paper under "<subject>_<label>_<role>_<ts>".
func (s *ExtractionService) UploadDocument(ctx context.Context, up DocumentUpload) (*model.Document, error) {
	if !up.Role.Valid() || up.Role == model.RoleAnswerSheet {
		return nil, ErrInvalidRole
	}

	nameBase := fmt.Sprintf("papers/%s_%s_%s_%d",
		up.SubjectID, storage.SanitizeName(up.Label), up.Role, s.now().UnixMilli())
	stored, err := s.media.Save(ctx, up.File, nameBase)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		OwnerID:     up.OwnerID,
		SubjectID:   up.SubjectID,
		TestID:      up.TestID,
		Role:        up.Role,
		Label:       up.Label,
		FileName:    up.FileName,
		ObjectName:  stored.Name,
		URL:         stored.URL,
		ContentType: stored.ContentType,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		if rmErr := s.media.Remove(ctx, stored.Name); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("object", stored.Name).Msg("Failed to remove orphaned upload")
		}
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// ListDocuments retrieves all documents of a subject.
func (s *ExtractionService) ListDocuments(ctx context.Context, subjectID uuid.UUID) ([]model.Document, error) {
	docs, err := s.documents.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return docs, nil
}

// SetDocumentText overwrites the cached OCR text with a manual entry.
func (s *ExtractionService) SetDocumentText(ctx context.Context, docID, ownerID uuid.UUID, text string) (*model.Document, error) {
	doc, err := s.ownedDocument(ctx, docID, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.documents.SetOCRText(ctx, doc.ID, text); err != nil {
		return nil, fmt.Errorf("save ocr text: %w", err)
	}
	doc.OCRText = &text
	return doc, nil
}

// DeleteDocument deletes a document owned by ownerID, its stored file and
// the page bundles made from it.
func (s *ExtractionService) DeleteDocument(ctx context.Context, docID, ownerID uuid.UUID) error {
	doc, err := s.ownedDocument(ctx, docID, ownerID)
	if err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, doc.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.media.Remove(ctx, doc.ObjectName); err != nil {
		s.log.Warn().Err(err).Str("object", doc.ObjectName).Msg("Document deleted but stored file remains")
	}
	prefix := bundle.Prefix(string(doc.Role), doc.ID.String())
	if n, err := s.media.RemovePrefix(ctx, prefix); err != nil {
		s.log.Warn().Err(err).Str("prefix", prefix).Int("removed", n).Msg("Document deleted but bundles remain")
	}
	s.log.Info().Str("document_id", doc.ID.String()).Msg("Document deleted")
	return nil
}

func (s *ExtractionService) ownedDocument(ctx context.Context, docID, ownerID uuid.UUID) (*model.Document, error) {
	doc, err := s.documents.GetByID(ctx, docID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, ErrNotDocumentOwner
	}
	return doc, nil
}

func pagesToImages(pages []rasterizer.Page) []ocr.Image {
	images := make([]ocr.Image, len(pages))
	for i, p := range pages {
		images[i] = ocr.Image{Name: p.Name(), Data: p.Data}
	}
	return images
}
