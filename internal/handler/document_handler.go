package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/validator"
)

// DocumentManager stores papers and extracts their text.
type DocumentManager interface {
	UploadDocument(ctx context.Context, up service.DocumentUpload) (*model.Document, error)
	ListDocuments(ctx context.Context, subjectID uuid.UUID) ([]model.Document, error)
	ExtractDocument(ctx context.Context, docID, ownerID uuid.UUID) (*model.Document, error)
	SetDocumentText(ctx context.Context, docID, ownerID uuid.UUID, text string) (*model.Document, error)
	DeleteDocument(ctx context.Context, docID, ownerID uuid.UUID) error
}

// DocumentHandler handles question paper, answer key and handwritten paper
// endpoints.
type DocumentHandler struct {
	documents DocumentManager
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(documents DocumentManager) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Upload godoc
// POST /api/v1/teacher/documents
// Uploads a paper as multipart form data: file, subject_id, test_id, role, label.
func (h *DocumentHandler) Upload(c *gin.Context) {
	var form model.UploadDocumentForm
	if fields := validator.BindForm(c, &form); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	up := service.DocumentUpload{
		OwnerID:   middleware.GetClaims(c).UserID,
		SubjectID: uuid.MustParse(form.SubjectID),
		Role:      model.DocumentRole(form.Role),
		Label:     form.Label,
		FileName:  header.Filename,
		File:      file,
	}
	if form.TestID != "" {
		testID := uuid.MustParse(form.TestID)
		up.TestID = &testID
	}

	doc, err := h.documents.UploadDocument(c.Request.Context(), up)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"document": doc})
}

// ListBySubject godoc
// GET /api/v1/teacher/subjects/:subject_id/documents
func (h *DocumentHandler) ListBySubject(c *gin.Context) {
	subjectID, ok := uuidParam(c, "subject_id")
	if !ok {
		return
	}
	docs, err := h.documents.ListDocuments(c.Request.Context(), subjectID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"documents": docs})
}

// Extract godoc
// POST /api/v1/teacher/documents/:id/extract
// Runs OCR over the document and caches the text on it.
func (h *DocumentHandler) Extract(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	doc, err := h.documents.ExtractDocument(c.Request.Context(), id, middleware.GetClaims(c).UserID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"document": doc})
}

// SetText godoc
// PUT /api/v1/teacher/documents/:id/text
func (h *DocumentHandler) SetText(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.SetDocumentTextRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	doc, err := h.documents.SetDocumentText(c.Request.Context(), id, middleware.GetClaims(c).UserID, req.Text)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"document": doc})
}

// Delete godoc
// DELETE /api/v1/teacher/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.documents.DeleteDocument(c.Request.Context(), id, middleware.GetClaims(c).UserID); err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "document deleted successfully"})
}
