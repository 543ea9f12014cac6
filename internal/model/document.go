package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentRole declares what an uploaded document is used for.
type DocumentRole string

const (
	RoleQuestionPaper DocumentRole = "questionPaper"
	RoleAnswerKey     DocumentRole = "answerKey"
	RoleAnswerSheet   DocumentRole = "answerSheet"
	RoleHandwritten   DocumentRole = "handwritten"
)

// Valid reports whether r is a known role.
func (r DocumentRole) Valid() bool {
	switch r {
	case RoleQuestionPaper, RoleAnswerKey, RoleAnswerSheet, RoleHandwritten:
		return true
	}
	return false
}

// Document is an uploaded artifact. OCRText is attached asynchronously and
// may be overwritten by manual entry.
type Document struct {
	ID          uuid.UUID    `json:"id"`
	OwnerID     uuid.UUID    `json:"owner_id"`
	SubjectID   uuid.UUID    `json:"subject_id"`
	TestID      *uuid.UUID   `json:"test_id,omitempty"`
	StudentID   *uuid.UUID   `json:"student_id,omitempty"`
	Role        DocumentRole `json:"role"`
	Label       string       `json:"label"`
	FileName    string       `json:"file_name"`
	ObjectName  string       `json:"-"`
	URL         string       `json:"url"`
	ContentType string       `json:"content_type"`
	OCRText     *string      `json:"ocr_text,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// UploadDocumentForm is the multipart form for uploading a paper.
type UploadDocumentForm struct {
	SubjectID string `form:"subject_id" json:"subject_id" binding:"required,uuid"`
	TestID    string `form:"test_id" json:"test_id" binding:"omitempty,uuid"`
	Role      string `form:"role" json:"role" binding:"required,oneof=questionPaper answerKey handwritten"`
	Label     string `form:"label" json:"label" binding:"required,min=1,max=200"`
}

// SetDocumentTextRequest overwrites a document's cached OCR text.
type SetDocumentTextRequest struct {
	Text string `json:"text" binding:"required"`
}

// ExtractionRequest is the extraction invocation contract.
type ExtractionRequest struct {
	FileURL  string       `json:"fileUrl" binding:"required,url"`
	FileName string       `json:"fileName" binding:"required"`
	FileType DocumentRole `json:"fileType" binding:"required,oneof=questionPaper answerKey answerSheet handwritten"`
	ZipURL   string       `json:"zipUrl" binding:"omitempty,url"`
}

// ExtractionResult is either extracted text or the is_pdf sentinel that
// asks the caller to convert the document into a page bundle first.
type ExtractionResult struct {
	Text  string `json:"text,omitempty"`
	IsPDF bool   `json:"is_pdf,omitempty"`
}
