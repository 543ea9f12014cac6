package model

import (
	"time"

	"github.com/google/uuid"
)

// TestGrade is the gradebook row a teacher sees for one (test, student).
type TestGrade struct {
	ID        uuid.UUID `json:"id"`
	TestID    uuid.UUID `json:"test_id"`
	StudentID uuid.UUID `json:"student_id"`
	Marks     float64   `json:"marks"`
	Remarks   string    `json:"remarks"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TestAnswer is a student's uploaded answer sheet for a test.
type TestAnswer struct {
	StudentID      uuid.UUID `json:"student_id"`
	TestID         uuid.UUID `json:"test_id"`
	SubjectID      uuid.UUID `json:"subject_id"`
	AnswerSheetURL string    `json:"answer_sheet_url"`
	ObjectName     string    `json:"-"`
	TextContent    *string   `json:"text_content,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UploadAnswerForm is the multipart form for an answer-sheet upload.
type UploadAnswerForm struct {
	StudentID string `form:"student_id" json:"student_id" binding:"required,uuid"`
	SubjectID string `form:"subject_id" json:"subject_id" binding:"required,uuid"`
	TestID    string `form:"test_id" json:"test_id" binding:"required,uuid"`
}
