package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/validator"
)

// AnswerSheets stores and reads student answer sheets.
type AnswerSheets interface {
	UploadAnswerSheet(ctx context.Context, up service.AnswerUpload) (*service.AnswerUploadResult, error)
	GetAnswerSheet(ctx context.Context, studentID, subjectID, testID uuid.UUID) (*model.TestAnswer, error)
}

// AnswerHandler handles answer sheet endpoints.
type AnswerHandler struct {
	answers AnswerSheets
}

// NewAnswerHandler creates a new AnswerHandler.
func NewAnswerHandler(answers AnswerSheets) *AnswerHandler {
	return &AnswerHandler{answers: answers}
}

// Upload godoc
// POST /api/v1/teacher/answers
// Uploads a student's answer sheet as multipart form data: file, student_id,
// subject_id, test_id. Any previous evaluation of the sheet is reset.
func (h *AnswerHandler) Upload(c *gin.Context) {
	var form model.UploadAnswerForm
	if fields := validator.BindForm(c, &form); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	res, err := h.answers.UploadAnswerSheet(c.Request.Context(), service.AnswerUpload{
		StudentID: uuid.MustParse(form.StudentID),
		SubjectID: uuid.MustParse(form.SubjectID),
		TestID:    uuid.MustParse(form.TestID),
		File:      file,
	})
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusCreated, res)
}

// Get godoc
// GET /api/v1/teacher/tests/:test_id/students/:student_id/answer?subject_id=
func (h *AnswerHandler) Get(c *gin.Context) {
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}
	studentID, ok := uuidParam(c, "student_id")
	if !ok {
		return
	}
	subjectID, err := uuid.Parse(c.Query("subject_id"))
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"subject_id": "subject_id must be a valid UUID",
		})
		return
	}

	answer, err := h.answers.GetAnswerSheet(c.Request.Context(), studentID, subjectID, testID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"answer": answer})
}
