package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/validator"
)

// EvaluationRunner runs and queries evaluations.
type EvaluationRunner interface {
	Evaluate(ctx context.Context, req service.EvaluateRequest, rc service.RetryContext) (*model.Evaluation, service.RetryContext, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Evaluation, error)
	ListByTest(ctx context.Context, testID uuid.UUID, limit, offset int) ([]model.Evaluation, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ScoreEditor applies manual score overrides.
type ScoreEditor interface {
	SetQuestionScore(ctx context.Context, evalID uuid.UUID, index int, score float64) (*service.ScoreUpdate, error)
}

// EvaluationResetter invalidates a student's evaluations.
type EvaluationResetter interface {
	ResetEvaluations(ctx context.Context, studentID, subjectID uuid.UUID, testID *uuid.UUID) service.ResetReport
}

// JobQueue accepts batch evaluation jobs for the worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job model.EvaluationJob) error
}

// EvaluationHandler handles evaluation endpoints for teachers.
type EvaluationHandler struct {
	evaluations EvaluationRunner
	scores      ScoreEditor
	reset       EvaluationResetter
	queue       JobQueue
	log         zerolog.Logger
}

// NewEvaluationHandler creates a new EvaluationHandler.
func NewEvaluationHandler(evaluations EvaluationRunner, scores ScoreEditor, reset EvaluationResetter, queue JobQueue, log zerolog.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		evaluations: evaluations,
		scores:      scores,
		reset:       reset,
		queue:       queue,
		log:         log.With().Str("component", "evaluation_handler").Logger(),
	}
}

// EvaluateBatch godoc
// POST /api/v1/teacher/tests/:test_id/evaluations
// Queues evaluation of several students. Progress is streamed over the
// test's WebSocket channel.
func (h *EvaluationHandler) EvaluateBatch(c *gin.Context) {
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}

	var req model.EvaluateBatchRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	job := model.EvaluationJob{
		TestID:     testID,
		SubjectID:  req.SubjectID,
		StudentIDs: req.StudentIDs,
		QueuedAt:   time.Now().UTC(),
	}
	if err := h.queue.Enqueue(c.Request.Context(), job); err != nil {
		h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Failed to queue evaluation job")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.log.Info().
		Str("test_id", testID.String()).
		Int("students", len(req.StudentIDs)).
		Msg("Evaluation job queued")
	response.Success(c, http.StatusAccepted, gin.H{"job": job})
}

// EvaluateStudent godoc
// POST /api/v1/teacher/tests/:test_id/students/:student_id/evaluate
// Grades one student synchronously, including automatic retries.
func (h *EvaluationHandler) EvaluateStudent(c *gin.Context) {
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}
	studentID, ok := uuidParam(c, "student_id")
	if !ok {
		return
	}

	var req model.EvaluateSingleRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ev, _, err := h.evaluations.Evaluate(c.Request.Context(), service.EvaluateRequest{
		StudentID: studentID,
		TestID:    testID,
		SubjectID: req.SubjectID,
	}, service.NewRetryContext())
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"evaluation": ev})
}

// ListByTest godoc
// GET /api/v1/teacher/tests/:test_id/evaluations
func (h *EvaluationHandler) ListByTest(c *gin.Context) {
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}
	page, perPage := response.PageQuery(c)

	evs, total, err := h.evaluations.ListByTest(c.Request.Context(), testID, perPage, response.Offset(page, perPage))
	if err != nil {
		failWith(c, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"evaluations": evs},
		response.NewPagination(page, perPage, total))
}

// Get godoc
// GET /api/v1/teacher/evaluations/:id
func (h *EvaluationHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ev, err := h.evaluations.Get(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"evaluation": ev})
}

// Delete godoc
// DELETE /api/v1/teacher/evaluations/:id
// Deletes an evaluation and its gradebook row. grade_synced is false when
// only the evaluation could be removed.
func (h *EvaluationHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	err := h.evaluations.Delete(c.Request.Context(), id)
	if err != nil && !errors.Is(err, service.ErrGradebookSyncFailed) {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true, "grade_synced": err == nil})
}

// SetQuestionScore godoc
// PATCH /api/v1/teacher/evaluations/:id/answers/:index
// Overrides the awarded score of one question.
func (h *EvaluationHandler) SetQuestionScore(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionIndex)
		return
	}

	var req model.SetScoreRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	upd, err := h.scores.SetQuestionScore(c.Request.Context(), id, index, *req.Score)
	if err != nil && !errors.Is(err, service.ErrGradebookSyncFailed) {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, upd)
}

// ResetStudent godoc
// POST /api/v1/teacher/students/:student_id/reset
// Deletes the student's evaluations for a test, or for every test of the
// subject, and zeroes the paired grades. Partial failures are reported in
// the body, never as an error status.
func (h *EvaluationHandler) ResetStudent(c *gin.Context) {
	studentID, ok := uuidParam(c, "student_id")
	if !ok {
		return
	}

	var req model.ResetRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	report := h.reset.ResetEvaluations(c.Request.Context(), studentID, req.SubjectID, req.TestID)
	response.Success(c, http.StatusOK, gin.H{"reset": report})
}
