package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/bundle"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/ocr"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/storage"
)

// errorStatus maps a service error to its HTTP status and error code.
func errorStatus(err error) (int, response.ErrCode) {
	var ge *grading.Error
	switch {
	case errors.Is(err, service.ErrEvaluationNotFound),
		errors.Is(err, service.ErrDocumentNotFound),
		errors.Is(err, service.ErrAnswerNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrNotDocumentOwner):
		return http.StatusForbidden, response.ErrNotOwner

	case errors.Is(err, service.ErrNoAnswerSheet):
		return http.StatusUnprocessableEntity, response.ErrNoAnswerSheet
	case errors.Is(err, service.ErrPapersMissing):
		return http.StatusUnprocessableEntity, response.ErrPapersMissing
	case errors.Is(err, service.ErrEvaluationBusy):
		return http.StatusConflict, response.ErrEvaluationBusy
	case errors.Is(err, service.ErrEvaluationDeleted):
		return http.StatusConflict, response.ErrEvaluationDeleted
	case errors.Is(err, service.ErrNotCompleted):
		return http.StatusConflict, response.ErrEvaluationNotCompleted
	case errors.Is(err, service.ErrQuestionIndex):
		return http.StatusBadRequest, response.ErrQuestionIndex
	case errors.Is(err, service.ErrInvalidScore):
		return http.StatusBadRequest, response.ErrInvalidScore
	case errors.As(err, &ge):
		return http.StatusBadGateway, response.ErrEvaluationFailed

	case errors.Is(err, service.ErrInvalidRole):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrEmptyFile):
		return http.StatusBadRequest, response.ErrFileRequired
	case errors.Is(err, service.ErrUnsupportedFileType),
		errors.Is(err, rasterizer.ErrUnsupportedFormat):
		return http.StatusBadRequest, response.ErrUnsupportedFile
	case errors.Is(err, service.ErrFileTooLarge),
		errors.Is(err, bundle.ErrBundleTooLarge):
		return http.StatusRequestEntityTooLarge, response.ErrFileTooLarge

	case errors.Is(err, storage.ErrInvalidURL):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, storage.ErrDownloadTimeout):
		return http.StatusGatewayTimeout, response.ErrDownloadTimeout
	case errors.Is(err, storage.ErrDownloadFailed):
		return http.StatusBadGateway, response.ErrDownloadFailed
	case errors.Is(err, rasterizer.ErrRasterizationFailed):
		return http.StatusUnprocessableEntity, response.ErrRasterizationFailed
	case errors.Is(err, bundle.ErrEmptyBundle),
		errors.Is(err, bundle.ErrPersistFailed):
		return http.StatusBadGateway, response.ErrBundleFailed
	case errors.Is(err, ocr.ErrExtractionFailed):
		return http.StatusBadGateway, response.ErrExtractionFailed
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the error envelope for a service error. Upstream failures
// carry the cause in detail; internal errors are only logged.
func failWith(c *gin.Context, err error) {
	status, code := errorStatus(err)
	switch status {
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		response.FailWithDetail(c, status, code, err.Error())
	case http.StatusInternalServerError:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("path", c.FullPath()).
			Msg("Request failed")
		response.Fail(c, status, code)
	default:
		response.Fail(c, status, code)
	}
}

// uuidParam parses a UUID path parameter, writing INVALID_ID on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
