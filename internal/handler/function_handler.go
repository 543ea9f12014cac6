package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/bundle"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/ocr"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	"github.com/stemsi/exstem-grader/internal/storage"
	"github.com/stemsi/exstem-grader/internal/validator"
)

// Extractor implements the extraction invocation.
type Extractor interface {
	Extract(ctx context.Context, req model.ExtractionRequest) (*model.ExtractionResult, error)
}

// functionError is the body of a failed function call. Code uses the same
// kinds the grading client classifies, so callers retry the same way.
type functionError struct {
	Error string       `json:"error"`
	Code  grading.Kind `json:"code"`
}

// FunctionHandler serves remote function calls. Responses are bare JSON,
// not the API envelope.
type FunctionHandler struct {
	extractor Extractor
	log       zerolog.Logger
}

// NewFunctionHandler creates a new FunctionHandler.
func NewFunctionHandler(extractor Extractor, log zerolog.Logger) *FunctionHandler {
	return &FunctionHandler{
		extractor: extractor,
		log:       log.With().Str("component", "function_handler").Logger(),
	}
}

// Extract godoc
// POST /api/v1/functions/extract
// Returns {text} or {is_pdf: true} when the document must be converted into
// a page bundle first.
func (h *FunctionHandler) Extract(c *gin.Context) {
	var req model.ExtractionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		msg := "invalid request"
		for field, m := range fields {
			msg = field + ": " + m
			break
		}
		c.JSON(http.StatusBadRequest, functionError{Error: msg, Code: grading.KindFatal})
		return
	}

	res, err := h.extractor.Extract(c.Request.Context(), req)
	if err != nil {
		status, kind := functionErrorKind(err)
		h.log.Warn().Err(err).
			Str("file_name", req.FileName).
			Str("code", string(kind)).
			Msg("Extraction failed")
		c.JSON(status, functionError{Error: err.Error(), Code: kind})
		return
	}
	c.JSON(http.StatusOK, res)
}

func functionErrorKind(err error) (int, grading.Kind) {
	switch {
	case errors.Is(err, storage.ErrDownloadTimeout):
		return http.StatusGatewayTimeout, grading.KindDownloadTimeout
	case errors.Is(err, storage.ErrInvalidURL):
		return http.StatusBadRequest, grading.KindInvalidImageURL
	case errors.Is(err, storage.ErrDownloadFailed):
		return http.StatusBadGateway, grading.KindDownloadFailed
	case errors.Is(err, ocr.ErrExtractionFailed):
		return http.StatusBadGateway, grading.KindExtractionFailed
	case errors.Is(err, rasterizer.ErrUnsupportedFormat),
		errors.Is(err, bundle.ErrEmptyBundle),
		errors.Is(err, bundle.ErrBundleTooLarge):
		return http.StatusUnprocessableEntity, grading.KindFatal
	}
	return http.StatusInternalServerError, grading.KindFatal
}
