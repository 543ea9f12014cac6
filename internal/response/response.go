package response

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Data       any         `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorBody describes a failed request. Detail carries the upstream cause
// (grading function, OCR model, object storage) and is never set for
// internal errors.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Detail  string            `json:"detail,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// Listing page sizes.
const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// PageQuery reads page and per_page from the query string. Missing or
// invalid values fall back to page 1 and DefaultPerPage; per_page is capped
// at MaxPerPage.
func PageQuery(c *gin.Context) (page, perPage int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err = strconv.Atoi(c.Query("per_page"))
	if err != nil || perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// Offset is the number of rows before page.
func Offset(page, perPage int) int {
	return (page - 1) * perPage
}

// NewPagination builds the pagination block for total matching items.
func NewPagination(page, perPage, total int) *Pagination {
	return &Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}
}

// Success sends data with the given status.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// SuccessWithPagination sends one page of a listing.
func SuccessWithPagination(c *gin.Context, statusCode int, data any, pagination *Pagination) {
	c.JSON(statusCode, Response{
		Data:       data,
		Pagination: pagination,
		Metadata:   buildMetadata(c),
	})
}

// Fail sends an error with only its code and message.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	fail(c, statusCode, &ErrorBody{Code: code, Message: GetMessage(code)})
}

// FailWithFields sends a validation error with per-field messages.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	fail(c, statusCode, &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields})
}

// FailWithDetail sends an error caused upstream, with the cause in detail.
func FailWithDetail(c *gin.Context, statusCode int, code ErrCode, detail string) {
	fail(c, statusCode, &ErrorBody{Code: code, Message: GetMessage(code), Detail: detail})
}

// AbortFail stops the middleware chain with an error.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, Response{
		Error:    &ErrorBody{Code: code, Message: GetMessage(code)},
		Metadata: buildMetadata(c),
	})
}

func fail(c *gin.Context, statusCode int, body *ErrorBody) {
	c.JSON(statusCode, Response{
		Error:    body,
		Metadata: buildMetadata(c),
	})
}

func buildMetadata(c *gin.Context) Metadata {
	id := RequestID(c)
	if id == "" {
		id = uuid.NewString()
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Metadata ties a response to its request.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}
