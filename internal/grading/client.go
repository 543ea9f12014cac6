// Package grading invokes the remote AI grading function.
package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/model"
)

// Kind classifies a grading failure.
type Kind string

const (
	KindDownloadTimeout  Kind = "download_timeout"
	KindInvalidImageURL  Kind = "invalid_image_url"
	KindDownloadFailed   Kind = "download_failed"
	KindExtractionFailed Kind = "extraction_failed"
	KindFatal            Kind = "fatal"
)

// Retryable reports whether a failure of this kind is transient.
func (k Kind) Retryable() bool {
	switch k {
	case KindDownloadTimeout, KindInvalidImageURL, KindDownloadFailed, KindExtractionFailed:
		return true
	}
	return false
}

// Error is a classified grading failure.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("grading %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("grading %s: %s", e.Kind, e.Message)
}

// IsRetryable reports whether err is a retryable grading failure.
func IsRetryable(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind.Retryable()
}

// DocumentRef points at a paper and its label.
type DocumentRef struct {
	URL   string `json:"url"`
	Topic string `json:"topic"`
}

// StudentAnswer points at the answer sheet and its optional page bundle.
type StudentAnswer struct {
	URL    string `json:"url"`
	ZipURL string `json:"zip_url,omitempty"`
}

// StudentInfo identifies the student being graded.
type StudentInfo struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	RollNumber string    `json:"roll_number"`
	Class      string    `json:"class"`
	Subject    string    `json:"subject"`
}

// Request is the grading function payload.
type Request struct {
	QuestionPaper DocumentRef   `json:"questionPaper"`
	AnswerKey     DocumentRef   `json:"answerKey"`
	StudentAnswer StudentAnswer `json:"studentAnswer"`
	StudentInfo   StudentInfo   `json:"studentInfo"`
	TestID        uuid.UUID     `json:"testId"`
	RetryAttempt  int           `json:"retryAttempt"`
}

// Result is the grading function response.
type Result struct {
	Answers []model.AnswerScore `json:"answers"`
	Summary model.Summary       `json:"summary"`
	Text    string              `json:"text,omitempty"`
}

// Grader grades one answer sheet.
type Grader interface {
	Grade(ctx context.Context, req Request) (*Result, error)
}

// Client calls the grading function over HTTP.
type Client struct {
	url     string
	key     string
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a Client for the function at url. Every call is bounded
// by timeout.
func NewClient(url, key string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		url:     url,
		key:     key,
		timeout: timeout,
		http:    &http.Client{},
		log:     log.With().Str("component", "grading_client").Logger(),
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Grade posts req and decodes the result.
func (c *Client) Grade(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Message: fmt.Sprintf("encode request: %v", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindFatal, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.key)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			return nil, &Error{Kind: KindDownloadTimeout, Message: fmt.Sprintf("grading call timed out after %s", c.timeout)}
		}
		return nil, &Error{Kind: KindFatal, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			return nil, &Error{Kind: KindDownloadTimeout, Message: "grading response timed out"}
		}
		return nil, &Error{Kind: KindFatal, Message: err.Error()}
	}

	c.log.Debug().
		Str("test_id", req.TestID.String()).
		Str("student_id", req.StudentInfo.ID.String()).
		Int("status", resp.StatusCode).
		Int("attempt", req.RetryAttempt).
		Dur("took", time.Since(start)).
		Msg("Grading function responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp.StatusCode, raw)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &Error{Kind: KindFatal, Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if len(result.Answers) == 0 {
		return nil, &Error{Kind: KindFatal, Status: resp.StatusCode, Message: "response has no answers"}
	}
	return &result, nil
}

func decodeError(status int, raw []byte) *Error {
	var eb errorBody
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &eb) == nil {
		if eb.Error != "" {
			msg = eb.Error
		} else if eb.Message != "" {
			msg = eb.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	kind := Kind(eb.Code)
	if !kind.Retryable() && kind != KindFatal {
		kind = classifyMessage(msg)
	}
	return &Error{Kind: kind, Status: status, Message: msg}
}

// classifyMessage maps the free-text errors of older function deployments,
// which do not send a code, onto a Kind.
func classifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "timeout while downloading"), strings.Contains(m, "download timeout"):
		return KindDownloadTimeout
	case strings.Contains(m, "invalid image url"), strings.Contains(m, "invalid_image_url"):
		return KindInvalidImageURL
	case strings.Contains(m, "error while downloading"), strings.Contains(m, "failed to download"),
		strings.Contains(m, "download failed"):
		return KindDownloadFailed
	case strings.Contains(m, "ocr"), strings.Contains(m, "extraction failed"), strings.Contains(m, "failed to extract"):
		return KindExtractionFailed
	}
	return KindFatal
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
