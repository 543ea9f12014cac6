// Package ocr extracts text from page images with a vision-capable LLM.
package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrExtractionFailed wraps every failure to obtain text from the model.
var ErrExtractionFailed = errors.New("extraction failed")

const (
	MaxImagesPerCall   = 20
	BatchTimeout       = 120 * time.Second
	SingleImageTimeout = 60 * time.Second
	defaultMaxTokens   = 4096
)

var supportedFormats = []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

// Image is one page image sent to the model.
type Image struct {
	Name string
	Data []byte
}

// Generator is the subset of llms.Model used by the client.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Client sends batched page images with a role-specific prompt.
type Client struct {
	model         Generator
	maxTokens     int
	batchTimeout  time.Duration
	singleTimeout time.Duration
	log           zerolog.Logger
}

// NewClient wraps an existing model.
func NewClient(model Generator, maxTokens int, log zerolog.Logger) *Client {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		model:         model,
		maxTokens:     maxTokens,
		batchTimeout:  BatchTimeout,
		singleTimeout: SingleImageTimeout,
		log:           log.With().Str("component", "ocr_client").Logger(),
	}
}

// NewOpenAIClient connects to an OpenAI-compatible vision endpoint.
// An empty baseURL uses the OpenAI default.
func NewOpenAIClient(baseURL, apiKey, model string, maxTokens int, log zerolog.Logger) (*Client, error) {
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewClient(llm, maxTokens, log), nil
}

// Extract sends up to MaxImagesPerCall images in one request and returns the
// model's text verbatim.
func (c *Client) Extract(ctx context.Context, images []Image, role Role) (string, error) {
	parts := []llms.ContentPart{llms.TextPart(Prompt(role))}
	accepted := 0
	for _, img := range images {
		mt := mimetype.Detect(img.Data)
		if !supported(mt) {
			c.log.Warn().Str("image", img.Name).Str("mime", mt.String()).Msg("Dropping image with unsupported format")
			continue
		}
		if accepted == MaxImagesPerCall {
			c.log.Warn().Int("limit", MaxImagesPerCall).Int("total", len(images)).Msg("Too many images, dropping the rest")
			break
		}
		dataURL := "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		parts = append(parts, llms.ImageURLPart(dataURL))
		accepted++
	}
	if accepted == 0 {
		return "", fmt.Errorf("%w: no supported images", ErrExtractionFailed)
	}

	timeout := c.singleTimeout
	if accepted > 1 {
		timeout = c.batchTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.model.GenerateContent(callCtx, []llms.MessageContent{{
		Role:  llms.ChatMessageTypeHuman,
		Parts: parts,
	}}, llms.WithMaxTokens(c.maxTokens))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s: %v", ErrExtractionFailed, timeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrExtractionFailed)
	}

	c.log.Debug().
		Str("role", string(role)).
		Int("images", accepted).
		Dur("took", time.Since(start)).
		Msg("Extraction completed")
	return resp.Choices[0].Content, nil
}

func supported(mt *mimetype.MIME) bool {
	for _, t := range supportedFormats {
		if mt.Is(t) {
			return true
		}
	}
	return false
}
