package websocket

import (
	"time"

	"github.com/google/uuid"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventPong       Event = "pong"
	EventSubscribed Event = "subscribed"

	EventEvaluationStarted   Event = "evaluation.started"
	EventEvaluationRetrying  Event = "evaluation.retrying"
	EventEvaluationCompleted Event = "evaluation.completed"
	EventEvaluationFailed    Event = "evaluation.failed"
)

// ProgressEvent reports one step of an evaluation run. It is published on
// the test's progress channel and forwarded verbatim to WebSocket clients.
type ProgressEvent struct {
	Event        Event      `json:"event"`
	TestID       uuid.UUID  `json:"test_id"`
	StudentID    uuid.UUID  `json:"student_id"`
	EvaluationID *uuid.UUID `json:"evaluation_id,omitempty"`
	Attempt      int        `json:"attempt,omitempty"`
	RetryIn      int        `json:"retry_in_seconds,omitempty"`
	Marks        *float64   `json:"marks,omitempty"`
	Percentage   *int       `json:"percentage,omitempty"`
	Message      string     `json:"message,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

type SubscribedResponse struct {
	Event  Event     `json:"event"`
	TestID uuid.UUID `json:"test_id"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
