package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// EvaluationStatus enumerates the states of a grading attempt.
type EvaluationStatus string

const (
	EvaluationStatusPending    EvaluationStatus = "pending"
	EvaluationStatusInProgress EvaluationStatus = "in_progress"
	EvaluationStatusCompleted  EvaluationStatus = "completed"
	EvaluationStatusFailed     EvaluationStatus = "failed"
)

// Outcome is the typed payload stored in paper_evaluations.evaluation_data.
// Exactly one of Pending, InProgress, Completed or Failed; the status column
// is always derived from the concrete type.
type Outcome interface {
	Status() EvaluationStatus
	isOutcome()
}

// Pending is an evaluation row that exists but has not started grading.
type Pending struct{}

// InProgress is a grading run in flight. Error and RetryAttempt are set while
// an automatic retry is waiting.
type InProgress struct {
	Error        string     `json:"error,omitempty"`
	RetryAttempt int        `json:"retry_attempt,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

// Completed holds the grader's per-question results.
type Completed struct {
	Answers []AnswerScore `json:"answers"`
	Summary Summary       `json:"summary"`
}

// Failed is the terminal failure state after retries are exhausted or a
// non-retryable error occurred.
type Failed struct {
	Error            string    `json:"error"`
	RetriesAttempted int       `json:"retries_attempted"`
	Timestamp        time.Time `json:"timestamp"`
}

func (Pending) Status() EvaluationStatus    { return EvaluationStatusPending }
func (InProgress) Status() EvaluationStatus { return EvaluationStatusInProgress }
func (Completed) Status() EvaluationStatus  { return EvaluationStatusCompleted }
func (Failed) Status() EvaluationStatus     { return EvaluationStatusFailed }

func (Pending) isOutcome()    {}
func (InProgress) isOutcome() {}
func (Completed) isOutcome()  {}
func (Failed) isOutcome()     {}

// ScorePair is an [awarded, max] tuple.
type ScorePair [2]float64

func (p ScorePair) Awarded() float64 { return p[0] }
func (p ScorePair) Max() float64     { return p[1] }

// QuestionNo labels a question ("1", "2a"). Graders send it as a string or
// a bare number; both decode to the string form.
type QuestionNo string

func (q *QuestionNo) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*q = QuestionNo(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("question_no: %w", err)
	}
	*q = QuestionNo(n.String())
	return nil
}

// AnswerScore is the grader's verdict on a single question.
type AnswerScore struct {
	QuestionNo QuestionNo `json:"question_no"`
	Question   string     `json:"question,omitempty"`
	Answer     string     `json:"answer,omitempty"`
	Score      ScorePair  `json:"score"`
	Remarks    string     `json:"remarks,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
}

// Summary aggregates all answer scores.
type Summary struct {
	TotalScore ScorePair `json:"totalScore"`
	Percentage int       `json:"percentage"`
}

// UnmarshalJSON accepts a fractional percentage and rounds it.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw struct {
		TotalScore ScorePair `json:"totalScore"`
		Percentage float64   `json:"percentage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.TotalScore = raw.TotalScore
	s.Percentage = int(math.Round(raw.Percentage))
	return nil
}

// Recompute rebuilds the summary from the full answer list.
func (c *Completed) Recompute() {
	var awarded, total float64
	for _, a := range c.Answers {
		awarded += a.Score[0]
		total += a.Score[1]
	}
	c.Summary.TotalScore = ScorePair{awarded, total}
	c.Summary.Percentage = Percentage(awarded, total)
}

// Percentage returns round(100*awarded/max), or 0 when max is 0.
func Percentage(awarded, total float64) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * awarded / total))
}

// Evaluation is the record of one grading attempt for a (test, student) pair.
type Evaluation struct {
	ID        uuid.UUID `json:"id"`
	TestID    uuid.UUID `json:"test_id"`
	StudentID uuid.UUID `json:"student_id"`
	SubjectID uuid.UUID `json:"subject_id"`
	Outcome   Outcome   `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status reports the status derived from the outcome.
func (e *Evaluation) Status() EvaluationStatus {
	if e.Outcome == nil {
		return EvaluationStatusPending
	}
	return e.Outcome.Status()
}

// MarshalJSON renders the evaluation with status and evaluation_data fields.
func (e Evaluation) MarshalJSON() ([]byte, error) {
	type alias Evaluation
	data := e.Outcome
	if data == nil {
		data = Pending{}
	}
	return json.Marshal(struct {
		alias
		Status         EvaluationStatus `json:"status"`
		EvaluationData Outcome          `json:"evaluation_data"`
	}{alias(e), e.Status(), data})
}

// EncodeOutcome serializes an outcome into its status and JSON payload.
func EncodeOutcome(o Outcome) (EvaluationStatus, []byte, error) {
	if o == nil {
		o = Pending{}
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return "", nil, fmt.Errorf("encode evaluation data: %w", err)
	}
	return o.Status(), raw, nil
}

// DecodeOutcome rebuilds a typed outcome from a status and JSON payload.
func DecodeOutcome(status EvaluationStatus, raw []byte) (Outcome, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	switch status {
	case EvaluationStatusPending:
		return Pending{}, nil
	case EvaluationStatusInProgress:
		var o InProgress
		if !empty {
			if err := json.Unmarshal(raw, &o); err != nil {
				return nil, fmt.Errorf("decode in-progress data: %w", err)
			}
		}
		return o, nil
	case EvaluationStatusCompleted:
		var o Completed
		if empty {
			return nil, fmt.Errorf("completed evaluation has no data")
		}
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode completed data: %w", err)
		}
		return o, nil
	case EvaluationStatusFailed:
		var o Failed
		if !empty {
			if err := json.Unmarshal(raw, &o); err != nil {
				return nil, fmt.Errorf("decode failed data: %w", err)
			}
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown evaluation status %q", status)
	}
}

// SetScoreRequest is the payload for overriding a single question score.
type SetScoreRequest struct {
	Score *float64 `json:"score" binding:"required"`
}

// EvaluateBatchRequest queues evaluation for several students of one test.
type EvaluateBatchRequest struct {
	SubjectID  uuid.UUID   `json:"subject_id" binding:"required"`
	StudentIDs []uuid.UUID `json:"student_ids" binding:"required,min=1,max=200"`
}

// EvaluateSingleRequest triggers a synchronous evaluation of one student.
type EvaluateSingleRequest struct {
	SubjectID uuid.UUID `json:"subject_id" binding:"required"`
}

// ResetRequest scopes an evaluation reset.
type ResetRequest struct {
	SubjectID uuid.UUID  `json:"subject_id" binding:"required"`
	TestID    *uuid.UUID `json:"test_id"`
}

// EvaluationJob is a queued batch run for several students of one test.
type EvaluationJob struct {
	TestID     uuid.UUID   `json:"test_id"`
	SubjectID  uuid.UUID   `json:"subject_id"`
	StudentIDs []uuid.UUID `json:"student_ids"`
	QueuedAt   time.Time   `json:"queued_at"`
}
