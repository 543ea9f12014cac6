package service

import "github.com/google/uuid"

// RetryContext tracks automatic grading retries per student for one batch
// run. It is a value: every change returns a new RetryContext and leaves the
// receiver untouched.
type RetryContext struct {
	attempts map[uuid.UUID]int
}

// NewRetryContext returns an empty RetryContext.
func NewRetryContext() RetryContext {
	return RetryContext{}
}

// Attempts returns the retries already made for studentID.
func (r RetryContext) Attempts(studentID uuid.UUID) int {
	return r.attempts[studentID]
}

// WithAttempt returns a copy with studentID's counter set to n.
func (r RetryContext) WithAttempt(studentID uuid.UUID, n int) RetryContext {
	next := r.clone()
	next.attempts[studentID] = n
	return next
}

// Clear returns a copy without a counter for studentID.
func (r RetryContext) Clear(studentID uuid.UUID) RetryContext {
	if _, ok := r.attempts[studentID]; !ok {
		return r
	}
	next := r.clone()
	delete(next.attempts, studentID)
	return next
}

func (r RetryContext) clone() RetryContext {
	m := make(map[uuid.UUID]int, len(r.attempts)+1)
	for k, v := range r.attempts {
		m[k] = v
	}
	return RetryContext{attempts: m}
}
