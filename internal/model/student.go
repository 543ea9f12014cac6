package model

import "github.com/google/uuid"

// Student is the identity passed to the grader.
type Student struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	RollNumber string    `json:"roll_number"`
	ClassName  string    `json:"class"`
}

// Test is the minimal view of a test needed by the evaluation pipeline.
type Test struct {
	ID          uuid.UUID `json:"id"`
	SubjectID   uuid.UUID `json:"subject_id"`
	SubjectName string    `json:"subject_name"`
	Title       string    `json:"title"`
}
