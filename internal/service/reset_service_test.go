package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/model"
)

type resetFixture struct {
	db       *memDB
	svc      *ResetService
	subject  uuid.UUID
	t1, t2   uuid.UUID
	student  uuid.UUID
	other    uuid.UUID
	otherSub uuid.UUID
}

func newResetFixture() *resetFixture {
	f := &resetFixture{
		db:       newMemDB(),
		subject:  uuid.New(),
		t1:       uuid.New(),
		t2:       uuid.New(),
		student:  uuid.New(),
		other:    uuid.New(),
		otherSub: uuid.New(),
	}
	f.db.tests[f.t1] = &model.Test{ID: f.t1, SubjectID: f.subject}
	f.db.tests[f.t2] = &model.Test{ID: f.t2, SubjectID: f.subject}

	for _, test := range []uuid.UUID{f.t1, f.t2} {
		for _, student := range []uuid.UUID{f.student, f.other} {
			ev := &model.Evaluation{ID: uuid.New(), TestID: test, StudentID: student, SubjectID: f.subject, Outcome: model.Completed{}}
			f.db.evaluations[ev.ID] = ev
			f.db.grades[pair{test, student}] = &model.TestGrade{TestID: test, StudentID: student, Marks: 9, Remarks: "AI evaluated: 9/10 (90%)"}
		}
	}
	f.svc = NewResetService(evalStore{f.db}, gradeStore{f.db}, testStore{f.db}, zerolog.Nop())
	return f
}

func (f *resetFixture) hasEvaluation(test, student uuid.UUID) bool {
	for _, e := range f.db.evaluations {
		if e.TestID == test && e.StudentID == student {
			return true
		}
	}
	return false
}

func TestResetEvaluationsScopedToTest(t *testing.T) {
	f := newResetFixture()

	report := f.svc.ResetEvaluations(context.Background(), f.student, f.subject, &f.t1)
	if len(report.Errors) != 0 {
		t.Fatalf("errors: %v", report.Errors)
	}
	if report.EvaluationsDeleted != 1 || report.GradesReset != 1 {
		t.Errorf("report = %+v", report)
	}

	if f.hasEvaluation(f.t1, f.student) {
		t.Error("evaluation for reset test survived")
	}
	if !f.hasEvaluation(f.t2, f.student) {
		t.Error("evaluation for another test was deleted")
	}
	if !f.hasEvaluation(f.t1, f.other) {
		t.Error("another student's evaluation was deleted")
	}

	g := f.db.grades[pair{f.t1, f.student}]
	if g == nil {
		t.Fatal("grade row deleted, want it kept and zeroed")
	}
	if g.Marks != 0 || g.Remarks != ResetRemark {
		t.Errorf("grade = %+v", g)
	}
	if f.db.grades[pair{f.t2, f.student}].Marks != 9 {
		t.Error("grade of another test was reset")
	}
}

func TestResetEvaluationsWholeSubject(t *testing.T) {
	f := newResetFixture()
	foreign := uuid.New()
	f.db.tests[foreign] = &model.Test{ID: foreign, SubjectID: f.otherSub}
	ev := &model.Evaluation{ID: uuid.New(), TestID: foreign, StudentID: f.student, Outcome: model.Completed{}}
	f.db.evaluations[ev.ID] = ev

	report := f.svc.ResetEvaluations(context.Background(), f.student, f.subject, nil)
	if report.EvaluationsDeleted != 2 || report.GradesReset != 2 || len(report.TestIDs) != 2 {
		t.Errorf("report = %+v", report)
	}
	if f.hasEvaluation(f.t1, f.student) || f.hasEvaluation(f.t2, f.student) {
		t.Error("subject evaluations survived")
	}
	if !f.hasEvaluation(foreign, f.student) {
		t.Error("evaluation of another subject was deleted")
	}
}

func TestResetEvaluationsNeverFails(t *testing.T) {
	f := newResetFixture()
	f.db.failDeleteEvals = errors.New("deadlock detected")

	report := f.svc.ResetEvaluations(context.Background(), f.student, f.subject, &f.t1)
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v, want one", report.Errors)
	}
	if report.GradesReset != 1 {
		t.Error("grade reset skipped after evaluation delete failure")
	}
}

func TestResetEvaluationsSubjectWithoutTests(t *testing.T) {
	f := newResetFixture()
	report := f.svc.ResetEvaluations(context.Background(), f.student, uuid.New(), nil)
	if report.EvaluationsDeleted != 0 || report.GradesReset != 0 || len(report.Errors) != 0 {
		t.Errorf("report = %+v", report)
	}
}
