package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/storage"
	ws "github.com/stemsi/exstem-grader/internal/websocket"
)

// Domain Errors
var (
	ErrNoAnswerSheet       = errors.New("no answer sheet uploaded for this student and test")
	ErrPapersMissing       = errors.New("question paper or answer key missing for this test")
	ErrEvaluationBusy      = errors.New("an evaluation for this student and test is already running")
	ErrEvaluationDeleted   = errors.New("evaluation was deleted while grading")
	ErrEvaluationNotFound  = errors.New("evaluation not found")
	ErrGradebookSyncFailed = errors.New("gradebook update failed")
)

const (
	DefaultMaxRetries     = 2
	DefaultRetryBase      = 5 * time.Second
	DefaultGradingTimeout = 300 * time.Second

	// lockMargin covers the download, rasterize and bundle work around the
	// grading calls.
	lockMargin = 5 * time.Minute

	bundleCategory = "answerSheet"
)

// EvaluateRequest identifies the student, test and subject to grade.
type EvaluateRequest struct {
	StudentID uuid.UUID
	TestID    uuid.UUID
	SubjectID uuid.UUID
}

// EvaluationDeps are the collaborators of EvaluationService.
type EvaluationDeps struct {
	Evaluations EvaluationStore
	Grades      GradeStore
	Answers     AnswerStore
	Documents   DocumentStore
	Tests       TestStore
	Students    StudentStore
	Grader      grading.Grader
	Fetcher     Downloader
	Rasterizer  PageRasterizer
	Packager    BundlePackager
	Locker      Locker
	Progress    ProgressNotifier
}

// EvaluationOptions tunes retries and locking. LockTTL is raised to
// MinLockTTL when shorter, so the lock outlives a run with every retry.
type EvaluationOptions struct {
	MaxRetries     int
	RetryBase      time.Duration
	GradingTimeout time.Duration
	LockTTL        time.Duration
}

// MinLockTTL is the longest a single evaluation can hold its lock: every
// grading attempt timing out, the backoff between them, plus lockMargin.
func (o EvaluationOptions) MinLockTTL() time.Duration {
	ttl := time.Duration(o.MaxRetries+1) * o.GradingTimeout
	for attempt := 1; attempt <= o.MaxRetries; attempt++ {
		ttl += o.RetryBase * time.Duration(1<<(attempt-1))
	}
	return ttl + lockMargin
}

// EvaluationService drives answer sheets through AI grading.
type EvaluationService struct {
	EvaluationDeps
	opts  EvaluationOptions
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   zerolog.Logger
}

// NewEvaluationService creates a new EvaluationService. Locker and Progress
// may be nil.
func NewEvaluationService(deps EvaluationDeps, opts EvaluationOptions, log zerolog.Logger) *EvaluationService {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.GradingTimeout <= 0 {
		opts.GradingTimeout = DefaultGradingTimeout
	}
	if floor := opts.MinLockTTL(); opts.LockTTL < floor {
		opts.LockTTL = floor
	}
	return &EvaluationService{
		EvaluationDeps: deps,
		opts:           opts,
		now:            time.Now,
		sleep:          sleepCtx,
		log:            log.With().Str("component", "evaluation_service").Logger(),
	}
}

// gradingInputs is everything resolved before the grading call.
type gradingInputs struct {
	questionPaper *model.Document
	answerKey     *model.Document
	answer        *model.TestAnswer
	student       *model.Student
	test          *model.Test
}

// Evaluate grades one student's answer sheet for a test. Retryable grading
// failures are retried up to MaxRetries times with exponential backoff; rc
// carries the per-student retry counters and the updated value is returned.
func (s *EvaluationService) Evaluate(ctx context.Context, req EvaluateRequest, rc RetryContext) (*model.Evaluation, RetryContext, error) {
	log := s.log.With().
		Str("test_id", req.TestID.String()).
		Str("student_id", req.StudentID.String()).
		Logger()

	// 1. Resolve inputs before touching any evaluation row.
	in, err := s.resolveInputs(ctx, req)
	if err != nil {
		return nil, rc, err
	}

	if s.Locker != nil {
		key := config.CacheKey.EvaluationLockKey(req.TestID.String(), req.StudentID.String())
		unlock, err := s.Locker.TryLock(ctx, key, s.opts.LockTTL)
		if err != nil {
			if errors.Is(err, ErrLockHeld) {
				return nil, rc, ErrEvaluationBusy
			}
			return nil, rc, err
		}
		defer unlock()
	}

	// 2. Lookup-or-create the row as in_progress.
	ev, err := s.Evaluations.Begin(ctx, req.TestID, req.StudentID, req.SubjectID)
	if err != nil {
		return nil, rc, fmt.Errorf("begin evaluation: %w", err)
	}
	log.Info().Str("evaluation_id", ev.ID.String()).Msg("Evaluation started")
	s.publish(ctx, ev, ws.ProgressEvent{Event: ws.EventEvaluationStarted})

	// 3. Advisory page bundle.
	zipURL := s.deriveBundle(ctx, log, in.answer)

	for {
		attempt := rc.Attempts(req.StudentID)

		// 4. Cache-bust every URL handed downstream.
		now := s.now()
		gradeReq := grading.Request{
			QuestionPaper: grading.DocumentRef{URL: storage.CacheBust(in.questionPaper.URL, now), Topic: in.questionPaper.Label},
			AnswerKey:     grading.DocumentRef{URL: storage.CacheBust(in.answerKey.URL, now), Topic: in.answerKey.Label},
			StudentAnswer: grading.StudentAnswer{
				URL:    storage.CacheBust(in.answer.AnswerSheetURL, now),
				ZipURL: storage.CacheBust(zipURL, now),
			},
			StudentInfo: grading.StudentInfo{
				ID:         in.student.ID,
				Name:       in.student.Name,
				RollNumber: in.student.RollNumber,
				Class:      in.student.ClassName,
				Subject:    in.test.SubjectName,
			},
			TestID:       req.TestID,
			RetryAttempt: attempt,
		}

		// 5. Invoke the grading function.
		result, gradeErr := s.Grader.Grade(ctx, gradeReq)
		if gradeErr == nil {
			// 6. Persist the result.
			return s.complete(ctx, log, ev, in, result, rc)
		}

		// 7. Classify the failure.
		if ctx.Err() != nil {
			s.abandon(ctx, log, ev, attempt)
			return ev, rc.Clear(req.StudentID), ctx.Err()
		}

		if !grading.IsRetryable(gradeErr) || attempt >= s.opts.MaxRetries {
			return s.fail(ctx, log, ev, gradeErr, attempt, rc)
		}

		attempt++
		rc = rc.WithAttempt(req.StudentID, attempt)
		ts := s.now()
		if err := s.Evaluations.SaveOutcome(ctx, ev.ID, model.InProgress{
			Error:        gradeErr.Error(),
			RetryAttempt: attempt,
			Timestamp:    &ts,
		}); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, rc.Clear(req.StudentID), ErrEvaluationDeleted
			}
			return ev, rc.Clear(req.StudentID), fmt.Errorf("save retry state: %w", err)
		}

		delay := s.opts.RetryBase * time.Duration(1<<(attempt-1))
		log.Warn().Err(gradeErr).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Retryable grading failure")
		s.publish(ctx, ev, ws.ProgressEvent{
			Event:   ws.EventEvaluationRetrying,
			Attempt: attempt,
			RetryIn: int(delay / time.Second),
			Message: "retrying in " + strconv.Itoa(int(delay/time.Second)) + "s",
		})

		if err := s.sleep(ctx, delay); err != nil {
			s.abandon(ctx, log, ev, attempt)
			return ev, rc.Clear(req.StudentID), err
		}

		// The sheet may have been re-uploaded while we waited.
		answer, err := s.Answers.Get(ctx, req.StudentID, req.SubjectID, req.TestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				err = ErrNoAnswerSheet
			}
			return s.fail(ctx, log, ev, err, attempt, rc)
		}
		if answer.AnswerSheetURL != in.answer.AnswerSheetURL {
			zipURL = s.deriveBundle(ctx, log, answer)
		}
		in.answer = answer
	}
}

func (s *EvaluationService) resolveInputs(ctx context.Context, req EvaluateRequest) (*gradingInputs, error) {
	answer, err := s.Answers.Get(ctx, req.StudentID, req.SubjectID, req.TestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoAnswerSheet
		}
		return nil, fmt.Errorf("get answer sheet: %w", err)
	}

	qp, err := s.Documents.LatestByRole(ctx, req.TestID, model.RoleQuestionPaper)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPapersMissing
		}
		return nil, fmt.Errorf("get question paper: %w", err)
	}
	ak, err := s.Documents.LatestByRole(ctx, req.TestID, model.RoleAnswerKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPapersMissing
		}
		return nil, fmt.Errorf("get answer key: %w", err)
	}

	student, err := s.Students.Get(ctx, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	test, err := s.Tests.Get(ctx, req.TestID)
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}

	return &gradingInputs{questionPaper: qp, answerKey: ak, answer: answer, student: student, test: test}, nil
}

// deriveBundle packages a PDF answer sheet into a page bundle. Any failure
// only costs the grader a faster input path, so it is logged and ignored.
func (s *EvaluationService) deriveBundle(ctx context.Context, log zerolog.Logger, answer *model.TestAnswer) string {
	if s.Fetcher == nil || s.Rasterizer == nil || s.Packager == nil {
		return ""
	}

	data, err := s.Fetcher.Fetch(ctx, answer.AnswerSheetURL)
	if err != nil {
		log.Warn().Err(err).Msg("Bundle skipped: answer sheet download failed")
		return ""
	}
	if rasterizer.DetectKind(data) != rasterizer.KindPDF {
		return ""
	}
	pages, err := s.Rasterizer.Rasterize(ctx, data, rasterizer.KindPDF)
	if err != nil {
		log.Warn().Err(err).Msg("Bundle skipped: rasterization failed")
		return ""
	}
	url, err := s.Packager.PackageAndStore(ctx, pages, answer.StudentID.String()+"_"+answer.TestID.String(), bundleCategory)
	if err != nil {
		log.Warn().Err(err).Msg("Bundle skipped: packaging failed")
		return ""
	}
	return url
}

func (s *EvaluationService) complete(
	ctx context.Context,
	log zerolog.Logger,
	ev *model.Evaluation,
	in *gradingInputs,
	result *grading.Result,
	rc RetryContext,
) (*model.Evaluation, RetryContext, error) {
	rc = rc.Clear(ev.StudentID)

	outcome := model.Completed{Answers: result.Answers, Summary: result.Summary}
	if err := s.Evaluations.SaveOutcome(ctx, ev.ID, outcome); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, rc, ErrEvaluationDeleted
		}
		return ev, rc, fmt.Errorf("save evaluation result: %w", err)
	}
	ev.Outcome = outcome
	ev.UpdatedAt = s.now()

	total := result.Summary.TotalScore
	remark := GradeRemark("AI evaluated", total, result.Summary.Percentage)
	if err := s.Grades.Upsert(ctx, ev.TestID, ev.StudentID, total.Awarded(), remark); err != nil {
		log.Error().Err(err).Msg("Gradebook sync failed, grade sync worker will repair it")
	}

	if result.Text != "" {
		if err := s.Answers.SetText(ctx, in.answer.StudentID, in.answer.TestID, result.Text); err != nil {
			log.Warn().Err(err).Msg("Failed to store extracted answer text")
		}
	}

	marks, pct := total.Awarded(), result.Summary.Percentage
	s.publish(ctx, ev, ws.ProgressEvent{
		Event:      ws.EventEvaluationCompleted,
		Marks:      &marks,
		Percentage: &pct,
	})
	log.Info().
		Float64("marks", total.Awarded()).
		Float64("max", total.Max()).
		Msg("Evaluation completed")
	return ev, rc, nil
}

func (s *EvaluationService) fail(
	ctx context.Context,
	log zerolog.Logger,
	ev *model.Evaluation,
	cause error,
	retries int,
	rc RetryContext,
) (*model.Evaluation, RetryContext, error) {
	rc = rc.Clear(ev.StudentID)

	outcome := model.Failed{Error: cause.Error(), RetriesAttempted: retries, Timestamp: s.now()}
	if err := s.Evaluations.SaveOutcome(ctx, ev.ID, outcome); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, rc, ErrEvaluationDeleted
		}
		log.Error().Err(err).Msg("Failed to record evaluation failure")
	} else {
		ev.Outcome = outcome
	}

	s.publish(ctx, ev, ws.ProgressEvent{
		Event:   ws.EventEvaluationFailed,
		Attempt: retries,
		Message: cause.Error(),
	})
	log.Error().Err(cause).Int("retries_attempted", retries).Msg("Evaluation failed")
	return ev, rc, fmt.Errorf("evaluate student %s: %w", ev.StudentID, cause)
}

// abandon marks a cancelled run as failed so it does not stay in_progress.
func (s *EvaluationService) abandon(ctx context.Context, log zerolog.Logger, ev *model.Evaluation, retries int) {
	outcome := model.Failed{Error: "evaluation cancelled", RetriesAttempted: retries, Timestamp: s.now()}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Evaluations.SaveOutcome(saveCtx, ev.ID, outcome); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Warn().Err(err).Msg("Failed to record cancelled evaluation")
		return
	}
	ev.Outcome = outcome
	log.Warn().Msg("Evaluation cancelled")
}

func (s *EvaluationService) publish(ctx context.Context, ev *model.Evaluation, pe ws.ProgressEvent) {
	if s.Progress == nil {
		return
	}
	id := ev.ID
	pe.TestID = ev.TestID
	pe.StudentID = ev.StudentID
	pe.EvaluationID = &id
	pe.Timestamp = s.now()
	s.Progress.Publish(ctx, pe)
}

// ─── Batch ──────────────────────────────────────────────────────────

// BatchResult is the outcome of one student in a batch run.
type BatchResult struct {
	StudentID    uuid.UUID              `json:"student_id"`
	EvaluationID *uuid.UUID             `json:"evaluation_id,omitempty"`
	Status       model.EvaluationStatus `json:"status,omitempty"`
	Error        string                 `json:"error,omitempty"`
	// Interrupted marks a run stopped by cancellation; it needs grading again.
	Interrupted bool `json:"interrupted,omitempty"`
}

// EvaluateBatch grades students one after another with a shared
// RetryContext. A failing student never stops the batch; cancelling ctx
// stops it before the next student.
func (s *EvaluationService) EvaluateBatch(ctx context.Context, testID, subjectID uuid.UUID, studentIDs []uuid.UUID) ([]BatchResult, error) {
	rc := NewRetryContext()
	results := make([]BatchResult, 0, len(studentIDs))

	for _, studentID := range studentIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		var (
			ev  *model.Evaluation
			err error
		)
		ev, rc, err = s.Evaluate(ctx, EvaluateRequest{StudentID: studentID, TestID: testID, SubjectID: subjectID}, rc)

		res := BatchResult{StudentID: studentID}
		if ev != nil {
			id := ev.ID
			res.EvaluationID = &id
			res.Status = ev.Status()
		}
		if err != nil {
			res.Error = err.Error()
			res.Interrupted = ctx.Err() != nil && errors.Is(err, ctx.Err())
		}
		results = append(results, res)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	s.log.Info().
		Str("test_id", testID.String()).
		Int("students", len(studentIDs)).
		Msg("Batch evaluation finished")
	return results, nil
}

// ─── Queries & deletion ─────────────────────────────────────────────

// Get retrieves an evaluation by its ID.
func (s *EvaluationService) Get(ctx context.Context, id uuid.UUID) (*model.Evaluation, error) {
	ev, err := s.Evaluations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEvaluationNotFound
		}
		return nil, err
	}
	return ev, nil
}

// ListByTest retrieves one page of a test's evaluations and the total
// number of evaluations for the test.
func (s *EvaluationService) ListByTest(ctx context.Context, testID uuid.UUID, limit, offset int) ([]model.Evaluation, int, error) {
	evs, total, err := s.Evaluations.ListByTestPaginated(ctx, testID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if evs == nil {
		evs = []model.Evaluation{}
	}
	return evs, total, nil
}

// Delete permanently removes an evaluation and its gradebook row. An
// in-flight run for the pair stops at its next write. The gradebook delete
// failing returns ErrGradebookSyncFailed after the evaluation is gone.
func (s *EvaluationService) Delete(ctx context.Context, id uuid.UUID) error {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Evaluations.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrEvaluationNotFound
		}
		return fmt.Errorf("delete evaluation: %w", err)
	}
	if err := s.Grades.Delete(ctx, ev.TestID, ev.StudentID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Error().Err(err).Str("evaluation_id", id.String()).Msg("Failed to delete grade row")
		return fmt.Errorf("%w: %v", ErrGradebookSyncFailed, err)
	}
	s.log.Info().
		Str("evaluation_id", id.String()).
		Str("student_id", ev.StudentID.String()).
		Msg("Evaluation deleted")
	return nil
}

// GradeRemark formats the gradebook remark, e.g. "AI evaluated: 13/15 (87%)".
func GradeRemark(prefix string, total model.ScorePair, percentage int) string {
	return fmt.Sprintf("%s: %s/%s (%d%%)", prefix, formatScore(total.Awarded()), formatScore(total.Max()), percentage)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
