package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/storage"
	"github.com/stemsi/exstem-grader/internal/validator"
	ws "github.com/stemsi/exstem-grader/internal/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

// ─── Stubs ──────────────────────────────────────────────────────────

type stubRunner struct {
	ev       *model.Evaluation
	err      error
	deleted  []uuid.UUID
	lastReq  service.EvaluateRequest
	list     []model.Evaluation
	listErr  error
	limit    int
	offset   int
	deleteFn func(uuid.UUID) error
}

func (s *stubRunner) Evaluate(_ context.Context, req service.EvaluateRequest, rc service.RetryContext) (*model.Evaluation, service.RetryContext, error) {
	s.lastReq = req
	return s.ev, rc, s.err
}

func (s *stubRunner) Get(_ context.Context, id uuid.UUID) (*model.Evaluation, error) {
	if s.ev == nil || s.ev.ID != id {
		return nil, service.ErrEvaluationNotFound
	}
	return s.ev, nil
}

func (s *stubRunner) ListByTest(_ context.Context, _ uuid.UUID, limit, offset int) ([]model.Evaluation, int, error) {
	s.limit, s.offset = limit, offset
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	list := s.list
	if list == nil {
		list = []model.Evaluation{*s.ev}
	}
	if offset >= len(list) {
		return []model.Evaluation{}, len(list), nil
	}
	end := min(offset+limit, len(list))
	return list[offset:end], len(list), nil
}

func (s *stubRunner) Delete(_ context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	if s.deleteFn != nil {
		return s.deleteFn(id)
	}
	return nil
}

type stubScores struct {
	upd   *service.ScoreUpdate
	err   error
	index int
	score float64
}

func (s *stubScores) SetQuestionScore(_ context.Context, _ uuid.UUID, index int, score float64) (*service.ScoreUpdate, error) {
	s.index, s.score = index, score
	return s.upd, s.err
}

type stubResetter struct {
	testID *uuid.UUID
}

func (s *stubResetter) ResetEvaluations(_ context.Context, studentID, _ uuid.UUID, testID *uuid.UUID) service.ResetReport {
	s.testID = testID
	return service.ResetReport{StudentID: studentID, EvaluationsDeleted: 1, GradesReset: 1}
}

type stubQueue struct {
	jobs []model.EvaluationJob
	err  error
}

func (q *stubQueue) Enqueue(_ context.Context, job model.EvaluationJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type stubDocuments struct {
	upload  service.DocumentUpload
	content string
	err     error
}

func (s *stubDocuments) UploadDocument(_ context.Context, up service.DocumentUpload) (*model.Document, error) {
	s.upload = up
	body, _ := io.ReadAll(up.File)
	s.content = string(body)
	if s.err != nil {
		return nil, s.err
	}
	return &model.Document{ID: uuid.New(), OwnerID: up.OwnerID, Role: up.Role, Label: up.Label}, nil
}

func (s *stubDocuments) ListDocuments(context.Context, uuid.UUID) ([]model.Document, error) {
	return []model.Document{}, nil
}

func (s *stubDocuments) ExtractDocument(_ context.Context, id, _ uuid.UUID) (*model.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.Document{ID: id}, nil
}

func (s *stubDocuments) SetDocumentText(_ context.Context, id, _ uuid.UUID, text string) (*model.Document, error) {
	return &model.Document{ID: id, OCRText: &text}, s.err
}

func (s *stubDocuments) DeleteDocument(context.Context, uuid.UUID, uuid.UUID) error {
	return s.err
}

type stubAnswers struct {
	up service.AnswerUpload
}

func (s *stubAnswers) UploadAnswerSheet(_ context.Context, up service.AnswerUpload) (*service.AnswerUploadResult, error) {
	s.up = up
	return &service.AnswerUploadResult{Answer: &model.TestAnswer{StudentID: up.StudentID, TestID: up.TestID}}, nil
}

func (s *stubAnswers) GetAnswerSheet(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (*model.TestAnswer, error) {
	return nil, service.ErrAnswerNotFound
}

type stubExtractor struct {
	res *model.ExtractionResult
	err error
}

func (s *stubExtractor) Extract(context.Context, model.ExtractionRequest) (*model.ExtractionResult, error) {
	return s.res, s.err
}

type stubSubscriber struct {
	msgs   chan *redis.Message
	closed chan struct{}
}

func (s *stubSubscriber) Subscribe(context.Context, uuid.UUID) (<-chan *redis.Message, io.Closer, error) {
	return s.msgs, s, nil
}

func (s *stubSubscriber) Close() error {
	close(s.closed)
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Detail string            `json:"detail"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return env
}

func withClaims(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: userID, TokenType: service.TokenTypeTeacher})
		c.Next()
	}
}

func do(r http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "sheet.pdf")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(file)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func evaluationRouter(runner *stubRunner, scores *stubScores, reset *stubResetter, queue *stubQueue) *gin.Engine {
	h := NewEvaluationHandler(runner, scores, reset, queue, zerolog.Nop())
	r := gin.New()
	r.POST("/tests/:test_id/evaluations", h.EvaluateBatch)
	r.POST("/tests/:test_id/students/:student_id/evaluate", h.EvaluateStudent)
	r.GET("/tests/:test_id/evaluations", h.ListByTest)
	r.GET("/evaluations/:id", h.Get)
	r.DELETE("/evaluations/:id", h.Delete)
	r.PATCH("/evaluations/:id/answers/:index", h.SetQuestionScore)
	r.POST("/students/:student_id/reset", h.ResetStudent)
	return r
}

// ─── Evaluation ─────────────────────────────────────────────────────

func TestEvaluateBatchQueuesJob(t *testing.T) {
	queue := &stubQueue{}
	r := evaluationRouter(&stubRunner{}, &stubScores{}, &stubResetter{}, queue)
	testID, subjectID, s1, s2 := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	body := fmt.Sprintf(`{"subject_id":%q,"student_ids":[%q,%q]}`, subjectID, s1, s2)
	w := do(r, http.MethodPost, "/tests/"+testID.String()+"/evaluations", body)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("queued %d jobs", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.TestID != testID || job.SubjectID != subjectID || len(job.StudentIDs) != 2 || job.StudentIDs[1] != s2 {
		t.Errorf("job = %+v", job)
	}
}

func TestEvaluateBatchValidation(t *testing.T) {
	queue := &stubQueue{}
	r := evaluationRouter(&stubRunner{}, &stubScores{}, &stubResetter{}, queue)

	w := do(r, http.MethodPost, "/tests/"+uuid.NewString()+"/evaluations", fmt.Sprintf(`{"subject_id":%q,"student_ids":[]}`, uuid.New()))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	env := decode(t, w)
	if env.Error.Code != "VALIDATION_ERROR" || env.Error.Fields["student_ids"] == "" {
		t.Errorf("error = %+v", env.Error)
	}

	w = do(r, http.MethodPost, "/tests/not-a-uuid/evaluations", `{}`)
	if w.Code != http.StatusBadRequest || decode(t, w).Error.Code != "INVALID_ID" {
		t.Errorf("bad test id: %d %s", w.Code, w.Body.String())
	}
	if len(queue.jobs) != 0 {
		t.Error("invalid request was queued")
	}
}

func TestEvaluateStudentErrors(t *testing.T) {
	failed := &model.Evaluation{ID: uuid.New(), Outcome: model.Failed{Error: "boom"}}
	gradeErr := fmt.Errorf("evaluate student: %w", &grading.Error{Kind: grading.KindFatal, Status: 500, Message: "model crashed"})

	tests := []struct {
		name   string
		ev     *model.Evaluation
		err    error
		status int
		code   string
	}{
		{"no answer sheet", nil, service.ErrNoAnswerSheet, http.StatusUnprocessableEntity, "NO_ANSWER_SHEET"},
		{"papers missing", nil, service.ErrPapersMissing, http.StatusUnprocessableEntity, "PAPERS_MISSING"},
		{"busy", nil, service.ErrEvaluationBusy, http.StatusConflict, "EVALUATION_IN_PROGRESS"},
		{"deleted", nil, service.ErrEvaluationDeleted, http.StatusConflict, "EVALUATION_DELETED"},
		{"grading failed", failed, gradeErr, http.StatusBadGateway, "EVALUATION_FAILED"},
		{"database", nil, errors.New("conn reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := evaluationRouter(&stubRunner{ev: tt.ev, err: tt.err}, &stubScores{}, &stubResetter{}, &stubQueue{})
			path := fmt.Sprintf("/tests/%s/students/%s/evaluate", uuid.New(), uuid.New())
			w := do(r, http.MethodPost, path, fmt.Sprintf(`{"subject_id":%q}`, uuid.New()))

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			env := decode(t, w)
			if env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("error = %+v, want %s", env.Error, tt.code)
			}
			if tt.status == http.StatusBadGateway && !strings.Contains(env.Error.Detail, "model crashed") {
				t.Errorf("detail = %q", env.Error.Detail)
			}
			if tt.status == http.StatusInternalServerError && (env.Error.Detail != "" || env.Error.Fields != nil) {
				t.Error("internal error leaked details")
			}
		})
	}
}

func TestEvaluateStudentSuccess(t *testing.T) {
	c := model.Completed{Answers: []model.AnswerScore{{QuestionNo: "1", Score: model.ScorePair{13, 15}}}}
	c.Recompute()
	ev := &model.Evaluation{ID: uuid.New(), Outcome: c}
	runner := &stubRunner{ev: ev}
	r := evaluationRouter(runner, &stubScores{}, &stubResetter{}, &stubQueue{})
	testID, studentID, subjectID := uuid.New(), uuid.New(), uuid.New()

	w := do(r, http.MethodPost, fmt.Sprintf("/tests/%s/students/%s/evaluate", testID, studentID), fmt.Sprintf(`{"subject_id":%q}`, subjectID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if runner.lastReq != (service.EvaluateRequest{StudentID: studentID, TestID: testID, SubjectID: subjectID}) {
		t.Errorf("request = %+v", runner.lastReq)
	}
	if !strings.Contains(w.Body.String(), `"status":"completed"`) || !strings.Contains(w.Body.String(), `"percentage":87`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListByTestPaginates(t *testing.T) {
	list := make([]model.Evaluation, 5)
	for i := range list {
		list[i] = model.Evaluation{ID: uuid.New()}
	}
	runner := &stubRunner{list: list}
	r := evaluationRouter(runner, &stubScores{}, &stubResetter{}, &stubQueue{})

	w := do(r, http.MethodGet, "/tests/"+uuid.NewString()+"/evaluations?page=2&per_page=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if runner.limit != 2 || runner.offset != 2 {
		t.Errorf("store asked for limit %d offset %d, want 2 and 2", runner.limit, runner.offset)
	}

	var body struct {
		Data struct {
			Evaluations []struct {
				ID uuid.UUID `json:"id"`
			} `json:"evaluations"`
		} `json:"data"`
		Pagination struct {
			Page       int `json:"page"`
			TotalItems int `json:"total_items"`
			TotalPages int `json:"total_pages"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data.Evaluations) != 2 || body.Data.Evaluations[0].ID != list[2].ID {
		t.Errorf("page 2 = %+v", body.Data.Evaluations)
	}
	if body.Pagination.Page != 2 || body.Pagination.TotalItems != 5 || body.Pagination.TotalPages != 3 {
		t.Errorf("pagination = %+v", body.Pagination)
	}

	w = do(r, http.MethodGet, "/tests/"+uuid.NewString()+"/evaluations?page=9", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"evaluations":[]`) {
		t.Errorf("past last page: %d %s", w.Code, w.Body.String())
	}
	if runner.limit != 50 || runner.offset != 400 {
		t.Errorf("default page size: limit %d offset %d", runner.limit, runner.offset)
	}

	w = do(r, http.MethodGet, "/tests/"+uuid.NewString()+"/evaluations?per_page=5000", "")
	if w.Code != http.StatusOK || runner.limit != 200 {
		t.Errorf("per_page not capped: limit %d", runner.limit)
	}
}

func TestDeleteEvaluation(t *testing.T) {
	ev := &model.Evaluation{ID: uuid.New()}

	t.Run("gradebook failure is reported, not an error", func(t *testing.T) {
		runner := &stubRunner{ev: ev, deleteFn: func(uuid.UUID) error {
			return fmt.Errorf("%w: timeout", service.ErrGradebookSyncFailed)
		}}
		r := evaluationRouter(runner, &stubScores{}, &stubResetter{}, &stubQueue{})
		w := do(r, http.MethodDelete, "/evaluations/"+ev.ID.String(), "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"grade_synced":false`) {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	t.Run("not found", func(t *testing.T) {
		runner := &stubRunner{deleteFn: func(uuid.UUID) error { return service.ErrEvaluationNotFound }}
		r := evaluationRouter(runner, &stubScores{}, &stubResetter{}, &stubQueue{})
		w := do(r, http.MethodDelete, "/evaluations/"+uuid.NewString(), "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d", w.Code)
		}
	})
}

func TestSetQuestionScoreHandler(t *testing.T) {
	id := uuid.New()
	saved := &service.ScoreUpdate{Evaluation: &model.Evaluation{ID: id}}

	tests := []struct {
		name   string
		path   string
		body   string
		scores *stubScores
		status int
		want   string
	}{
		{"degraded success", "/evaluations/" + id.String() + "/answers/1", `{"score":4.5}`,
			&stubScores{upd: saved, err: service.ErrGradebookSyncFailed}, http.StatusOK, `"grade_synced":false`},
		{"non numeric index", "/evaluations/" + id.String() + "/answers/first", `{"score":1}`,
			&stubScores{}, http.StatusBadRequest, "QUESTION_INDEX_OUT_OF_RANGE"},
		{"missing score", "/evaluations/" + id.String() + "/answers/0", `{}`,
			&stubScores{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not completed", "/evaluations/" + id.String() + "/answers/0", `{"score":1}`,
			&stubScores{err: service.ErrNotCompleted}, http.StatusConflict, "EVALUATION_NOT_COMPLETED"},
		{"index out of range", "/evaluations/" + id.String() + "/answers/9", `{"score":1}`,
			&stubScores{err: service.ErrQuestionIndex}, http.StatusBadRequest, "QUESTION_INDEX_OUT_OF_RANGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := evaluationRouter(&stubRunner{}, tt.scores, &stubResetter{}, &stubQueue{})
			w := do(r, http.MethodPatch, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("body %s lacks %s", w.Body.String(), tt.want)
			}
		})
	}
}

func TestSetQuestionScorePassesIndexAndScore(t *testing.T) {
	scores := &stubScores{upd: &service.ScoreUpdate{GradeSynced: true}}
	r := evaluationRouter(&stubRunner{}, scores, &stubResetter{}, &stubQueue{})
	do(r, http.MethodPatch, "/evaluations/"+uuid.NewString()+"/answers/2", `{"score":0}`)
	if scores.index != 2 || scores.score != 0 {
		t.Errorf("index = %d, score = %v", scores.index, scores.score)
	}
}

func TestResetStudentHandler(t *testing.T) {
	reset := &stubResetter{}
	r := evaluationRouter(&stubRunner{}, &stubScores{}, reset, &stubQueue{})
	testID := uuid.New()

	w := do(r, http.MethodPost, "/students/"+uuid.NewString()+"/reset", fmt.Sprintf(`{"subject_id":%q,"test_id":%q}`, uuid.New(), testID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if reset.testID == nil || *reset.testID != testID {
		t.Errorf("test scope = %v", reset.testID)
	}

	do(r, http.MethodPost, "/students/"+uuid.NewString()+"/reset", fmt.Sprintf(`{"subject_id":%q}`, uuid.New()))
	if reset.testID != nil {
		t.Error("whole-subject reset got a test scope")
	}
}

// ─── Documents & answers ────────────────────────────────────────────

func TestDocumentUpload(t *testing.T) {
	owner := uuid.New()
	docs := &stubDocuments{}
	h := NewDocumentHandler(docs)
	r := gin.New()
	r.POST("/documents", withClaims(owner), h.Upload)

	subjectID, testID := uuid.New(), uuid.New()
	body, ct := multipartBody(t, map[string]string{
		"subject_id": subjectID.String(),
		"test_id":    testID.String(),
		"role":       "questionPaper",
		"label":      "Algebra",
	}, []byte("%PDF-1.4 paper"))
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	up := docs.upload
	if up.OwnerID != owner || up.SubjectID != subjectID || up.TestID == nil || *up.TestID != testID {
		t.Errorf("upload = %+v", up)
	}
	if up.Role != model.RoleQuestionPaper || up.FileName != "sheet.pdf" || docs.content != "%PDF-1.4 paper" {
		t.Errorf("upload = %+v, content %q", up, docs.content)
	}
}

func TestDocumentUploadRejectsAnswerSheetRole(t *testing.T) {
	h := NewDocumentHandler(&stubDocuments{})
	r := gin.New()
	r.POST("/documents", withClaims(uuid.New()), h.Upload)

	body, ct := multipartBody(t, map[string]string{
		"subject_id": uuid.NewString(),
		"role":       "answerSheet",
		"label":      "x",
	}, []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if env := decode(t, w); env.Error.Fields["role"] == "" {
		t.Errorf("fields = %v", env.Error.Fields)
	}
}

func TestDocumentErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not owner", service.ErrNotDocumentOwner, http.StatusForbidden, "NOT_DOCUMENT_OWNER"},
		{"not found", service.ErrDocumentNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"download timeout", fmt.Errorf("download document: %w", storage.ErrDownloadTimeout), http.StatusGatewayTimeout, "DOWNLOAD_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewDocumentHandler(&stubDocuments{err: tt.err})
			r := gin.New()
			r.POST("/documents/:id/extract", withClaims(uuid.New()), h.Extract)
			w := do(r, http.MethodPost, "/documents/"+uuid.NewString()+"/extract", "")
			if w.Code != tt.status || decode(t, w).Error.Code != tt.code {
				t.Errorf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAnswerUpload(t *testing.T) {
	answers := &stubAnswers{}
	h := NewAnswerHandler(answers)
	r := gin.New()
	r.POST("/answers", h.Upload)

	fields := map[string]string{
		"student_id": uuid.NewString(),
		"subject_id": uuid.NewString(),
		"test_id":    uuid.NewString(),
	}

	body, ct := multipartBody(t, fields, nil)
	req := httptest.NewRequest(http.MethodPost, "/answers", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || decode(t, w).Error.Code != "FILE_REQUIRED" {
		t.Fatalf("missing file: %d %s", w.Code, w.Body.String())
	}

	body, ct = multipartBody(t, fields, []byte("%PDF-1.4"))
	req = httptest.NewRequest(http.MethodPost, "/answers", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if answers.up.TestID.String() != fields["test_id"] || answers.up.StudentID.String() != fields["student_id"] {
		t.Errorf("upload = %+v", answers.up)
	}
}

func TestGetAnswerSheetHandler(t *testing.T) {
	h := NewAnswerHandler(&stubAnswers{})
	r := gin.New()
	r.GET("/tests/:test_id/students/:student_id/answer", h.Get)

	base := fmt.Sprintf("/tests/%s/students/%s/answer", uuid.New(), uuid.New())
	if w := do(r, http.MethodGet, base, ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing subject_id: %d", w.Code)
	}
	if w := do(r, http.MethodGet, base+"?subject_id="+uuid.NewString(), ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown sheet: %d", w.Code)
	}
}

// ─── Functions ──────────────────────────────────────────────────────

func TestFunctionExtract(t *testing.T) {
	valid := `{"fileUrl":"https://files.test/qp.pdf","fileName":"qp.pdf","fileType":"questionPaper"}`

	tests := []struct {
		name   string
		body   string
		ext    *stubExtractor
		status int
		want   string
	}{
		{"pdf sentinel", valid, &stubExtractor{res: &model.ExtractionResult{IsPDF: true}}, http.StatusOK, `{"is_pdf":true}`},
		{"text", valid, &stubExtractor{res: &model.ExtractionResult{Text: "1. Solve x"}}, http.StatusOK, `{"text":"1. Solve x"}`},
		{"download timeout", valid, &stubExtractor{err: fmt.Errorf("download document: %w", storage.ErrDownloadTimeout)},
			http.StatusGatewayTimeout, `"code":"download_timeout"`},
		{"bad request", `{"fileName":"x"}`, &stubExtractor{}, http.StatusBadRequest, `"code":"fatal"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewFunctionHandler(tt.ext, zerolog.Nop())
			r := gin.New()
			r.POST("/functions/extract", h.Extract)
			w := do(r, http.MethodPost, "/functions/extract", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("body %s lacks %s", w.Body.String(), tt.want)
			}
			if strings.Contains(w.Body.String(), `"metadata"`) {
				t.Error("function response wrapped in API envelope")
			}
		})
	}
}

// ─── Progress stream ────────────────────────────────────────────────

func TestProgressStream(t *testing.T) {
	sub := &stubSubscriber{msgs: make(chan *redis.Message, 1), closed: make(chan struct{})}
	h := NewProgressHandler(sub, zerolog.Nop(), nil)
	r := gin.New()
	r.GET("/tests/:test_id/progress", h.Stream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	testID := uuid.New()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tests/" + testID.String() + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var subscribed ws.SubscribedResponse
	if err := conn.ReadJSON(&subscribed); err != nil || subscribed.Event != ws.EventSubscribed || subscribed.TestID != testID {
		t.Fatalf("subscribed = %+v, err %v", subscribed, err)
	}

	sub.msgs <- &redis.Message{Payload: `{"event":"evaluation.started","test_id":"` + testID.String() + `"}`}
	var progress ws.ProgressEvent
	if err := conn.ReadJSON(&progress); err != nil || progress.Event != ws.EventEvaluationStarted {
		t.Fatalf("progress = %+v, err %v", progress, err)
	}

	if err := conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionPing}); err != nil {
		t.Fatal(err)
	}
	var pong ws.PongResponse
	if err := conn.ReadJSON(&pong); err != nil || pong.Event != ws.EventPong {
		t.Fatalf("pong = %+v, err %v", pong, err)
	}

	conn.Close()
	select {
	case <-sub.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed after client left")
	}
}
