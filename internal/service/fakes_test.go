package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/ocr"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/storage"
	ws "github.com/stemsi/exstem-grader/internal/websocket"
)

type pair struct{ test, student uuid.UUID }

// memDB is an in-memory implementation of every store port.
type memDB struct {
	mu          sync.Mutex
	evaluations map[uuid.UUID]*model.Evaluation
	grades      map[pair]*model.TestGrade
	answers     map[pair]*model.TestAnswer
	documents   map[uuid.UUID]*model.Document
	tests       map[uuid.UUID]*model.Test
	students    map[uuid.UUID]*model.Student

	failSaveOutcome  error
	failGradeUpsert  error
	failDeleteEvals  error
	onSaveOutcome    func(id uuid.UUID, o model.Outcome)
	gradeUpsertCalls int
}

func newMemDB() *memDB {
	return &memDB{
		evaluations: map[uuid.UUID]*model.Evaluation{},
		grades:      map[pair]*model.TestGrade{},
		answers:     map[pair]*model.TestAnswer{},
		documents:   map[uuid.UUID]*model.Document{},
		tests:       map[uuid.UUID]*model.Test{},
		students:    map[uuid.UUID]*model.Student{},
	}
}

type evalStore struct{ db *memDB }
type gradeStore struct{ db *memDB }
type answerStore struct{ db *memDB }
type documentStore struct{ db *memDB }
type testStore struct{ db *memDB }
type studentStore struct{ db *memDB }

func cloneEval(e *model.Evaluation) *model.Evaluation {
	c := *e
	return &c
}

func (s evalStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Evaluation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.evaluations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneEval(e), nil
}

func (s evalStore) GetByTestAndStudent(ctx context.Context, testID, studentID uuid.UUID) (*model.Evaluation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, e := range s.db.evaluations {
		if e.TestID == testID && e.StudentID == studentID {
			return cloneEval(e), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s evalStore) Begin(ctx context.Context, testID, studentID, subjectID uuid.UUID) (*model.Evaluation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := time.Now()
	for _, e := range s.db.evaluations {
		if e.TestID == testID && e.StudentID == studentID {
			e.Outcome = model.InProgress{}
			e.SubjectID = subjectID
			e.UpdatedAt = now
			return cloneEval(e), nil
		}
	}
	e := &model.Evaluation{
		ID:        uuid.New(),
		TestID:    testID,
		StudentID: studentID,
		SubjectID: subjectID,
		Outcome:   model.InProgress{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.db.evaluations[e.ID] = e
	return cloneEval(e), nil
}

func (s evalStore) SaveOutcome(ctx context.Context, id uuid.UUID, o model.Outcome) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failSaveOutcome != nil {
		return s.db.failSaveOutcome
	}
	e, ok := s.db.evaluations[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Outcome = o
	e.UpdatedAt = time.Now()
	if s.db.onSaveOutcome != nil {
		s.db.onSaveOutcome(id, o)
	}
	return nil
}

func (s evalStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.evaluations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.db.evaluations, id)
	return nil
}

func (s evalStore) DeleteForStudent(ctx context.Context, studentID uuid.UUID, testIDs []uuid.UUID) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failDeleteEvals != nil {
		return 0, s.db.failDeleteEvals
	}
	var n int64
	for id, e := range s.db.evaluations {
		if e.StudentID == studentID && containsID(testIDs, e.TestID) {
			delete(s.db.evaluations, id)
			n++
		}
	}
	return n, nil
}

func (s evalStore) ListByTestPaginated(ctx context.Context, testID uuid.UUID, limit, offset int) ([]model.Evaluation, int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.Evaluation
	for _, e := range s.db.evaluations {
		if e.TestID == testID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID.String() < out[j].StudentID.String() })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (s evalStore) ListGradeDrift(ctx context.Context, limit int) ([]model.Evaluation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.Evaluation
	for _, e := range s.db.evaluations {
		c, ok := e.Outcome.(model.Completed)
		if !ok {
			continue
		}
		g, ok := s.db.grades[pair{e.TestID, e.StudentID}]
		if ok && g.Marks == c.Summary.TotalScore.Awarded() {
			continue
		}
		out = append(out, *e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s gradeStore) Get(ctx context.Context, testID, studentID uuid.UUID) (*model.TestGrade, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	g, ok := s.db.grades[pair{testID, studentID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *g
	return &c, nil
}

func (s gradeStore) Upsert(ctx context.Context, testID, studentID uuid.UUID, marks float64, remarks string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.gradeUpsertCalls++
	if s.db.failGradeUpsert != nil {
		return s.db.failGradeUpsert
	}
	k := pair{testID, studentID}
	g, ok := s.db.grades[k]
	if !ok {
		g = &model.TestGrade{ID: uuid.New(), TestID: testID, StudentID: studentID}
		s.db.grades[k] = g
	}
	g.Marks = marks
	g.Remarks = remarks
	g.UpdatedAt = time.Now()
	return nil
}

func (s gradeStore) Reset(ctx context.Context, studentID uuid.UUID, testIDs []uuid.UUID, remarks string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for k, g := range s.db.grades {
		if k.student == studentID && containsID(testIDs, k.test) {
			g.Marks = 0
			g.Remarks = remarks
			n++
		}
	}
	return n, nil
}

func (s gradeStore) Delete(ctx context.Context, testID, studentID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	k := pair{testID, studentID}
	if _, ok := s.db.grades[k]; !ok {
		return repository.ErrNotFound
	}
	delete(s.db.grades, k)
	return nil
}

func (s answerStore) Get(ctx context.Context, studentID, subjectID, testID uuid.UUID) (*model.TestAnswer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.answers[pair{testID, studentID}]
	if !ok || a.SubjectID != subjectID {
		return nil, repository.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s answerStore) Upsert(ctx context.Context, a *model.TestAnswer) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c := *a
	c.TextContent = nil
	s.db.answers[pair{a.TestID, a.StudentID}] = &c
	return nil
}

func (s answerStore) SetText(ctx context.Context, studentID, testID uuid.UUID, text string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.answers[pair{testID, studentID}]
	if !ok {
		return repository.ErrNotFound
	}
	a.TextContent = &text
	return nil
}

func (s documentStore) Create(ctx context.Context, d *model.Document) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	c := *d
	s.db.documents[d.ID] = &c
	return nil
}

func (s documentStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.documents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (s documentStore) LatestByRole(ctx context.Context, testID uuid.UUID, role model.DocumentRole) (*model.Document, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var latest *model.Document
	for _, d := range s.db.documents {
		if d.TestID == nil || *d.TestID != testID || d.Role != role {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (s documentStore) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]model.Document, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.Document
	for _, d := range s.db.documents {
		if d.SubjectID == subjectID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s documentStore) SetOCRText(ctx context.Context, id uuid.UUID, text string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.documents[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.OCRText = &text
	return nil
}

func (s documentStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.documents[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.db.documents, id)
	return nil
}

func (s testStore) Get(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s testStore) ListIDsBySubject(ctx context.Context, subjectID uuid.UUID) ([]uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var ids []uuid.UUID
	for _, t := range s.db.tests {
		if t.SubjectID == subjectID {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func (s studentStore) Get(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *st
	return &c, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// ─── Pipeline fakes ─────────────────────────────────────────────────

type stubGrader struct {
	mu       sync.Mutex
	calls    []grading.Request
	results  []*grading.Result
	errs     []error
	onCall   func(n int)
	fallback error
}

func (g *stubGrader) Grade(ctx context.Context, req grading.Request) (*grading.Result, error) {
	g.mu.Lock()
	n := len(g.calls)
	g.calls = append(g.calls, req)
	onCall := g.onCall
	g.mu.Unlock()
	if onCall != nil {
		onCall(n)
	}

	if n < len(g.errs) && g.errs[n] != nil {
		return nil, g.errs[n]
	}
	if n < len(g.results) && g.results[n] != nil {
		return g.results[n], nil
	}
	if g.fallback != nil {
		return nil, g.fallback
	}
	if len(g.results) > 0 {
		return g.results[len(g.results)-1], nil
	}
	return nil, errors.New("stub grader has no result")
}

type memFetcher struct {
	files map[string][]byte
	calls []string
}

func (f *memFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.calls = append(f.calls, rawURL)
	data, ok := f.files[rawURL]
	if !ok {
		return nil, storage.ErrDownloadFailed
	}
	return data, nil
}

type stubRasterizer struct {
	pages int
	err   error
	calls int
}

func (r *stubRasterizer) Rasterize(ctx context.Context, data []byte, kind rasterizer.Kind) ([]rasterizer.Page, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	pages := make([]rasterizer.Page, r.pages)
	for i := range pages {
		pages[i] = rasterizer.Page{Index: i, Data: []byte{0xFF, 0xD8, byte(i)}}
	}
	return pages, nil
}

type stubPackager struct {
	url   string
	err   error
	calls int
	pages int
}

func (p *stubPackager) PackageAndStore(ctx context.Context, pages []rasterizer.Page, identifier, category string) (string, error) {
	p.calls++
	p.pages = len(pages)
	if p.err != nil {
		return "", p.err
	}
	return p.url, nil
}

type stubExtractor struct {
	text   string
	err    error
	images [][]ocr.Image
	roles  []ocr.Role
}

func (e *stubExtractor) Extract(ctx context.Context, images []ocr.Image, role ocr.Role) (string, error) {
	e.images = append(e.images, images)
	e.roles = append(e.roles, role)
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ws.ProgressEvent
}

func (n *recordingNotifier) Publish(ctx context.Context, ev ws.ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []ws.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ws.Event, len(n.events))
	for i, e := range n.events {
		out[i] = e.Event
	}
	return out
}

type memLocker struct {
	mu      sync.Mutex
	held    map[string]bool
	lastTTL time.Duration
}

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, ErrLockHeld
	}
	l.held[key] = true
	l.lastTTL = ttl
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// memFileStore is an in-memory storage.FileStore.
type memFileStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemFileStore() *memFileStore {
	return &memFileStore{objects: map[string][]byte{}}
}

func (s *memFileStore) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = data
	return nil
}

func (s *memFileStore) PublicURL(name string) string { return "https://files.test/" + name }

func (s *memFileStore) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Object
	for name := range s.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, storage.Object{Name: name, URL: s.PublicURL(name)})
		}
	}
	return out, nil
}

func (s *memFileStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[name]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(s.objects, name)
	return nil
}

func (s *memFileStore) Copy(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[src]
	if !ok {
		return storage.ErrObjectNotFound
	}
	s.objects[dst] = data
	return nil
}
