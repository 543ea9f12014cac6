package bundle

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	"github.com/stemsi/exstem-grader/internal/storage"
)

type flakyStore struct {
	mu       sync.Mutex
	failures int
	uploads  map[string][]byte
	attempts int
}

func (s *flakyStore) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("503 service unavailable")
	}
	if s.uploads == nil {
		s.uploads = map[string][]byte{}
	}
	s.uploads[name] = data
	return nil
}

func (s *flakyStore) PublicURL(name string) string { return "https://cdn.test/" + name }
func (s *flakyStore) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	return nil, nil
}
func (s *flakyStore) Delete(ctx context.Context, name string) error { return nil }
func (s *flakyStore) Copy(ctx context.Context, src, dst string) error { return nil }

func newTestPackager(store storage.FileStore) (*Packager, *[]time.Duration) {
	p := NewPackager(store, 2*time.Second, zerolog.Nop())
	var delays []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return p, &delays
}

func testPages(n int) []rasterizer.Page {
	pages := make([]rasterizer.Page, n)
	for i := range pages {
		pages[i] = rasterizer.Page{Index: i, Data: []byte{0xFF, 0xD8, byte(i), 0xFF, 0xD9}}
	}
	return pages
}

func TestPackageAndStorePreservesOrder(t *testing.T) {
	store := &flakyStore{}
	p, _ := newTestPackager(store)

	// Hand the pages over out of order; the archive keeps the given order,
	// and the names sort back into source order on read.
	pages := testPages(3)
	pages[0], pages[2] = pages[2], pages[0]

	url, err := p.PackageAndStore(context.Background(), pages, "student-42", "answerSheet")
	if err != nil {
		t.Fatalf("PackageAndStore: %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.test/bundles/answerSheet_student-42_") || !strings.HasSuffix(url, ".zip") {
		t.Errorf("unexpected url %s", url)
	}
	if len(store.uploads) != 1 {
		t.Fatalf("got %d uploads, want 1", len(store.uploads))
	}

	var archive []byte
	for _, v := range store.uploads {
		archive = v
	}
	files, err := Read(archive)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []string{"page_001.jpg", "page_002.jpg", "page_003.jpg"}
	for i, f := range files {
		if f.Name != want[i] {
			t.Errorf("entry %d = %s, want %s", i, f.Name, want[i])
		}
		if f.Data[2] != byte(i) {
			t.Errorf("entry %d carries data of page %d", i, f.Data[2])
		}
	}
}

func TestPackageAndStoreUniqueNames(t *testing.T) {
	store := &flakyStore{}
	p, _ := newTestPackager(store)
	for i := 0; i < 2; i++ {
		if _, err := p.PackageAndStore(context.Background(), testPages(1), "doc", "cat"); err != nil {
			t.Fatalf("PackageAndStore: %v", err)
		}
	}
	if len(store.uploads) != 2 {
		t.Fatalf("concurrent packaging of the same document collided: %d objects", len(store.uploads))
	}
	for name := range store.uploads {
		if !strings.HasPrefix(name, Prefix("cat", "doc")) || !strings.HasSuffix(name, ".zip") {
			t.Errorf("object name %q", name)
		}
	}
}

func TestPackageAndStoreRetriesWithBackoff(t *testing.T) {
	store := &flakyStore{failures: 3}
	p, delays := newTestPackager(store)

	if _, err := p.PackageAndStore(context.Background(), testPages(1), "id", "cat"); err != nil {
		t.Fatalf("PackageAndStore: %v", err)
	}
	if store.attempts != 4 {
		t.Errorf("attempts = %d, want 4", store.attempts)
	}
	want := []time.Duration{2 * time.Second, 3 * time.Second, 4500 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestPackageAndStorePersistFailed(t *testing.T) {
	store := &flakyStore{failures: 10}
	p, _ := newTestPackager(store)

	_, err := p.PackageAndStore(context.Background(), testPages(2), "id", "cat")
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}
	if store.attempts != 4 {
		t.Errorf("attempts = %d, want 4 (one upload plus three retries)", store.attempts)
	}
}

func TestPackageAndStoreRejectsEmpty(t *testing.T) {
	store := &flakyStore{}
	p, _ := newTestPackager(store)

	for _, pages := range [][]rasterizer.Page{nil, {{Index: 0}}} {
		if _, err := p.PackageAndStore(context.Background(), pages, "id", "cat"); !errors.Is(err, ErrEmptyBundle) {
			t.Errorf("err = %v, want ErrEmptyBundle", err)
		}
	}
	if store.attempts != 0 {
		t.Errorf("upload attempted for empty bundle")
	}
}

func TestPackageAndStoreRejectsOversized(t *testing.T) {
	store := &flakyStore{}
	p, _ := newTestPackager(store)

	big := rasterizer.Page{Index: 0, Data: bytes.Repeat([]byte{0x42}, MaxBundleBytes+1)}
	_, err := p.PackageAndStore(context.Background(), []rasterizer.Page{big}, "id", "cat")
	if !errors.Is(err, ErrBundleTooLarge) {
		t.Fatalf("err = %v, want ErrBundleTooLarge", err)
	}
	if store.attempts != 0 {
		t.Errorf("upload attempted for oversized bundle")
	}
}

func TestReadRejectsArchiveWithoutImages(t *testing.T) {
	if _, err := Read([]byte("not a zip")); err == nil {
		t.Fatal("expected error for invalid archive")
	}
}
