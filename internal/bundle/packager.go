// Package bundle packages rasterized pages into a ZIP archive and persists it.
package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/rasterizer"
	"github.com/stemsi/exstem-grader/internal/storage"
)

// Sentinel errors for bundle packaging.
var (
	ErrEmptyBundle    = errors.New("bundle has no pages")
	ErrBundleTooLarge = errors.New("bundle exceeds size limit")
	ErrPersistFailed  = errors.New("failed to persist bundle")
)

const (
	MaxBundleBytes = 50 << 20
	uploadRetries  = 3
	uploadAttempts = uploadRetries + 1
	backoffFactor  = 1.5
	contentTypeZip = "application/zip"
)

// File is one entry read back from a bundle.
type File struct {
	Name string
	Data []byte
}

// Packager builds page bundles and uploads them to a FileStore.
type Packager struct {
	store     storage.FileStore
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

// NewPackager creates a Packager. baseDelay is the wait before the first
// upload retry; later waits grow by 1.5x.
func NewPackager(store storage.FileStore, baseDelay time.Duration, log zerolog.Logger) *Packager {
	return &Packager{
		store:     store,
		baseDelay: baseDelay,
		sleep:     sleepCtx,
		log:       log.With().Str("component", "bundle_packager").Logger(),
	}
}

// PackageAndStore zips pages in order and uploads the archive under a name
// made from category, identifier and a uniqueness token. It returns the
// public URL of the stored bundle.
func (p *Packager) PackageAndStore(ctx context.Context, pages []rasterizer.Page, identifier, category string) (string, error) {
	archive, err := Build(pages)
	if err != nil {
		return "", err
	}

	name := ObjectName(category, identifier)
	delay := p.baseDelay
	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		lastErr = p.store.Upload(ctx, name, archive, contentTypeZip)
		if lastErr == nil {
			p.log.Info().
				Str("object", name).
				Int("pages", len(pages)).
				Int("bytes", len(archive)).
				Msg("Bundle stored")
			return p.store.PublicURL(name), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == uploadAttempts {
			break
		}

		p.log.Warn().Err(lastErr).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Bundle upload failed, retrying")
		if err := p.sleep(ctx, delay); err != nil {
			return "", err
		}
		delay = time.Duration(float64(delay) * backoffFactor)
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrPersistFailed, uploadAttempts, lastErr)
}

// ObjectName returns "bundles/<category>_<identifier>_<uuid>.zip".
func ObjectName(category, identifier string) string {
	return Prefix(category, identifier) + uuid.New().String() + ".zip"
}

// Prefix returns the object name prefix shared by every bundle of identifier.
func Prefix(category, identifier string) string {
	return fmt.Sprintf("bundles/%s_%s_", storage.SanitizeName(category), storage.SanitizeName(identifier))
}

// Build writes pages into an in-memory ZIP, in the order given.
func Build(pages []rasterizer.Page) ([]byte, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyBundle
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	written := 0
	for _, page := range pages {
		if len(page.Data) == 0 {
			continue
		}
		// JPEG data is already compressed.
		w, err := zw.CreateHeader(&zip.FileHeader{Name: page.Name(), Method: zip.Store})
		if err != nil {
			return nil, fmt.Errorf("create zip entry: %w", err)
		}
		if _, err := w.Write(page.Data); err != nil {
			return nil, fmt.Errorf("write zip entry: %w", err)
		}
		written++
		if buf.Len() > MaxBundleBytes {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrBundleTooLarge, MaxBundleBytes)
		}
	}
	if written == 0 {
		return nil, ErrEmptyBundle
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	if buf.Len() > MaxBundleBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrBundleTooLarge, buf.Len())
	}
	return buf.Bytes(), nil
}

// Read returns the image entries of a bundle sorted by name, which restores
// page order.
func Read(data []byte) ([]File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}

	files := make([]File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isImageName(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		body, err := io.ReadAll(io.LimitReader(rc, MaxBundleBytes))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		files = append(files, File{Name: f.Name, Data: body})
	}
	if len(files) == 0 {
		return nil, ErrEmptyBundle
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func isImageName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp", ".gif"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
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
