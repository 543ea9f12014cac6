package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/stemsi/exstem-grader/internal/storage"
)

// Sentinel errors for media uploads.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrEmptyFile           = errors.New("file is empty")
)

// Allowed document MIME types, detected from content.
var allowedMIMETypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
}

// StoredFile describes an uploaded object.
type StoredFile struct {
	Name        string
	URL         string
	ContentType string
	Size        int
}

// MediaService validates uploads and writes them to the file store.
type MediaService struct {
	store    storage.FileStore
	maxBytes int64
}

// NewMediaService creates a new MediaService.
func NewMediaService(store storage.FileStore, maxBytes int64) *MediaService {
	return &MediaService{store: store, maxBytes: maxBytes}
}

// Save reads file, checks its size and sniffed type, and stores it as
// nameBase plus the extension of the detected type.
func (s *MediaService) Save(ctx context.Context, file io.Reader, nameBase string) (*StoredFile, error) {
	data, err := io.ReadAll(io.LimitReader(file, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, s.maxBytes)
	}

	mt := mimetype.Detect(data)
	contentType, ext := "", ""
	for t, e := range allowedMIMETypes {
		if mt.Is(t) {
			contentType, ext = t, e
			break
		}
	}
	if contentType == "" {
		return nil, fmt.Errorf("%w: %s (allowed: %s)",
			ErrUnsupportedFileType, mt.String(), strings.Join(allowedTypes(), ", "))
	}

	name := nameBase + ext
	if err := s.store.Upload(ctx, name, data, contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	return &StoredFile{
		Name:        name,
		URL:         s.store.PublicURL(name),
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

// Remove deletes a stored object, ignoring objects that are already gone.
func (s *MediaService) Remove(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	if err := s.store.Delete(ctx, name); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return err
	}
	return nil
}

// Archive moves a replaced object under archive/ so it stays retrievable.
func (s *MediaService) Archive(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	dst := "archive/" + name
	if err := s.store.Copy(ctx, name, dst); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("archive %s: %w", name, err)
	}
	if err := s.Remove(ctx, name); err != nil {
		return dst, fmt.Errorf("remove archived %s: %w", name, err)
	}
	return dst, nil
}

// RemovePrefix deletes every object whose name starts with prefix.
func (s *MediaService) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := s.store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", prefix, err)
	}
	removed := 0
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Name, prefix) {
			continue
		}
		if err := s.Remove(ctx, obj.Name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func allowedTypes() []string {
	types := make([]string, 0, len(allowedMIMETypes))
	for t := range allowedMIMETypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
