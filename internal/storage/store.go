// Package storage provides the durable object store used for uploaded
// documents and derived page bundles.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for object storage.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidName    = errors.New("invalid object name")
)

// Object is a stored file as reported by List.
type Object struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// FileStore is the durable blob store. Names are opaque slash-separated keys.
type FileStore interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) error
	PublicURL(name string) string
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, name string) error
	Copy(ctx context.Context, src, dst string) error
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)

// SanitizeName replaces characters that are unsafe in object keys.
func SanitizeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// UniqueName builds "<folder>/<yyyymmdd>-<uuid>-<sanitized filename>".
func UniqueName(folder, filename string) string {
	return fmt.Sprintf("%s/%s-%s-%s",
		folder, time.Now().Format("20060102"), uuid.New().String(), SanitizeName(filename))
}

func validateName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// joinURL appends an escaped object name to a base URL.
func joinURL(base, name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + "/" + path.Join(parts...)
}
