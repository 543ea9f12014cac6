package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// SupabaseStore talks to the Supabase Storage REST API of a single bucket.
type SupabaseStore struct {
	projectURL string
	serviceKey string
	bucket     string
	client     *http.Client
}

// NewSupabaseStore creates a store for bucket in the given Supabase project.
func NewSupabaseStore(projectURL, serviceKey, bucket string, timeout time.Duration) *SupabaseStore {
	return &SupabaseStore{
		projectURL: strings.TrimRight(projectURL, "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		client:     &http.Client{Timeout: timeout},
	}
}

// Upload stores data under name, overwriting existing objects.
func (s *SupabaseStore) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	endpoint := joinURL(fmt.Sprintf("%s/storage/v1/object/%s", s.projectURL, s.bucket), name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	return s.do(req, nil)
}

// PublicURL returns the public object URL for name.
func (s *SupabaseStore) PublicURL(name string) string {
	return joinURL(fmt.Sprintf("%s/storage/v1/object/public/%s", s.projectURL, s.bucket), name)
}

type listRequest struct {
	Prefix string            `json:"prefix"`
	Search string            `json:"search,omitempty"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	SortBy map[string]string `json:"sortBy"`
}

type listEntry struct {
	Name      string     `json:"name"`
	ID        *string    `json:"id"`
	CreatedAt *time.Time `json:"created_at"`
}

// List returns objects under the folder part of prefix whose base name starts
// with the remainder.
func (s *SupabaseStore) List(ctx context.Context, prefix string) ([]Object, error) {
	dir, search := path.Split(prefix)
	dir = strings.TrimSuffix(dir, "/")

	const pageSize = 1000
	var objects []Object
	for offset := 0; ; offset += pageSize {
		body, _ := json.Marshal(listRequest{
			Prefix: dir,
			Search: search,
			Limit:  pageSize,
			Offset: offset,
			SortBy: map[string]string{"column": "name", "order": "asc"},
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/storage/v1/object/list/%s", s.projectURL, s.bucket), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build list request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		var entries []listEntry
		if err := s.do(req, &entries); err != nil {
			return nil, err
		}
		for _, e := range entries {
			// Folder placeholders come back without an id.
			if e.ID == nil {
				continue
			}
			name := e.Name
			if dir != "" {
				name = dir + "/" + e.Name
			}
			obj := Object{Name: name, URL: s.PublicURL(name)}
			if e.CreatedAt != nil {
				obj.CreatedAt = *e.CreatedAt
			}
			objects = append(objects, obj)
		}
		if len(entries) < pageSize {
			return objects, nil
		}
	}
}

// Delete removes an object.
func (s *SupabaseStore) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	endpoint := joinURL(fmt.Sprintf("%s/storage/v1/object/%s", s.projectURL, s.bucket), name)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	return s.do(req, nil)
}

// Copy duplicates src to dst inside the bucket.
func (s *SupabaseStore) Copy(ctx context.Context, src, dst string) error {
	if err := validateName(src); err != nil {
		return err
	}
	if err := validateName(dst); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{
		"bucketId":       s.bucket,
		"sourceKey":      src,
		"destinationKey": dst,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.projectURL+"/storage/v1/object/copy", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build copy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, nil)
}

func (s *SupabaseStore) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("storage request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrObjectNotFound
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("storage %s failed: status %d: %s", req.Method, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode storage response: %w", err)
	}
	return nil
}
