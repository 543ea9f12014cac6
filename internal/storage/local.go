package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore keeps objects on disk under a root directory. Files are served
// by the HTTP router from baseURL.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates a LocalStore rooted at dir, publishing URLs under baseURL.
func NewLocalStore(dir, baseURL string) *LocalStore {
	return &LocalStore{root: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Upload writes data under name, replacing any existing object.
func (s *LocalStore) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := s.path(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	// Write to a temp file first so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}

// PublicURL returns the URL the router serves name from.
func (s *LocalStore) PublicURL(name string) string {
	return joinURL(s.baseURL, name)
}

// List returns all objects whose name starts with prefix, sorted by name.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{Name: name, URL: s.PublicURL(name), CreatedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

// Delete removes an object.
func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Copy duplicates src to dst.
func (s *LocalStore) Copy(ctx context.Context, src, dst string) error {
	if err := validateName(src); err != nil {
		return err
	}
	data, err := os.ReadFile(s.path(src))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("read object: %w", err)
	}
	return s.Upload(ctx, dst, data, "")
}
