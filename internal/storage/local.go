package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore writes documents into one directory on the local filesystem.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a store rooted at dir. The directory is created by
// Prepare, not here.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Dir returns the output directory.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Prepare creates the output directory. An existing directory is success;
// an existing non-directory is an error. Concurrent callers may race on
// creation without failing.
func (s *LocalStore) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create output directory %s: %w", s.dir, err)
	}
	return nil
}

func (s *LocalStore) path(name string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	return filepath.Join(s.dir, filepath.FromSlash(name)), nil
}

// Write writes a temp file next to the target and renames it into place.
func (s *LocalStore) Write(ctx context.Context, name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	// Nested names come from recursive input listings.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+uuid.New().String())
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return nil
}

// Read returns the bytes stored under name.
func (s *LocalStore) Read(ctx context.Context, name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Exists checks if a document already exists.
func (s *LocalStore) Exists(ctx context.Context, name string) (bool, error) {
	path, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given name.
func (s *LocalStore) URI(name string) string {
	absPath, err := filepath.Abs(filepath.Join(s.dir, filepath.FromSlash(name)))
	if err != nil {
		absPath = filepath.Join(s.dir, name)
	}
	return "file://" + filepath.ToSlash(absPath)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}
