package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalObjectStore writes objects under a base directory. Used by
// cmd/local and tests in place of S3.
type LocalObjectStore struct {
	baseDir string
}

var _ ObjectStore = (*LocalObjectStore)(nil)

func NewLocalObjectStore(dir string) (*LocalObjectStore, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}
	if err := os.MkdirAll(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", baseDir, err)
	}

	return &LocalObjectStore{baseDir: baseDir}, nil
}

func (s *LocalObjectStore) fullPath(key string) (string, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, s.baseDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("object key %q escapes the store root", key)
	}
	return path, nil
}

func (s *LocalObjectStore) PutObject(ctx context.Context, key string, data io.Reader) error {
	path, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", s.baseDir, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s/%s: %w", s.baseDir, key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return fmt.Errorf("failed to write file %s/%s: %w", s.baseDir, key, err)
	}

	return nil
}
