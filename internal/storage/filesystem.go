// Package storage holds the object stores for source and enhanced photos.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"photoenhance/internal/domain"
)

var (
	errNoStore    = errors.New("storage: no store configured")
	errInvalidKey = errors.New("storage: invalid key")
)

// FileStore keeps photos under one root directory. Objects become visible
// only once fully written, so a reader never sees a partial image.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Write stores data under key and returns the canonical key.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	full, clean, err := s.resolve(ctx, key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: stage %s: %w", clean, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: write %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", clean, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", clean, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("storage: publish %s: %w", clean, err)
	}
	return clean, nil
}

// Read returns the object under key, or domain.ErrNotFound.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	full, clean, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage: read %s: %w", clean, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", clean, err)
	}
	return data, nil
}

// Delete removes the object under key; a missing object is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	full, clean, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", clean, err)
	}
	return nil
}

func (s *FileStore) resolve(ctx context.Context, key string) (full, clean string, err error) {
	if s == nil {
		return "", "", errNoStore
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	clean, err = sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), clean, nil
}

// sanitizeKey turns key into a slash-separated path that stays inside the root.
func sanitizeKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), `\`, "/")
	if key == "" {
		return "", errInvalidKey
	}
	clean := strings.TrimLeft(path.Clean("/"+key), "/")
	if clean == "" || strings.HasPrefix(key, "../") || key == ".." {
		return "", errInvalidKey
	}
	return clean, nil
}

var _ domain.ObjectStore = (*FileStore)(nil)
