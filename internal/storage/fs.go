package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/runtime-land/land/internal/settings"
)

// FsStore stores artifacts under a local directory and builds download URLs
// from a template containing a {path} placeholder.
type FsStore struct {
	root        string
	urlTemplate string
}

// NewFsStore creates a filesystem store from settings, ensuring the root
// directory exists.
func NewFsStore(cfg settings.StorageFs) (*FsStore, error) {
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("storage-fs: local_path is required")
	}
	if err := os.MkdirAll(cfg.LocalPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage-fs: create root: %w", err)
	}
	return &FsStore{root: cfg.LocalPath, urlTemplate: cfg.LocalURLTemplate}, nil
}

func (s *FsStore) fullPath(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Write stores the bytes under name, creating parent directories.
func (s *FsStore) Write(ctx context.Context, name string, data []byte) error {
	path := s.fullPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Read returns the stored bytes.
func (s *FsStore) Read(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(s.fullPath(name))
}

// Exists reports whether the object is present.
func (s *FsStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(s.fullPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the object. Deleting an absent object is not an error.
func (s *FsStore) Delete(ctx context.Context, name string) error {
	err := os.Remove(s.fullPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// BuildURL substitutes the object path into the configured URL template.
func (s *FsStore) BuildURL(name string) string {
	return strings.ReplaceAll(s.urlTemplate, "{path}", name)
}
