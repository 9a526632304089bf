package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// File keeps each key in its own json file inside a directory
type File struct {
	dir string
}

// NewFile makes a file backend, creating the directory if needed
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("empty storage directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

// Get reads the file for key
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.fileName(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Set writes value to a temp file and renames it over the file for key
func (f *File) Set(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after successful rename

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.fileName(key)); err != nil {
		return fmt.Errorf("failed to rename temp file for %s: %w", key, err)
	}
	return nil
}

// Close does nothing
func (f *File) Close() error { return nil }

// fileName escapes key to keep it inside the directory
func (f *File) fileName(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}
