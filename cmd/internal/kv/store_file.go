package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	fileDirPerm  = 0o700
	fileFilePerm = 0o600
)

// FileStore keeps all keys in a single JSON document on disk.
//
// Every mutation rewrites the document through a temp file and rename, so a
// crash never leaves a half-written file behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore rooted at path. The file is created lazily.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("kv: empty file path")
	}
	return &FileStore{path: filepath.Clean(path)}, nil
}

// DefaultFilePath returns $XDG_CONFIG_HOME/pulse/credentials.json (or the OS equivalent).
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pulse", "credentials.json"), nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Close is a no-op; the file is not held open between calls.
func (s *FileStore) Close() error { return nil }

// Get returns the value for key, or ErrNotFound if the key or the file is absent.
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := doc[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key and rewrites the whole document through a temp
// file and rename, so readers never see a partial write.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc[key] = value
	return s.save(doc)
}

// Delete removes keys. Missing keys are ignored, and the file is not
// rewritten when nothing changed.
func (s *FileStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := doc[k]; ok {
			delete(doc, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(doc)
}

func (s *FileStore) load() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv: read %s: %w", s.path, err)
	}

	doc := make(map[string]string)
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("kv: decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) save(doc map[string]string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, fileDirPerm); err != nil {
		return fmt.Errorf("kv: mkdir %s: %w", dir, err)
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".kv-*.tmp")
	if err != nil {
		return fmt.Errorf("kv: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(fileFilePerm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("kv: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("kv: rename: %w", err)
	}
	return nil
}
