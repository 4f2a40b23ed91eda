package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore persists binary assets on disk under a base directory.
// The progression engine only ever hands it a key; URL construction
// happens through the SignedURLSigner.
type LocalStore struct {
	baseDir string
}

// NewLocalStore ensures the base directory exists and returns a handle.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "./data"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Put writes the given bytes under the provided key.
func (s *LocalStore) Put(key string, data []byte) (string, error) {
	path := s.resolve(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare storage directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write asset: %w", err)
	}
	return key, nil
}

// PutStream copies from reader into the file addressed by key.
func (s *LocalStore) PutStream(key string, r io.Reader) (string, error) {
	path := s.resolve(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare storage directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create asset file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	if _, err := io.Copy(file, r); err != nil {
		return "", fmt.Errorf("write asset stream: %w", err)
	}
	return key, nil
}

// Open returns a read-only handle for the stored asset.
func (s *LocalStore) Open(key string) (*os.File, error) {
	file, err := os.Open(s.resolve(key))
	if err != nil {
		return nil, fmt.Errorf("open asset: %w", err)
	}
	return file, nil
}

// Exists reports whether an asset is present for the key.
func (s *LocalStore) Exists(key string) bool {
	_, err := os.Stat(s.resolve(key))
	return err == nil
}

// Delete removes a stored asset if present.
func (s *LocalStore) Delete(key string) error {
	if err := os.Remove(s.resolve(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

// Path exposes the underlying absolute path (useful for debugging).
func (s *LocalStore) Path(key string) string {
	return s.resolve(key)
}

func (s *LocalStore) resolve(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(s.baseDir, key)
}
