package config

import (
	"context"
	"fmt"
	"os"
)

// FileSource loads config from a YAML file on disk. Environment overrides
// are applied on every load.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource that reads from the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads, overrides and validates the file.
func (s *FileSource) Load(_ context.Context) (*ServerConfig, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, fmt.Errorf("file source: %w", err)
	}
	return cfg, nil
}

// Hash returns the SHA256 hex digest of the raw file bytes.
func (s *FileSource) Hash(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("file source: read %s: %w", s.path, err)
	}
	return hashBytes(data), nil
}

// Name returns a human-readable identifier for this source.
func (s *FileSource) Name() string { return "file:" + s.path }

// Path returns the filesystem path this source reads from.
func (s *FileSource) Path() string { return s.path }
