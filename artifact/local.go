package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore keeps artifacts under {baseDir}/{scope}/{key}. A {key}.sha256
// sidecar records the checksum.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a LocalStore rooted at baseDir.
func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

func (s *LocalStore) path(scope, key string) (string, error) {
	base, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", err
	}
	p := filepath.Join(base, filepath.FromSlash(scope), key)
	if !strings.HasPrefix(p, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid artifact path %q/%q", scope, key)
	}
	return p, nil
}

// Put writes the artifact atomically and records its checksum.
func (s *LocalStore) Put(_ context.Context, scope, key string, reader io.Reader) error {
	p, err := s.path(scope, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), reader); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("commit artifact: %w", err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	if err := os.WriteFile(p+".sha256", []byte(sum), 0o640); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	return nil
}

// Get opens the artifact for reading.
func (s *LocalStore) Get(_ context.Context, scope, key string) (io.ReadCloser, error) {
	p, err := s.path(scope, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, scope, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// List returns the artifacts in scope sorted by key.
func (s *LocalStore) List(_ context.Context, scope string) ([]Artifact, error) {
	dir := filepath.Join(s.baseDir, filepath.FromSlash(scope))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	var out []Artifact
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".sha256") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat artifact %q: %w", name, err)
		}
		sum, _ := os.ReadFile(filepath.Join(dir, name+".sha256"))
		out = append(out, Artifact{
			Key:       name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Checksum:  string(sum),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the artifact and its checksum.
func (s *LocalStore) Delete(_ context.Context, scope, key string) error {
	p, err := s.path(scope, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, scope, key)
		}
		return fmt.Errorf("delete artifact: %w", err)
	}
	_ = os.Remove(p + ".sha256")
	return nil
}
