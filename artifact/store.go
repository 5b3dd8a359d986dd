// Package artifact persists built package bundles beyond process restarts.
package artifact

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Get when no artifact exists for scope/key.
var ErrNotFound = errors.New("artifact not found")

// Store is a durable blob store. Artifacts are grouped by scope (the package
// name) and identified by key within it.
type Store interface {
	Put(ctx context.Context, scope, key string, reader io.Reader) error
	Get(ctx context.Context, scope, key string) (io.ReadCloser, error)
	List(ctx context.Context, scope string) ([]Artifact, error)
	Delete(ctx context.Context, scope, key string) error
}

// Artifact describes a stored object.
type Artifact struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"` // SHA256 hex digest
}
