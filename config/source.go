package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ConfigSource provides configuration from a backend.
type ConfigSource interface {
	Load(ctx context.Context) (*ServerConfig, error)
	// Hash identifies the current content without decoding it.
	Hash(ctx context.Context) (string, error)
	Name() string
}

// ConfigChangeEvent is emitted when a watched source changes.
type ConfigChangeEvent struct {
	Source  string
	OldHash string
	NewHash string
	Config  *ServerConfig
	Time    time.Time
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
