// Package filestore keeps uploaded documents on local disk or in Google
// Cloud Storage.
package filestore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

const (
	BackendLocal = "local"
	BackendGCS   = "gcs"

	DefaultDirectory = "data/uploads"
)

type Config struct {
	Backend   string `env:"STORAGE_BACKEND"    yaml:"backend"`
	Directory string `env:"STORAGE_DIRECTORY"  yaml:"directory"`
	Bucket    string `env:"STORAGE_GCS_BUCKET" yaml:"bucket"`
	Prefix    string `env:"STORAGE_GCS_PREFIX" yaml:"prefix"`
}

// Store is implemented by every backend. Get reports a missing object as
// domain.ErrNotFound; Delete of a missing object succeeds.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// New opens the backend named by cfg.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		dir := cfg.Directory
		if dir == "" {
			dir = DefaultDirectory
		}
		return NewLocal(dir)
	case BackendGCS:
		return NewGCS(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return key, nil
}
