package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
)

// ErrNotFound is returned by Get when a key does not exist
var ErrNotFound = errors.New("object not found")

// Store is a container-scoped object store. Keys are slash-separated paths;
// keys ending in "/" are directory markers.
type Store interface {
	// List returns every key in the container in lexicographic order
	List(ctx context.Context, container string) ([]string, error)
	Get(ctx context.Context, container, key string) ([]byte, error)
	Put(ctx context.Context, container, key string, data []byte) error
	// Delete is a no-op for missing keys
	Delete(ctx context.Context, container, key string) error
	Close() error
}

// Open creates the configured storage backend
func Open(cfg config.StorageConfig, log *logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "badger":
		return OpenBadger(cfg.Path, cfg.InMemory, log)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
