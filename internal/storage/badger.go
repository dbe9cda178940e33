package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/raaihank/docguard/internal/logger"
	"go.uber.org/zap"
)

// separator divides container and key; it cannot appear in either
const separator = "\x00"

// Badger is a Store backed by an embedded BadgerDB
type Badger struct {
	db     *badger.DB
	logger *logger.Logger
}

// badgerLogger routes badger's internal logging through zap
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any)   { l.sugar.Errorf(msg, args...) }
func (l *badgerLogger) Warningf(msg string, args ...any) { l.sugar.Warnf(msg, args...) }
func (l *badgerLogger) Infof(msg string, args ...any)    { l.sugar.Debugf(msg, args...) }
func (l *badgerLogger) Debugf(msg string, args ...any)   { l.sugar.Debugf(msg, args...) }

// OpenBadger opens (or creates) a badger store at dir. With inMemory set the
// directory is ignored and nothing touches disk.
func OpenBadger(dir string, inMemory bool, log *logger.Logger) (*Badger, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("storage")

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{sugar: log.Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	log.Info("Object storage opened", zap.String("path", dir), zap.Bool("in_memory", inMemory))
	return &Badger{db: db, logger: log}, nil
}

func objectKey(container, key string) ([]byte, error) {
	if container == "" || strings.Contains(container, separator) {
		return nil, fmt.Errorf("invalid container %q", container)
	}
	if key == "" || strings.Contains(key, separator) {
		return nil, fmt.Errorf("invalid key %q", key)
	}
	return []byte(container + separator + key), nil
}

// List returns all keys of a container in lexicographic order
func (b *Badger) List(ctx context.Context, container string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(container + separator)

	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			keys = append(keys, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", container, err)
	}
	return keys, nil
}

// Get reads an object, returning ErrNotFound when it is absent
func (b *Badger) Get(ctx context.Context, container, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := objectKey(container, key)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", container, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", container, key, err)
	}
	return data, nil
}

// Put writes an object, replacing any existing value
func (b *Badger) Put(ctx context.Context, container, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := objectKey(container, key)
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	}); err != nil {
		return fmt.Errorf("put %s/%s: %w", container, key, err)
	}
	return nil
}

// Delete removes an object
func (b *Badger) Delete(ctx context.Context, container, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := objectKey(container, key)
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", container, key, err)
	}
	return nil
}

// Close closes the database
func (b *Badger) Close() error {
	return b.db.Close()
}
