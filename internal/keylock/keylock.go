package keylock

import (
	"context"
	"fmt"
	"sync"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
)

// Unlock releases a held key
type Unlock func()

// Locker serializes work per key. Lock blocks until the key is free or ctx
// is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// New creates the configured locker
func New(cfg config.LockConfig, log *logger.Logger) (Locker, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(), nil
	case "redis":
		return NewRedis(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", cfg.Backend)
	}
}

// Local is an in-process per-key mutex. Entries are dropped once no goroutine
// holds or waits on them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock acquires key
func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held returns the number of keys currently tracked
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
