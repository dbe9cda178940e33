package ledger

import (
	"context"
	"sync"
)

// Memory is a process-local ledger; attempts reset on restart
type Memory struct {
	mu       sync.Mutex
	attempts map[string]int
	commits  []Commit
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{attempts: make(map[string]int)}
}

func (m *Memory) RecordFailure(_ context.Context, sourceKey, _, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[sourceKey]++
	return m.attempts[sourceKey], nil
}

func (m *Memory) Attempts(_ context.Context, sourceKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[sourceKey], nil
}

func (m *Memory) ClearAttempts(_ context.Context, sourceKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, sourceKey)
	return nil
}

func (m *Memory) RecordCommit(_ context.Context, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, c)
	return nil
}

func (m *Memory) CommittedByHash(_ context.Context, hash string) (Commit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commits {
		if hash != "" && c.ContentHash == hash {
			return c, true, nil
		}
	}
	return Commit{}, false, nil
}

func (m *Memory) Commits(context.Context) ([]Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Commit(nil), m.commits...), nil
}

func (m *Memory) Close() error { return nil }
