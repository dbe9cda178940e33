package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
)

// Commit is the audit record of one successfully processed document
type Commit struct {
	SourceKey       string    `db:"source_key" json:"source_key"`
	ProtectedKey    string    `db:"protected_key" json:"protected_key"`
	MetadataKey     string    `db:"metadata_key" json:"metadata_key"`
	FileID          string    `db:"file_id" json:"file_id"`
	KnowledgeID     string    `db:"knowledge_id" json:"knowledge_id"`
	RoutingKey      string    `db:"routing_key" json:"routing_key"`
	ContentHash     string    `db:"content_hash" json:"content_hash"`
	Tier            string    `db:"tier" json:"tier"`
	PIITotal        int       `db:"pii_total" json:"pii_total"`
	OriginalLength  int       `db:"original_length" json:"original_length"`
	ProtectedLength int       `db:"protected_length" json:"protected_length"`
	CommittedAt     time.Time `db:"committed_at" json:"committed_at"`
}

// Ledger records failed attempts and commits across polling cycles
type Ledger interface {
	// RecordFailure increments the attempt counter of a source key and
	// returns the new count
	RecordFailure(ctx context.Context, sourceKey, reason, message string) (int, error)
	Attempts(ctx context.Context, sourceKey string) (int, error)
	ClearAttempts(ctx context.Context, sourceKey string) error
	RecordCommit(ctx context.Context, c Commit) error
	// CommittedByHash finds an earlier commit with the same content hash
	CommittedByHash(ctx context.Context, hash string) (Commit, bool, error)
	// Commits lists commits, oldest first
	Commits(ctx context.Context) ([]Commit, error)
	Close() error
}

// Open creates the configured ledger backend
func Open(cfg config.LedgerConfig, log *logger.Logger) (Ledger, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Backend)
	}
}
