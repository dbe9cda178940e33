package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS document_attempts (
	source_key   TEXT PRIMARY KEY,
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_reason  TEXT NOT NULL DEFAULT '',
	last_error   TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS document_commits (
	id               BIGSERIAL PRIMARY KEY,
	source_key       TEXT NOT NULL,
	protected_key    TEXT NOT NULL,
	metadata_key     TEXT NOT NULL,
	file_id          TEXT NOT NULL,
	knowledge_id     TEXT NOT NULL,
	routing_key      TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	tier             TEXT NOT NULL,
	pii_total        INTEGER NOT NULL,
	original_length  INTEGER NOT NULL,
	protected_length INTEGER NOT NULL,
	committed_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS document_commits_hash_idx ON document_commits (content_hash);
`

// Postgres is a ledger shared by every replica pointing at the same database
type Postgres struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewPostgres connects, sizes the pool and creates the schema
func NewPostgres(cfg config.LedgerConfig, log *logger.Logger) (*Postgres, error) {
	if log == nil {
		log = logger.NewNop()
	}
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	p := &Postgres{db: db, logger: log.WithComponent("ledger")}
	if err := p.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	p.logger.Info("Ledger initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return p, nil
}

func (p *Postgres) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (p *Postgres) RecordFailure(ctx context.Context, sourceKey, reason, message string) (int, error) {
	query := `
		INSERT INTO document_attempts (source_key, attempts, last_reason, last_error, updated_at)
		VALUES ($1, 1, $2, $3, NOW())
		ON CONFLICT (source_key) DO UPDATE
		SET attempts = document_attempts.attempts + 1,
		    last_reason = EXCLUDED.last_reason,
		    last_error = EXCLUDED.last_error,
		    updated_at = NOW()
		RETURNING attempts`

	var attempts int
	if err := p.db.GetContext(ctx, &attempts, query, sourceKey, reason, message); err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	return attempts, nil
}

func (p *Postgres) Attempts(ctx context.Context, sourceKey string) (int, error) {
	var attempts int
	err := p.db.GetContext(ctx, &attempts, `SELECT attempts FROM document_attempts WHERE source_key = $1`, sourceKey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	return attempts, nil
}

func (p *Postgres) ClearAttempts(ctx context.Context, sourceKey string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM document_attempts WHERE source_key = $1`, sourceKey); err != nil {
		return fmt.Errorf("failed to clear attempts: %w", err)
	}
	return nil
}

func (p *Postgres) RecordCommit(ctx context.Context, c Commit) error {
	query := `
		INSERT INTO document_commits (
			source_key, protected_key, metadata_key, file_id, knowledge_id, routing_key,
			content_hash, tier, pii_total, original_length, protected_length, committed_at
		) VALUES (
			:source_key, :protected_key, :metadata_key, :file_id, :knowledge_id, :routing_key,
			:content_hash, :tier, :pii_total, :original_length, :protected_length, :committed_at
		)`
	if _, err := p.db.NamedExecContext(ctx, query, c); err != nil {
		p.logger.Error("Failed to record commit", zap.String("source_key", c.SourceKey), zap.Error(err))
		return fmt.Errorf("failed to record commit: %w", err)
	}
	return nil
}

const commitColumns = `source_key, protected_key, metadata_key, file_id, knowledge_id, routing_key,
	content_hash, tier, pii_total, original_length, protected_length, committed_at`

func (p *Postgres) CommittedByHash(ctx context.Context, hash string) (Commit, bool, error) {
	var c Commit
	query := `SELECT ` + commitColumns + ` FROM document_commits WHERE content_hash = $1 ORDER BY id LIMIT 1`
	err := p.db.GetContext(ctx, &c, query, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return Commit{}, false, nil
	}
	if err != nil {
		return Commit{}, false, fmt.Errorf("failed to look up hash: %w", err)
	}
	return c, true, nil
}

func (p *Postgres) Commits(ctx context.Context) ([]Commit, error) {
	var out []Commit
	if err := p.db.SelectContext(ctx, &out, `SELECT `+commitColumns+` FROM document_commits ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	return out, nil
}

// Close closes the database pool
func (p *Postgres) Close() error {
	return p.db.Close()
}

// maskDatabaseURL hides the password of a postgres URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], ":") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
