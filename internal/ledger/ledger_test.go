package ledger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raaihank/docguard/internal/config"
	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	key := "hr/" + time.Now().Format("150405.000000") + ".txt"

	n, err := l.Attempts(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = l.RecordFailure(ctx, key, "UploadError", "503")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = l.RecordFailure(ctx, key, "IndexError", "500")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, l.ClearAttempts(ctx, key))
	n, err = l.Attempts(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, n)

	hash := "sha256-" + key
	_, found, err := l.CommittedByHash(ctx, hash)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, l.RecordCommit(ctx, Commit{
		SourceKey:   key,
		ContentHash: hash,
		RoutingKey:  "hr",
		Tier:        "fallback",
		PIITotal:    3,
		CommittedAt: time.Now().UTC().Truncate(time.Microsecond),
	}))
	c, found, err := l.CommittedByHash(ctx, hash)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, key, c.SourceKey)
	assert.Equal(t, 3, c.PIITotal)
}

func TestMemory(t *testing.T) {
	exerciseLedger(t, NewMemory())
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("DOCGUARD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DOCGUARD_TEST_DATABASE_URL not set")
	}
	cfg := config.GetDefaults().Ledger
	cfg.Backend = "postgres"
	cfg.DatabaseURL = url

	l, err := Open(cfg, nil)
	require.NoError(t, err)
	defer l.Close()
	exerciseLedger(t, l)
}

func TestExportParquet(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	for _, key := range []string{"a.txt", "hr/b.txt"} {
		require.NoError(t, l.RecordCommit(ctx, Commit{
			SourceKey:   key,
			RoutingKey:  "default",
			Tier:        "remote",
			PIITotal:    1,
			CommittedAt: time.Unix(1700000000, 0).UTC(),
		}))
	}

	path := filepath.Join(t.TempDir(), "commits.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	n, err := ExportParquet(ctx, l, f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, 2, n)

	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()

	reader := parquet.NewReader(in)
	defer reader.Close()

	var keys []string
	for {
		var row CommitRow
		err := reader.Read(&row)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		keys = append(keys, row.SourceKey)
	}
	assert.Equal(t, []string{"a.txt", "hr/b.txt"}, keys)
	assert.Equal(t, int64(1700000000000), toRow(Commit{CommittedAt: time.Unix(1700000000, 0)}).CommittedAtMS)
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://docguard:***@db:5432/docguard", maskDatabaseURL("postgres://docguard:pw@db:5432/docguard"))
	assert.Equal(t, "postgres://db/docguard", maskDatabaseURL("postgres://db/docguard"))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(config.LedgerConfig{Backend: "mongo"}, nil)
	assert.Error(t, err)
}
