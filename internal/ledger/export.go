package ledger

import (
	"context"
	"fmt"
	"io"

	"github.com/segmentio/parquet-go"
)

// CommitRow is the flat parquet layout of a Commit
type CommitRow struct {
	SourceKey       string `parquet:"source_key"`
	ProtectedKey    string `parquet:"protected_key"`
	MetadataKey     string `parquet:"metadata_key"`
	FileID          string `parquet:"file_id"`
	KnowledgeID     string `parquet:"knowledge_id"`
	RoutingKey      string `parquet:"routing_key"`
	ContentHash     string `parquet:"content_hash"`
	Tier            string `parquet:"tier"`
	PIITotal        int64  `parquet:"pii_total"`
	OriginalLength  int64  `parquet:"original_length"`
	ProtectedLength int64  `parquet:"protected_length"`
	CommittedAtMS   int64  `parquet:"committed_at_ms"`
}

func toRow(c Commit) CommitRow {
	return CommitRow{
		SourceKey:       c.SourceKey,
		ProtectedKey:    c.ProtectedKey,
		MetadataKey:     c.MetadataKey,
		FileID:          c.FileID,
		KnowledgeID:     c.KnowledgeID,
		RoutingKey:      c.RoutingKey,
		ContentHash:     c.ContentHash,
		Tier:            c.Tier,
		PIITotal:        int64(c.PIITotal),
		OriginalLength:  int64(c.OriginalLength),
		ProtectedLength: int64(c.ProtectedLength),
		CommittedAtMS:   c.CommittedAt.UnixMilli(),
	}
}

// ExportParquet writes every commit as one parquet row and returns the count
func ExportParquet(ctx context.Context, l Ledger, w io.Writer) (int, error) {
	commits, err := l.Commits(ctx)
	if err != nil {
		return 0, err
	}

	writer := parquet.NewWriter(w, parquet.SchemaOf(new(CommitRow)))
	for i, c := range commits {
		row := toRow(c)
		if err := writer.Write(&row); err != nil {
			return i, fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		return len(commits), fmt.Errorf("close parquet writer: %w", err)
	}
	return len(commits), nil
}
