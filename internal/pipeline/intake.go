package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/raaihank/docguard/internal/knowledge"
	"github.com/raaihank/docguard/internal/storage"
	"go.uber.org/zap"
)

// ErrInvalidUpload marks a submission whose folder or file name cannot form
// an intake key
var ErrInvalidUpload = errors.New("invalid upload")

// ErrExists is returned when the intake already holds the submitted key
var ErrExists = errors.New("document already pending")

// Submission describes a document written to the intake container
type Submission struct {
	Key           string `json:"key"`
	RoutingKey    string `json:"routing_key"`
	KnowledgeBase string `json:"knowledge_base"`
	Size          int    `json:"size"`
}

// Submit writes a document into the intake container under folder. The
// poller picks it up on its next cycle.
func (p *Pipeline) Submit(ctx context.Context, folder, name string, data []byte) (Submission, error) {
	key, err := intakeKey(folder, name)
	if err != nil {
		return Submission{}, err
	}

	_, err = p.deps.Store.Get(ctx, p.deps.Containers.Intake, key)
	switch {
	case err == nil:
		return Submission{}, fmt.Errorf("%s: %w", key, ErrExists)
	case !errors.Is(err, storage.ErrNotFound):
		return Submission{}, err
	}

	if err := p.deps.Store.Put(ctx, p.deps.Containers.Intake, key, data); err != nil {
		return Submission{}, fmt.Errorf("store %s: %w", key, err)
	}

	routingKey := knowledge.RoutingKeyFor(storage.VirtualPathFromKey(key))
	p.logger.Info("Document submitted",
		zap.String("key", key),
		zap.String("routing_key", routingKey),
		zap.Int("bytes", len(data)))

	return Submission{
		Key:           key,
		RoutingKey:    routingKey,
		KnowledgeBase: p.deps.Router.NameFor(routingKey),
		Size:          len(data),
	}, nil
}

// intakeKey joins a client folder and file name into a storage key. Only the
// base of name is kept and folder segments may not climb out of the container.
func intakeKey(folder, name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: file name required", ErrInvalidUpload)
	}

	var segments []string
	for _, seg := range strings.Split(strings.ReplaceAll(folder, "\\", "/"), "/") {
		seg = strings.TrimSpace(seg)
		switch seg {
		case "":
			continue
		case ".", "..":
			return "", fmt.Errorf("%w: folder %q", ErrInvalidUpload, folder)
		}
		segments = append(segments, seg)
	}
	return storage.JoinKey(strings.Join(segments, "/"), name), nil
}

// ProcessedFile is one committed document as seen from the processed container
type ProcessedFile struct {
	Name          string    `json:"name"`
	Key           string    `json:"key"`
	SourceKey     string    `json:"source_key"`
	Size          int       `json:"size"`
	RoutingKey    string    `json:"routing_key"`
	KnowledgeBase string    `json:"knowledge_base"`
	Status        string    `json:"status"`
	ProcessedAt   time.Time `json:"processed_at"`
	PIITotal      int       `json:"pii_total"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// Files lists the protected artifacts in the processed container, newest
// first. Artifacts whose metadata is missing are reported with status
// "processed" and no metadata.
func (p *Pipeline) Files(ctx context.Context) ([]ProcessedFile, error) {
	keys, err := p.deps.Store.List(ctx, p.deps.Containers.Processed)
	if err != nil {
		return nil, err
	}

	out := []ProcessedFile{}
	for _, key := range keys {
		if storage.IsDirMarker(key) {
			continue
		}
		dir, file := storage.SplitKey(key)
		if !strings.HasPrefix(file, "protected_") || !strings.HasSuffix(file, ".md") {
			continue
		}
		source := storage.JoinKey(dir, strings.TrimSuffix(strings.TrimPrefix(file, "protected_"), ".md"))

		data, err := p.deps.Store.Get(ctx, p.deps.Containers.Processed, key)
		if err != nil {
			return nil, err
		}

		routingKey := knowledge.RoutingKeyFor(storage.VirtualPathFromKey(source))
		f := ProcessedFile{
			Name:          file,
			Key:           key,
			SourceKey:     source,
			Size:          len(data),
			RoutingKey:    routingKey,
			KnowledgeBase: p.deps.Router.NameFor(routingKey),
			Status:        "processed",
		}

		raw, err := p.deps.Store.Get(ctx, p.deps.Containers.Processed, MetadataKey(source))
		switch {
		case err == nil:
			var meta Metadata
			if jerr := json.Unmarshal(raw, &meta); jerr != nil {
				p.logger.Warn("Unreadable metadata", zap.String("key", key), zap.Error(jerr))
				break
			}
			f.Metadata = &meta
			f.Status = meta.Status
			f.ProcessedAt = meta.ProcessedAt
			f.PIITotal = meta.PIIProtection.Total
			if meta.KnowledgeBase != "" {
				f.KnowledgeBase = meta.KnowledgeBase
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			return nil, err
		}
		out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].ProcessedAt.After(out[j].ProcessedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}
