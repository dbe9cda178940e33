package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/docguard/internal/convert"
	"github.com/raaihank/docguard/internal/knowledge"
	"github.com/raaihank/docguard/internal/ledger"
	"github.com/raaihank/docguard/internal/logger"
	"github.com/raaihank/docguard/internal/privacy"
	"github.com/raaihank/docguard/internal/storage"
	"go.uber.org/zap"
)

// Resolver maps a routing key to its knowledge base
type Resolver interface {
	Resolve(ctx context.Context, key string) (knowledge.Record, error)
	NameFor(key string) string
}

// Containers names the storage containers the pipeline works with
type Containers struct {
	Intake     string
	Processed  string
	Quarantine string
}

// Options are the opt-in retry and idempotency policies
type Options struct {
	// MaxAttempts moves a document to quarantine after that many failures.
	// Zero retries forever.
	MaxAttempts int
	// DedupeByHash skips documents whose content was already committed
	DedupeByHash bool
}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Store      storage.Store
	Containers Containers
	Converter  convert.Converter
	Guard      *privacy.Guard
	Router     Resolver
	Indexer    Indexer
	Ledger     ledger.Ledger
	Sink       Sink
	Logger     *logger.Logger
	Now        func() time.Time
}

// Pipeline drives single documents from intake to a committed, indexed,
// PII-free artifact. The source document is only deleted after everything
// downstream succeeded.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger *logger.Logger
}

type nopSink struct{}

func (nopSink) Transition(Transition) {}

// New creates a pipeline
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Guard == nil:
		return nil, errors.New("pipeline: guard is required")
	case deps.Router == nil:
		return nil, errors.New("pipeline: router is required")
	case deps.Indexer == nil:
		return nil, errors.New("pipeline: indexer is required")
	case deps.Containers.Intake == "" || deps.Containers.Processed == "":
		return nil, errors.New("pipeline: intake and processed containers are required")
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.NewMemory()
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Containers.Quarantine == "" {
		deps.Containers.Quarantine = "quarantine"
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.WithComponent("pipeline"),
	}, nil
}

// Containers returns the configured containers
func (p *Pipeline) Containers() Containers {
	return p.deps.Containers
}

// ProtectedKey is the processed-container key of the protected artifact
func ProtectedKey(sourceKey string) string {
	dir, file := storage.SplitKey(sourceKey)
	return storage.JoinKey(dir, "protected_"+file+".md")
}

// MetadataKey is the processed-container key of the metadata document
func MetadataKey(sourceKey string) string {
	dir, file := storage.SplitKey(sourceKey)
	return storage.JoinKey(dir, "metadata_"+file+".json")
}

// run carries the per-document working set between stages
type run struct {
	task      *Task
	log       *logger.Logger
	raw       []byte
	hash      string
	markdown  string
	protected string
	record    knowledge.Record
	fileID    string
}

// Process runs one document through every stage and returns its task.
// The task always ends in a terminal state; task.Err is a *StageError
// when it failed.
func (p *Pipeline) Process(ctx context.Context, sourceKey string) *Task {
	vp := storage.VirtualPathFromKey(sourceKey)
	task := &Task{
		ID:          uuid.NewString(),
		SourceKey:   sourceKey,
		VirtualPath: vp,
		RoutingKey:  knowledge.RoutingKeyFor(vp),
		CreatedAt:   p.deps.Now(),
	}
	r := &run{task: task, log: p.logger.WithDocument(sourceKey, task.ID)}

	if err := p.fetch(ctx, r); err != nil {
		p.fail(ctx, r, ReasonFetch, err)
		return task
	}

	if p.opts.DedupeByHash {
		if done := p.skipDuplicate(ctx, r); done {
			return task
		}
	}

	if err := p.convert(ctx, r); err != nil {
		p.fail(ctx, r, ReasonConversion, err)
		return task
	}

	p.protect(ctx, r)

	if err := p.route(ctx, r); err != nil {
		p.fail(ctx, r, ReasonRouting, err)
		return task
	}

	if err := p.upload(ctx, r); err != nil {
		p.fail(ctx, r, ReasonUpload, err)
		return task
	}

	if err := p.index(ctx, r); err != nil {
		p.rollback(r)
		p.fail(ctx, r, ReasonIndex, err)
		return task
	}

	if err := p.commit(ctx, r); err != nil {
		p.rollback(r)
		p.fail(ctx, r, ReasonCommit, err)
		return task
	}

	return task
}

func (p *Pipeline) transition(r *run, to State) {
	from := r.task.State
	r.task.State = to

	t := Transition{
		TaskID:     r.task.ID,
		SourceKey:  r.task.SourceKey,
		RoutingKey: r.task.RoutingKey,
		From:       from,
		To:         to,
		Reason:     r.task.Reason,
		At:         p.deps.Now(),
	}
	if r.task.Err != nil {
		t.Error = r.task.Err.Error()
	}
	if r.task.Summary != nil {
		t.PIITotal = r.task.Summary.Total
		t.Tier = string(r.task.Summary.Tier)
	}

	r.log.Debug("Task transition", zap.String("from", string(from)), zap.String("to", string(to)))
	p.deps.Sink.Transition(t)
}

func (p *Pipeline) fetch(ctx context.Context, r *run) error {
	data, err := p.deps.Store.Get(ctx, p.deps.Containers.Intake, r.task.SourceKey)
	if err != nil {
		return err
	}
	r.raw = data
	sum := sha256.Sum256(data)
	r.hash = hex.EncodeToString(sum[:])
	p.transition(r, StateFetched)
	return nil
}

func (p *Pipeline) skipDuplicate(ctx context.Context, r *run) bool {
	prev, found, err := p.deps.Ledger.CommittedByHash(ctx, r.hash)
	if err != nil {
		r.log.Warn("Duplicate lookup failed, processing anyway", zap.Error(err))
		return false
	}
	if !found {
		return false
	}
	if err := p.deps.Store.Delete(ctx, p.deps.Containers.Intake, r.task.SourceKey); err != nil {
		r.log.Warn("Failed to remove duplicate source, processing anyway", zap.Error(err))
		return false
	}
	r.log.Info("Skipped duplicate document",
		zap.String("committed_as", prev.SourceKey),
		zap.String("content_hash", r.hash))
	p.transition(r, StateSkipped)
	return true
}

func (p *Pipeline) convert(ctx context.Context, r *run) error {
	_, file := storage.SplitKey(r.task.SourceKey)

	if p.deps.Converter != nil {
		md, err := p.deps.Converter.Convert(ctx, file, r.raw)
		if err == nil {
			r.markdown = md
			p.transition(r, StateConverted)
			return nil
		}
		r.log.Warn("Converter failed, using text extraction", zap.Error(err))
	}

	md, err := convert.Fallback(file, r.raw)
	if err != nil {
		return err
	}
	r.markdown = md
	p.transition(r, StateConverted)
	return nil
}

func (p *Pipeline) protect(ctx context.Context, r *run) {
	result := p.deps.Guard.Protect(ctx, r.markdown)
	r.protected = result.ProtectedText
	r.task.Summary = &result

	r.log.Info("PII protection completed",
		zap.Int("pii_total", result.Total),
		zap.String("tier", string(result.Tier)))
	p.transition(r, StateProtected)
}

func (p *Pipeline) route(ctx context.Context, r *run) error {
	rec, err := p.deps.Router.Resolve(ctx, r.task.RoutingKey)
	if err != nil {
		return err
	}
	r.record = rec
	p.transition(r, StateRouted)
	return nil
}

// upload sends the artifact to the indexer first so a failed upload leaves
// nothing in the processed container.
func (p *Pipeline) upload(ctx context.Context, r *run) error {
	key := ProtectedKey(r.task.SourceKey)
	_, name := storage.SplitKey(key)

	fileID, err := p.deps.Indexer.UploadFile(ctx, name, []byte(r.protected))
	if err != nil {
		return err
	}
	r.fileID = fileID

	if err := p.deps.Store.Put(ctx, p.deps.Containers.Processed, key, []byte(r.protected)); err != nil {
		p.discardUpload(r)
		return err
	}
	p.transition(r, StateUploaded)
	return nil
}

func (p *Pipeline) index(ctx context.Context, r *run) error {
	if err := p.deps.Indexer.AttachFile(ctx, r.record.ID, r.fileID); err != nil {
		return err
	}
	p.transition(r, StateIndexed)
	return nil
}

func (p *Pipeline) commit(ctx context.Context, r *run) error {
	now := p.deps.Now().UTC()
	protectedKey := ProtectedKey(r.task.SourceKey)
	metadataKey := MetadataKey(r.task.SourceKey)

	meta := Metadata{
		OriginalFile:      r.task.SourceKey,
		ProtectedMarkdown: protectedKey,
		OpenWebUIFileID:   r.fileID,
		KnowledgeBaseID:   r.record.ID,
		KnowledgeBase:     r.record.Name,
		RoutingKey:        r.task.RoutingKey,
		OriginalLength:    len(r.markdown),
		ProtectedLength:   len(r.protected),
		PIIProtection:     *r.task.Summary,
		ContentHash:       r.hash,
		ProcessedAt:       now,
		Status:            StatusCompleted,
	}
	body, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := p.deps.Store.Put(ctx, p.deps.Containers.Processed, metadataKey, body); err != nil {
		return err
	}
	if err := p.deps.Store.Delete(ctx, p.deps.Containers.Intake, r.task.SourceKey); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}

	if err := p.deps.Ledger.RecordCommit(ctx, ledger.Commit{
		SourceKey:       r.task.SourceKey,
		ProtectedKey:    protectedKey,
		MetadataKey:     metadataKey,
		FileID:          r.fileID,
		KnowledgeID:     r.record.ID,
		RoutingKey:      r.task.RoutingKey,
		ContentHash:     r.hash,
		Tier:            string(r.task.Summary.Tier),
		PIITotal:        r.task.Summary.Total,
		OriginalLength:  len(r.markdown),
		ProtectedLength: len(r.protected),
		CommittedAt:     now,
	}); err != nil {
		r.log.Warn("Failed to record commit in ledger", zap.Error(err))
	}
	if err := p.deps.Ledger.ClearAttempts(ctx, r.task.SourceKey); err != nil {
		r.log.Warn("Failed to clear attempts", zap.Error(err))
	}

	p.transition(r, StateCommitted)
	r.log.Info("Document committed",
		zap.String("routing_key", r.task.RoutingKey),
		zap.String("kb_id", r.record.ID),
		zap.String("file_id", r.fileID),
		zap.Int("pii_total", r.task.Summary.Total))
	return nil
}

// rollback removes processed artifacts and the uploaded file. It runs on a
// fresh context so shutdown does not leave half-written output behind.
func (p *Pipeline) rollback(r *run) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, key := range []string{ProtectedKey(r.task.SourceKey), MetadataKey(r.task.SourceKey)} {
		if err := p.deps.Store.Delete(ctx, p.deps.Containers.Processed, key); err != nil {
			r.log.Warn("Rollback failed to remove artifact", zap.String("key", key), zap.Error(err))
		}
	}
	p.discardUpload(r)
}

func (p *Pipeline) discardUpload(r *run) {
	if r.fileID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.deps.Indexer.DeleteFile(ctx, r.fileID); err != nil {
		r.log.Warn("Failed to delete uploaded file", zap.String("file_id", r.fileID), zap.Error(err))
	}
}

func (p *Pipeline) fail(ctx context.Context, r *run, reason Reason, err error) {
	r.task.Reason = reason
	r.task.Err = &StageError{Reason: reason, SourceKey: r.task.SourceKey, Err: err}

	attempts, lerr := p.deps.Ledger.RecordFailure(ctx, r.task.SourceKey, string(reason), err.Error())
	if lerr != nil {
		r.log.Warn("Failed to record attempt", zap.Error(lerr))
	}
	r.task.Attempts = attempts

	if p.opts.MaxAttempts > 0 && attempts >= p.opts.MaxAttempts && r.raw != nil {
		qerr := p.quarantine(ctx, r)
		if qerr == nil {
			r.log.Error("Document quarantined",
				zap.String("reason", string(reason)),
				zap.Int("attempts", attempts),
				zap.Error(err))
			p.transition(r, StateQuarantined)
			return
		}
		r.log.Warn("Quarantine failed", zap.Error(qerr))
	}

	r.log.Error("Document processing failed",
		zap.String("reason", string(reason)),
		zap.Int("attempts", attempts),
		zap.Error(err))
	p.transition(r, StateFailed)
}

func (p *Pipeline) quarantine(ctx context.Context, r *run) error {
	c := p.deps.Containers
	if err := p.deps.Store.Put(ctx, c.Quarantine, r.task.SourceKey, r.raw); err != nil {
		return err
	}
	if err := p.deps.Store.Delete(ctx, c.Intake, r.task.SourceKey); err != nil {
		return err
	}
	return p.deps.Ledger.ClearAttempts(ctx, r.task.SourceKey)
}

// Compare returns the protected artifact and metadata of a processed
// document, addressed by its original intake key.
func (p *Pipeline) Compare(ctx context.Context, name string) (Comparison, error) {
	out := Comparison{Metadata: map[string]any{}}

	data, err := p.deps.Store.Get(ctx, p.deps.Containers.Processed, ProtectedKey(name))
	if err != nil {
		return out, err
	}
	out.Protected = string(data)
	out.ComparisonAvailable = len(data) > 0

	raw, err := p.deps.Store.Get(ctx, p.deps.Containers.Processed, MetadataKey(name))
	switch {
	case err == nil:
		if jerr := json.Unmarshal(raw, &out.Metadata); jerr != nil {
			p.logger.Warn("Unreadable metadata", zap.String("name", name), zap.Error(jerr))
		}
	case errors.Is(err, storage.ErrNotFound):
		// artifact without metadata: commit was interrupted
	default:
		p.logger.Warn("Could not retrieve metadata", zap.String("name", name), zap.Error(err))
	}
	return out, nil
}
