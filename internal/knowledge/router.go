package knowledge

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raaihank/docguard/internal/keylock"
	"github.com/raaihank/docguard/internal/logger"
	"github.com/raaihank/docguard/internal/openwebui"
	"github.com/raaihank/docguard/internal/storage"
	"go.uber.org/zap"
)

// DefaultRoutingKey is used for documents at the root of the intake container
const DefaultRoutingKey = "default"

// Record identifies the knowledge base serving one routing key
type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ModelID     string `json:"model_id,omitempty"`
}

// Service is the part of the indexing service the router needs
type Service interface {
	ListKnowledge(ctx context.Context) ([]openwebui.Knowledge, error)
	CreateKnowledge(ctx context.Context, name, description string) (openwebui.Knowledge, error)
	CreateModel(ctx context.Context, spec openwebui.ModelSpec) (string, error)
}

// Router maps routing keys to knowledge bases, creating them on first use
type Router struct {
	service Service
	locks   keylock.Locker
	suffix  string
	logger  *logger.Logger
}

// NewRouter creates a router. suffix is appended to the title-cased key to
// form the knowledge base name.
func NewRouter(service Service, locks keylock.Locker, suffix string, log *logger.Logger) *Router {
	if locks == nil {
		locks = keylock.NewLocal()
	}
	if suffix == "" {
		suffix = "Documents"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Router{
		service: service,
		locks:   locks,
		suffix:  suffix,
		logger:  log.WithComponent("kb-router"),
	}
}

// RoutingKeyFor returns the first non-empty segment of vp or DefaultRoutingKey
func RoutingKeyFor(vp storage.VirtualPath) string {
	for _, seg := range vp {
		if seg = strings.TrimSpace(seg); seg != "" {
			return seg
		}
	}
	return DefaultRoutingKey
}

// Title upper-cases the first rune of key and leaves the rest untouched
func Title(key string) string {
	r, size := utf8.DecodeRuneInString(key)
	if r == utf8.RuneError {
		return key
	}
	return string(unicode.ToUpper(r)) + key[size:]
}

// NameFor returns the knowledge base name for a routing key
func (r *Router) NameFor(key string) string {
	return Title(key) + " " + r.suffix
}

// DescriptionFor returns the knowledge base description for a routing key
func DescriptionFor(key string) string {
	return fmt.Sprintf("Knowledge base for %s documents", key)
}

// ModelNameFor returns the companion model name for a routing key
func ModelNameFor(key string) string {
	return Title(key) + " Assistant"
}

// Resolve returns the knowledge base for key, creating it when absent.
// Listing happens under the key's lock on every call, so a knowledge base
// deleted out of band is recreated rather than served from a stale cache.
func (r *Router) Resolve(ctx context.Context, key string) (Record, error) {
	if key == "" {
		key = DefaultRoutingKey
	}
	log := r.logger.With(zap.String("routing_key", key))

	// keys that differ only in first-letter case share a name, so the lock
	// is taken on the name that get-or-create matches on
	name := r.NameFor(key)
	unlock, err := r.locks.Lock(ctx, name)
	if err != nil {
		return Record{}, fmt.Errorf("lock knowledge base %q: %w", name, err)
	}
	defer unlock()

	existing, err := r.service.ListKnowledge(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("list knowledge bases: %w", err)
	}
	for _, kb := range existing {
		if kb.Name == name {
			log.Debug("Found existing knowledge base", zap.String("kb_id", kb.ID))
			return Record{ID: kb.ID, Name: kb.Name, Description: kb.Description}, nil
		}
	}

	description := DescriptionFor(key)
	kb, err := r.service.CreateKnowledge(ctx, name, description)
	if err != nil {
		return Record{}, fmt.Errorf("create knowledge base %q: %w", name, err)
	}
	log.Info("Created knowledge base", zap.String("kb_id", kb.ID), zap.String("name", name))

	rec := Record{ID: kb.ID, Name: name, Description: description}

	modelID, err := r.service.CreateModel(ctx, openwebui.ModelSpec{
		Name:        ModelNameFor(key),
		Description: fmt.Sprintf("Assistant answering from the %s knowledge base", name),
		Knowledge:   openwebui.Knowledge{ID: kb.ID, Name: name, Description: description},
	})
	if err != nil {
		log.Warn("Companion model creation failed", zap.String("kb_id", kb.ID), zap.Error(err))
		return rec, nil
	}
	rec.ModelID = modelID
	return rec, nil
}
