package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/raaihank/docguard/internal/knowledge"
	"github.com/raaihank/docguard/internal/storage"
)

// KnowledgeBaseSummary counts documents per routing key
type KnowledgeBaseSummary struct {
	RoutingKey string `json:"routing_key"`
	Name       string `json:"name"`
	Pending    int    `json:"pending"`
	Processed  int    `json:"processed"`
}

// Inventory scans the intake and processed containers and groups documents
// by routing key. It does not contact the indexing service.
func (p *Pipeline) Inventory(ctx context.Context) ([]KnowledgeBaseSummary, error) {
	byKey := map[string]*KnowledgeBaseSummary{}
	entry := func(key string) *KnowledgeBaseSummary {
		s, ok := byKey[key]
		if !ok {
			s = &KnowledgeBaseSummary{RoutingKey: key, Name: p.deps.Router.NameFor(key)}
			byKey[key] = s
		}
		return s
	}
	// the default knowledge base is always listed
	entry(knowledge.DefaultRoutingKey)

	intake, err := p.deps.Store.List(ctx, p.deps.Containers.Intake)
	if err != nil {
		return nil, err
	}
	for _, key := range intake {
		if storage.IsDirMarker(key) {
			entry(knowledge.RoutingKeyFor(storage.ParseVirtualPath(key)))
			continue
		}
		entry(knowledge.RoutingKeyFor(storage.VirtualPathFromKey(key))).Pending++
	}

	processed, err := p.deps.Store.List(ctx, p.deps.Containers.Processed)
	if err != nil {
		return nil, err
	}
	for _, key := range processed {
		_, file := storage.SplitKey(key)
		if !strings.HasPrefix(file, "protected_") {
			continue
		}
		entry(knowledge.RoutingKeyFor(storage.VirtualPathFromKey(key))).Processed++
	}

	out := make([]KnowledgeBaseSummary, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoutingKey < out[j].RoutingKey })
	return out, nil
}
