package privacy

import (
	"context"
	"fmt"

	"github.com/raaihank/docguard/internal/logger"
	"go.uber.org/zap"
)

// Guard runs the primary protection path and drops to the fallback protector
// on any error or panic, so protection itself never fails a document.
type Guard struct {
	source   *Source
	applier  Applier
	fallback *FallbackProtector
	logger   *logger.Logger
}

// NewGuard wires a source and applier with the built-in fallback
func NewGuard(source *Source, applier Applier, log *logger.Logger) *Guard {
	if applier == nil {
		applier = NewProtector()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Guard{
		source:   source,
		applier:  applier,
		fallback: NewFallbackProtector(),
		logger:   log.WithComponent("pii-guard"),
	}
}

// Source returns the pattern source behind the guard
func (g *Guard) Source() *Source {
	return g.source
}

// Protect returns protected text and its PII summary
func (g *Guard) Protect(ctx context.Context, text string) Result {
	result, err := g.primary(ctx, text)
	if err != nil {
		g.logger.Warn("Primary protection failed, using fallback protector", zap.Error(err))
		return g.fallback.Apply(text)
	}
	return result
}

func (g *Guard) primary(ctx context.Context, text string) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("protection panicked: %v", r)
		}
	}()

	if g.source == nil {
		return Result{}, fmt.Errorf("no pattern source")
	}
	rules := g.source.Load(ctx)
	return g.applier.Apply(text, rules)
}
