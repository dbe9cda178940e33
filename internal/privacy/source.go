package privacy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/raaihank/docguard/internal/logger"
	"go.uber.org/zap"
)

// Source supplies per-class patterns and strategies, preferring the secret
// store and falling back to catalog defaults one class at a time. Source
// never fails: the worst case is a rule set made entirely of defaults.
type Source struct {
	store  SecretStore
	logger *logger.Logger

	mu      sync.RWMutex
	catalog *Catalog
}

// NewSource creates a pattern source. store may be nil, in which case every
// class resolves to its default.
func NewSource(store SecretStore, catalog *Catalog, log *logger.Logger) *Source {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Source{
		store:   store,
		catalog: catalog,
		logger:  log.WithComponent("pattern-source"),
	}
}

// SetCatalog swaps the class catalog, e.g. after a configuration reload
func (s *Source) SetCatalog(c *Catalog) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.catalog = c
	s.mu.Unlock()
	s.logger.Info("Class catalog updated", zap.Int("classes", len(c.Classes())))
}

// Catalog returns the catalog currently in use
func (s *Source) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// IsAvailable reports whether the secret store answers its health probe
func (s *Source) IsAvailable(ctx context.Context) bool {
	if s.store == nil {
		return false
	}
	return s.store.HealthProbe(ctx)
}

// GetPatterns returns a pattern for every known class
func (s *Source) GetPatterns(ctx context.Context) map[Class]Pattern {
	return s.patterns(ctx, s.Catalog())
}

// GetStrategies returns a strategy for every known class
func (s *Source) GetStrategies(ctx context.Context) map[Class]Strategy {
	return s.strategies(ctx, s.Catalog())
}

// Load builds a complete rule set. When the store is unreachable the probe
// short-circuits every per-class request.
func (s *Source) Load(ctx context.Context) Rules {
	catalog := s.Catalog()

	if !s.IsAvailable(ctx) {
		s.logger.Warn("Secret store unavailable, using default patterns")
		return catalog.Defaults()
	}

	rules := Rules{
		Order:      catalog.Classes(),
		Patterns:   s.patterns(ctx, catalog),
		Strategies: s.strategies(ctx, catalog),
	}

	s.enforceDisjoint(rules, catalog)
	return rules
}

// enforceDisjoint keeps every mask literal out of reach of every active
// pattern so masking stays idempotent. A colliding remote strategy falls
// back first; a remote pattern colliding with a default mask falls back
// next. Defaults are disjoint among themselves, so the loop ends once no
// remote entry collides.
func (s *Source) enforceDisjoint(rules Rules, catalog *Catalog) {
	for changed := true; changed; {
		changed = false
		for _, class := range rules.Order {
			strategy := rules.Strategies[class]
			if strategy.Method != MethodMask {
				continue
			}
			for _, other := range rules.Order {
				pattern := rules.Patterns[other]
				if !pattern.Matcher.MatchString(strategy.Template) {
					continue
				}
				if strategy.Source == SourceRemote {
					s.logger.Warn("Remote mask is matched by an active pattern, using default",
						zap.String("class", string(class)),
						zap.String("pattern_class", string(other)),
					)
					rules.Strategies[class] = catalog.DefaultStrategy(class)
					changed = true
					break
				}
				if pattern.Source == SourceRemote {
					s.logger.Warn("Remote pattern matches a mask literal, using default",
						zap.String("class", string(other)),
						zap.String("mask_class", string(class)),
					)
					rules.Patterns[other] = catalog.DefaultPattern(other)
					changed = true
				}
			}
		}
	}
}

func (s *Source) patterns(ctx context.Context, catalog *Catalog) map[Class]Pattern {
	out := make(map[Class]Pattern, len(catalog.Classes()))
	for _, class := range catalog.Classes() {
		p, err := s.remotePattern(ctx, class)
		if err != nil {
			if s.store != nil {
				s.logger.Warn("Using default pattern",
					zap.String("class", string(class)),
					zap.Error(err),
				)
			}
			out[class] = catalog.DefaultPattern(class)
			continue
		}
		out[class] = p
	}
	return out
}

func (s *Source) strategies(ctx context.Context, catalog *Catalog) map[Class]Strategy {
	out := make(map[Class]Strategy, len(catalog.Classes()))
	for _, class := range catalog.Classes() {
		st, err := s.remoteStrategy(ctx, class)
		if err != nil {
			if s.store != nil {
				s.logger.Warn("Using default strategy",
					zap.String("class", string(class)),
					zap.Error(err),
				)
			}
			out[class] = catalog.DefaultStrategy(class)
			continue
		}
		out[class] = st
	}
	return out
}

func (s *Source) remotePattern(ctx context.Context, class Class) (Pattern, error) {
	if s.store == nil {
		return Pattern{}, fmt.Errorf("no secret store configured")
	}
	raw, err := s.store.GetPattern(ctx, class)
	if err != nil {
		return Pattern{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile(raw)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile pattern: %w", err)
	}
	return Pattern{Class: class, Matcher: re, Source: SourceRemote}, nil
}

func (s *Source) remoteStrategy(ctx context.Context, class Class) (Strategy, error) {
	if s.store == nil {
		return Strategy{}, fmt.Errorf("no secret store configured")
	}
	rawMethod, template, err := s.store.GetStrategy(ctx, class)
	if err != nil {
		return Strategy{}, err
	}
	method, err := ParseMethod(rawMethod)
	if err != nil {
		return Strategy{}, err
	}
	switch method {
	case MethodMask:
		if template == "" {
			return Strategy{}, fmt.Errorf("mask strategy without a literal")
		}
	case MethodTokenize:
		if template == "" {
			template = DefaultTokenPrefix(class)
		}
		if !ValidTokenPrefix(template) {
			return Strategy{}, fmt.Errorf("token prefix %q does not produce tok_<class>_<hex> tokens", template)
		}
	}
	return Strategy{Class: class, Method: method, Template: template, Source: SourceRemote}, nil
}
