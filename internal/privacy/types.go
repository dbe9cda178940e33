package privacy

import (
	"context"
	"regexp"
)

// Class is a PII category such as "ssn" or "email"
type Class string

// Built-in classes, in the order they are applied
const (
	ClassSSN   Class = "ssn"
	ClassEmail Class = "email"
	ClassPhone Class = "phone"
	ClassBank  Class = "bank"
)

// Origin records where a pattern or strategy came from
type Origin string

const (
	SourceRemote  Origin = "remote"
	SourceDefault Origin = "default"
)

// Tier records which protection tier produced a result
type Tier string

const (
	TierRemote   Tier = "remote"
	TierFallback Tier = "fallback"
)

// Method is how matches of a class are replaced
type Method string

const (
	MethodTokenize Method = "tokenize"
	MethodMask     Method = "mask"
)

// Pattern is the matcher for one class
type Pattern struct {
	Class   Class
	Matcher *regexp.Regexp
	Source  Origin
}

// Strategy describes the replacement for one class. Template is the mask
// literal for MethodMask and the token prefix for MethodTokenize.
type Strategy struct {
	Class    Class
	Method   Method
	Template string
	Source   Origin
}

// Rules is a complete, ordered rule set ready for Apply
type Rules struct {
	Order      []Class
	Patterns   map[Class]Pattern
	Strategies map[Class]Strategy
}

// Tier reports TierRemote when at least one entry came from the secret store
func (r Rules) Tier() Tier {
	for _, p := range r.Patterns {
		if p.Source == SourceRemote {
			return TierRemote
		}
	}
	for _, s := range r.Strategies {
		if s.Source == SourceRemote {
			return TierRemote
		}
	}
	return TierFallback
}

// Result is the outcome of protecting one text
type Result struct {
	ProtectedText string           `json:"-"`
	Counts        map[Class]int    `json:"per_class_count"`
	Total         int              `json:"total_count"`
	Tier          Tier             `json:"tier_used"`
	Sources       map[Class]Origin `json:"sources,omitempty"`
}

// SecretStore is the remote source of per-class patterns and strategies.
// Errors are scoped to the requested class.
type SecretStore interface {
	HealthProbe(ctx context.Context) bool
	GetPattern(ctx context.Context, class Class) (string, error)
	GetStrategy(ctx context.Context, class Class) (method, template string, err error)
}
