package privacy

import (
	"regexp"
	"strings"
)

// FallbackProtector is the last-resort protector. It uses fixed built-in
// rules with deterministic replacements and cannot fail.
type FallbackProtector struct {
	rules []fallbackRule
}

type fallbackRule struct {
	class       Class
	matcher     *regexp.Regexp
	replacement string
}

// NewFallbackProtector creates the built-in fallback protector
func NewFallbackProtector() *FallbackProtector {
	catalog := DefaultCatalog()
	rules := make([]fallbackRule, 0, len(catalog.Classes()))
	for _, class := range catalog.Classes() {
		spec, _ := catalog.Spec(class)
		replacement := spec.Template
		if spec.Method == MethodTokenize {
			replacement = DefaultTokenPrefix(class) + strings.Repeat("0", tokenBytes*2)
		}
		rules = append(rules, fallbackRule{class: class, matcher: spec.Pattern, replacement: replacement})
	}
	return &FallbackProtector{rules: rules}
}

// Apply protects text with the fixed rules
func (f *FallbackProtector) Apply(text string) Result {
	result := Result{
		Counts:  make(map[Class]int, len(f.rules)),
		Sources: make(map[Class]Origin, len(f.rules)),
		Tier:    TierFallback,
	}

	segments := []segment{{text: text}}
	for _, rule := range f.rules {
		count := len(rule.matcher.FindAllStringIndex(text, -1))
		result.Counts[rule.class] = count
		result.Total += count
		result.Sources[rule.class] = SourceDefault
		replacement := rule.replacement
		segments, _ = splitSegments(segments, rule.matcher, func() (string, error) {
			return replacement, nil
		})
	}

	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.text)
	}
	result.ProtectedText = b.String()
	return result
}
