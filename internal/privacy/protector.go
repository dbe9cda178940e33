package privacy

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// tokenBytes is the entropy per token; hex encoding doubles it to 12 chars
const tokenBytes = 6

// Applier applies a rule set to text
type Applier interface {
	Apply(text string, rules Rules) (Result, error)
}

// Protector applies rule sets using random tokens for tokenized classes
type Protector struct {
	random io.Reader
}

// NewProtector creates a protector backed by crypto/rand
func NewProtector() *Protector {
	return &Protector{random: rand.Reader}
}

// NewProtectorWithReader creates a protector drawing token entropy from r
func NewProtectorWithReader(r io.Reader) *Protector {
	return &Protector{random: r}
}

// segment is a run of text; protected runs are replacements already emitted
// and are never matched again.
type segment struct {
	text      string
	protected bool
}

// Apply replaces every match of each class, in rule order. Counts are taken
// against the original text so a replacement can never be counted twice.
func (p *Protector) Apply(text string, rules Rules) (Result, error) {
	result := Result{
		Counts:  make(map[Class]int, len(rules.Order)),
		Sources: make(map[Class]Origin, len(rules.Order)),
		Tier:    rules.Tier(),
	}

	segments := []segment{{text: text}}
	for _, class := range rules.Order {
		pattern, ok := rules.Patterns[class]
		if !ok || pattern.Matcher == nil {
			return Result{}, fmt.Errorf("no pattern for class %s", class)
		}
		strategy, ok := rules.Strategies[class]
		if !ok {
			return Result{}, fmt.Errorf("no strategy for class %s", class)
		}

		count := len(pattern.Matcher.FindAllStringIndex(text, -1))
		result.Counts[class] = count
		result.Total += count
		result.Sources[class] = pattern.Source

		var err error
		segments, err = splitSegments(segments, pattern.Matcher, func() (string, error) {
			return p.replacement(strategy)
		})
		if err != nil {
			return Result{}, fmt.Errorf("class %s: %w", class, err)
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, seg := range segments {
		b.WriteString(seg.text)
	}
	result.ProtectedText = b.String()

	return result, nil
}

// splitSegments replaces every non-empty match inside unprotected segments
// with the value returned by next, marking the replacement protected.
func splitSegments(segments []segment, matcher *regexp.Regexp, next func() (string, error)) ([]segment, error) {
	out := make([]segment, 0, len(segments))
	for _, seg := range segments {
		if seg.protected {
			out = append(out, seg)
			continue
		}

		last := 0
		for _, m := range matcher.FindAllStringIndex(seg.text, -1) {
			if m[0] == m[1] {
				continue
			}
			if m[0] > last {
				out = append(out, segment{text: seg.text[last:m[0]]})
			}
			replacement, err := next()
			if err != nil {
				return nil, err
			}
			out = append(out, segment{text: replacement, protected: true})
			last = m[1]
		}
		if last < len(seg.text) {
			out = append(out, segment{text: seg.text[last:]})
		}
	}
	return out, nil
}

func (p *Protector) replacement(strategy Strategy) (string, error) {
	switch strategy.Method {
	case MethodMask:
		return strategy.Template, nil
	case MethodTokenize:
		token, err := p.token()
		if err != nil {
			return "", err
		}
		prefix := strategy.Template
		if prefix == "" {
			prefix = DefaultTokenPrefix(strategy.Class)
		}
		return prefix + token, nil
	default:
		return "", fmt.Errorf("unknown method %q", strategy.Method)
	}
}

func (p *Protector) token() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(p.random, buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
