package privacy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/raaihank/docguard/internal/config"
)

// ClassSpec is the built-in (default) definition of one PII class
type ClassSpec struct {
	Class    Class
	Pattern  *regexp.Regexp
	Method   Method
	Template string
}

// Catalog is the ordered set of known classes with their defaults.
// A Catalog is immutable once built.
type Catalog struct {
	specs []ClassSpec
	index map[Class]int
}

// tokenShape matches tokens produced by the tokenize strategy
var tokenShape = regexp.MustCompile(`^tok_[A-Za-z0-9_-]+_[0-9a-f]{12}$`)

// TokenShape returns the regular expression every generated token matches
func TokenShape() *regexp.Regexp {
	return tokenShape
}

// ValidTokenPrefix reports whether tokens built from prefix match TokenShape
func ValidTokenPrefix(prefix string) bool {
	return tokenShape.MatchString(prefix + strings.Repeat("0", tokenBytes*2))
}

// defaultSpecs are the four core classes. The original deployment matched
// US-formatted identifiers; other locales add classes through configuration.
func defaultSpecs() []ClassSpec {
	return []ClassSpec{
		{
			Class:    ClassSSN,
			Pattern:  regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Method:   MethodTokenize,
			Template: DefaultTokenPrefix(ClassSSN),
		},
		{
			Class:    ClassEmail,
			Pattern:  regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
			Method:   MethodTokenize,
			Template: DefaultTokenPrefix(ClassEmail),
		},
		{
			Class:    ClassPhone,
			Pattern:  regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`),
			Method:   MethodMask,
			Template: "***-***-****",
		},
		{
			Class:    ClassBank,
			Pattern:  regexp.MustCompile(`\b\d{4}-\d{4}-\d{4}-\d{4}\b`),
			Method:   MethodMask,
			Template: "****-****-****-****",
		},
	}
}

// DefaultTokenPrefix is the token prefix used when none is configured
func DefaultTokenPrefix(class Class) string {
	return "tok_" + string(class) + "_"
}

// DefaultCatalog returns the built-in catalog
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultSpecs())
	if err != nil {
		panic(err)
	}
	return c
}

// NewCatalog builds a catalog from specs, keeping their order
func NewCatalog(specs []ClassSpec) (*Catalog, error) {
	c := &Catalog{index: make(map[Class]int, len(specs))}
	for _, spec := range specs {
		if spec.Class == "" {
			return nil, fmt.Errorf("class name is required")
		}
		if spec.Pattern == nil {
			return nil, fmt.Errorf("class %s: pattern is required", spec.Class)
		}
		if spec.Method == MethodTokenize && spec.Template == "" {
			spec.Template = DefaultTokenPrefix(spec.Class)
		}
		if spec.Method == MethodTokenize && !ValidTokenPrefix(spec.Template) {
			return nil, fmt.Errorf("class %s: token prefix %q does not produce tok_<class>_<hex> tokens", spec.Class, spec.Template)
		}
		if i, ok := c.index[spec.Class]; ok {
			c.specs[i] = spec
			continue
		}
		c.index[spec.Class] = len(c.specs)
		c.specs = append(c.specs, spec)
	}

	if err := c.checkDisjoint(); err != nil {
		return nil, err
	}
	return c, nil
}

// CatalogFromConfig extends the built-in catalog with configured classes.
// A configured class with a built-in name replaces that class's defaults in
// place; new classes are applied after the built-ins in configuration order.
func CatalogFromConfig(cfg config.PrivacyConfig) (*Catalog, error) {
	specs := defaultSpecs()
	for _, cc := range cfg.Classes {
		pattern, err := regexp.Compile(cc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", cc.Name, err)
		}
		method, err := ParseMethod(cc.Method)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", cc.Name, err)
		}
		specs = append(specs, ClassSpec{
			Class:    Class(strings.TrimSpace(cc.Name)),
			Pattern:  pattern,
			Method:   method,
			Template: cc.Template,
		})
	}
	return NewCatalog(specs)
}

// ParseMethod parses a strategy method name
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodTokenize:
		return MethodTokenize, nil
	case MethodMask:
		return MethodMask, nil
	default:
		return "", fmt.Errorf("unknown replacement method %q", s)
	}
}

// checkDisjoint rejects mask literals that any catalog pattern would match,
// so masking stays idempotent.
func (c *Catalog) checkDisjoint() error {
	for _, spec := range c.specs {
		if spec.Method != MethodMask {
			continue
		}
		for _, other := range c.specs {
			if other.Pattern.MatchString(spec.Template) {
				return fmt.Errorf("class %s: mask %q is matched by the %s pattern", spec.Class, spec.Template, other.Class)
			}
		}
	}
	return nil
}

// Classes returns the classes in application order
func (c *Catalog) Classes() []Class {
	out := make([]Class, len(c.specs))
	for i, spec := range c.specs {
		out[i] = spec.Class
	}
	return out
}

// Spec returns the default definition of a class
func (c *Catalog) Spec(class Class) (ClassSpec, bool) {
	i, ok := c.index[class]
	if !ok {
		return ClassSpec{}, false
	}
	return c.specs[i], true
}

// DefaultPattern returns the default pattern entry for a class
func (c *Catalog) DefaultPattern(class Class) Pattern {
	spec, _ := c.Spec(class)
	return Pattern{Class: class, Matcher: spec.Pattern, Source: SourceDefault}
}

// DefaultStrategy returns the default strategy entry for a class
func (c *Catalog) DefaultStrategy(class Class) Strategy {
	spec, _ := c.Spec(class)
	return Strategy{Class: class, Method: spec.Method, Template: spec.Template, Source: SourceDefault}
}

// Defaults returns a rule set made only of defaults
func (c *Catalog) Defaults() Rules {
	rules := Rules{
		Order:      c.Classes(),
		Patterns:   make(map[Class]Pattern, len(c.specs)),
		Strategies: make(map[Class]Strategy, len(c.specs)),
	}
	for _, spec := range c.specs {
		rules.Patterns[spec.Class] = c.DefaultPattern(spec.Class)
		rules.Strategies[spec.Class] = c.DefaultStrategy(spec.Class)
	}
	return rules
}
