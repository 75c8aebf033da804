// Package validation provides centralized input validation for metron.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for entity names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// MetricNameRules returns the rules for metric names.
func MetricNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// TagKeyRules returns the rules for tag keys.
func TagKeyRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateMetricName validates a metric name.
func ValidateMetricName(name string) error {
	return ValidateName(name, MetricNameRules())
}

// ValidateTagKey validates a tag key.
func ValidateTagKey(key string) error {
	if strings.Contains(key, ":") {
		return fmt.Errorf("tag key cannot contain ':'")
	}
	return ValidateName(key, TagKeyRules())
}

// =============================================================================
// Tag Validation
// =============================================================================

// ValidateTag validates a "key:value" tag string.
// The value part may contain any printable characters except control chars.
func ValidateTag(tag string) error {
	key, value, ok := strings.Cut(tag, ":")
	if !ok {
		return fmt.Errorf("tag %q: expected key:value", tag)
	}
	if err := ValidateTagKey(key); err != nil {
		return fmt.Errorf("tag %q: %w", tag, err)
	}
	if value == "" {
		return fmt.Errorf("tag %q: empty value", tag)
	}
	for i, r := range value {
		if r < 32 || r == 127 {
			return fmt.Errorf("tag %q: control character at position %d", tag, i)
		}
	}
	return nil
}
