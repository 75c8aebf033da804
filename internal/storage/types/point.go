package types

import (
	"fmt"
	"strings"
)

// Kind indicates the kind of metric value.
type Kind int

const (
	// KindGauge is a point-in-time measurement (e.g., temperature, CPU usage).
	KindGauge Kind = iota
	// KindCounter is a conventionally cumulative value (e.g., context switches).
	// Monotonicity is a convention per source, not enforced.
	KindCounter
)

// String returns a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind string. "count" is accepted as an alias for
// "counter" for compatibility with older clients.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "gauge":
		return KindGauge, nil
	case "counter", "count":
		return KindCounter, nil
	default:
		return 0, fmt.Errorf("unknown metric kind %q", s)
	}
}

// Point is a single timestamped, tagged measurement.
// Points are immutable once stored.
type Point struct {
	// Time is the Unix timestamp in seconds.
	Time float64

	// Value is the measurement.
	Value float64

	// Tags is a set of "key:value" strings with unique keys.
	Tags []string
}

// TagValue returns the value of the tag with the given key, if present.
func (p *Point) TagValue(key string) (string, bool) {
	return TagValue(p.Tags, key)
}

// HasTag reports whether the point carries the exact "key:value" tag.
func (p *Point) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// Tag helpers
// =============================================================================

// SplitTag splits a "key:value" tag. The value may itself contain colons.
func SplitTag(tag string) (key, value string, ok bool) {
	return strings.Cut(tag, ":")
}

// TagValue returns the value of the tag with the given key in a tag set.
func TagValue(tags []string, key string) (string, bool) {
	for _, t := range tags {
		k, v, ok := SplitTag(t)
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

// DuplicateTagKey returns the first duplicated key in a tag set, if any.
func DuplicateTagKey(tags []string) (string, bool) {
	if len(tags) < 2 {
		return "", false
	}
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		k, _, ok := SplitTag(t)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			return k, true
		}
		seen[k] = struct{}{}
	}
	return "", false
}
