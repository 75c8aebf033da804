package types

import "fmt"

// SeriesPoint is one (timestamp, value) element of a series.
type SeriesPoint struct {
	Time  float64
	Value float64
}

// Series is an ordered sequence of (timestamp, value) pairs, ascending by
// timestamp. Ties are broken by insertion order.
type Series []SeriesPoint

// TimeRange is a half-open interval [Start, End) in Unix seconds.
// Start == End is a valid, empty range.
type TimeRange struct {
	Start float64
	End   float64
}

// NewTimeRange constructs a TimeRange without validating it.
func NewTimeRange(start, end float64) TimeRange {
	return TimeRange{Start: start, End: end}
}

// Validate returns an error if End precedes Start.
func (r TimeRange) Validate() error {
	if r.End < r.Start {
		return fmt.Errorf("time range end %v before start %v", r.End, r.Start)
	}
	return nil
}

// Empty reports whether the range covers no time.
func (r TimeRange) Empty() bool { return r.End <= r.Start }

// Duration returns the length of the range in seconds.
func (r TimeRange) Duration() float64 { return r.End - r.Start }

// Contains reports whether t falls inside [Start, End).
func (r TimeRange) Contains(t float64) bool {
	return t >= r.Start && t < r.End
}
