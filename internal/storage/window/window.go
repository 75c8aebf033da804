// Package window buckets point ranges into fixed-duration windows and
// reduces each bucket with an aggregation operation.
//
// Buckets are aligned to the range start, never to absolute time-origin
// multiples of the duration: bucket i covers
// [start + i*D, start + (i+1)*D). Empty buckets are omitted from output
// (no zero-fill, no gap marker).
package window

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/storage/types"
)

// Op identifies an aggregation operation.
type Op int

const (
	OpAverage Op = iota
	OpSum
	OpMin
	OpMax
	OpCount
	OpPercentile
)

// String returns the operation name as used on the wire.
func (o Op) String() string {
	switch o {
	case OpAverage:
		return "Average"
	case OpSum:
		return "Sum"
	case OpMin:
		return "Min"
	case OpMax:
		return "Max"
	case OpCount:
		return "Count"
	case OpPercentile:
		return "Percentile"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// ParseOp parses an operation name. "Percentile95" style suffixes select
// the percentile rank.
func ParseOp(s string) (Aggregation, error) {
	switch s {
	case "Average":
		return Aggregation{Op: OpAverage}, nil
	case "Sum":
		return Aggregation{Op: OpSum}, nil
	case "Min":
		return Aggregation{Op: OpMin}, nil
	case "Max":
		return Aggregation{Op: OpMax}, nil
	case "Count":
		return Aggregation{Op: OpCount}, nil
	}
	if rest, ok := strings.CutPrefix(s, "Percentile"); ok {
		var p int
		if _, err := fmt.Sscanf(rest, "%d", &p); err == nil && fmt.Sprintf("%d", p) == rest {
			agg := Aggregation{Op: OpPercentile, Percentile: p}
			if err := agg.Validate(); err != nil {
				return Aggregation{}, err
			}
			return agg, nil
		}
	}
	return Aggregation{}, errors.Wrapf(errors.ErrInvalidOperation, "%q", s)
}

// Aggregation is an operation plus its parameters.
type Aggregation struct {
	Op Op

	// Percentile is the rank in [0, 100], used when Op == OpPercentile.
	Percentile int
}

// Validate checks the aggregation parameters.
func (a Aggregation) Validate() error {
	switch a.Op {
	case OpAverage, OpSum, OpMin, OpMax, OpCount:
		return nil
	case OpPercentile:
		if a.Percentile < 0 || a.Percentile > 100 {
			return errors.NewInvalidValue("percentile", a.Percentile, "must be in [0, 100]")
		}
		return nil
	default:
		return errors.Wrapf(errors.ErrInvalidOperation, "%d", int(a.Op))
	}
}

// =============================================================================
// Aggregation
// =============================================================================

// Aggregate partitions pts over [r.Start, r.End) into contiguous buckets of
// length duration (seconds) and reduces each non-empty bucket. The input
// must be sorted ascending by timestamp, as returned by the point store.
// The resulting series carries one element per non-empty bucket, anchored
// at the bucket start.
//
// Cancellation is honored at bucket granularity.
func Aggregate(ctx context.Context, pts []types.Point, r types.TimeRange, duration float64, agg Aggregation) (types.Series, error) {
	if duration <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidDuration, "got %v", duration)
	}
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRange, err.Error())
	}
	if err := agg.Validate(); err != nil {
		return nil, err
	}
	if r.Empty() || len(pts) == 0 {
		return types.Series{}, nil
	}

	var out types.Series

	i := 0
	// Skip points before the range; the store normally pre-trims.
	for i < len(pts) && pts[i].Time < r.Start {
		i++
	}

	for bucketStart := r.Start; bucketStart < r.End; bucketStart += duration {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bucketEnd := bucketStart + duration
		if bucketEnd > r.End {
			bucketEnd = r.End
		}

		lo := i
		for i < len(pts) && pts[i].Time < bucketEnd {
			i++
		}
		if i == lo {
			continue
		}

		value, ok := reduce(pts[lo:i], agg)
		if !ok {
			continue
		}
		out = append(out, types.SeriesPoint{Time: bucketStart, Value: value})

		if i >= len(pts) {
			break
		}
	}

	if out == nil {
		out = types.Series{}
	}
	return out, nil
}

// reduce collapses a non-empty bucket of points into one value.
func reduce(pts []types.Point, agg Aggregation) (float64, bool) {
	switch agg.Op {
	case OpCount:
		return float64(len(pts)), true
	case OpSum:
		var sum float64
		for i := range pts {
			sum += pts[i].Value
		}
		return sum, true
	case OpAverage:
		var sum float64
		for i := range pts {
			sum += pts[i].Value
		}
		return sum / float64(len(pts)), true
	case OpMin:
		min := pts[0].Value
		for i := range pts[1:] {
			if v := pts[i+1].Value; v < min {
				min = v
			}
		}
		return min, true
	case OpMax:
		max := pts[0].Value
		for i := range pts[1:] {
			if v := pts[i+1].Value; v > max {
				max = v
			}
		}
		return max, true
	case OpPercentile:
		return nearestRank(pts, agg.Percentile), true
	default:
		return 0, false
	}
}

// nearestRank computes the nearest-rank percentile over a non-empty bucket:
// values sorted ascending, index = ceil(p/100 * n) - 1, clamped to [0, n-1].
func nearestRank(pts []types.Point, p int) float64 {
	values := make([]float64, len(pts))
	for i := range pts {
		values[i] = pts[i].Value
	}
	sort.Float64s(values)

	idx := int(math.Ceil(float64(p)/100.0*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

// BucketCount returns how many buckets the range/duration pair produces,
// used to enforce per-query bucket limits before scanning.
func BucketCount(r types.TimeRange, duration float64) int {
	if duration <= 0 || r.Empty() {
		return 0
	}
	return int(math.Ceil(r.Duration() / duration))
}
