package query

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/storage/types"
)

// =============================================================================
// Evaluation results
// =============================================================================

// GroupSeries is one labeled output series.
type GroupSeries struct {
	Label  string
	Series types.Series
}

// Result is the value of an expression subtree.
//
// A result is either scalar (a constant that broadcasts across bucket
// timestamps produced elsewhere in the tree, never originating timestamps
// of its own) or a set of series: one unlabeled series when ungrouped, or
// one labeled series per group.
type Result struct {
	// Scalar marks a constant result.
	Scalar bool

	// ScalarOK is false when a scalar has no value (e.g. a constant
	// division by zero); joining with it drops every bucket.
	ScalarOK bool

	// Constant is the scalar value when Scalar && ScalarOK.
	Constant float64

	// Grouped marks a result carrying group labels.
	Grouped bool

	// Groups holds the series. When !Grouped it has exactly one
	// unlabeled entry.
	Groups []GroupSeries
}

func scalarResult(v float64) *Result {
	return &Result{Scalar: true, ScalarOK: true, Constant: v}
}

func emptyScalar() *Result {
	return &Result{Scalar: true}
}

func ungroupedResult(s types.Series) *Result {
	return &Result{Groups: []GroupSeries{{Series: s}}}
}

// =============================================================================
// Evaluator
// =============================================================================

// Source resolves a metric reference into aggregated, optionally grouped
// series. Each resolution may observe an independently drawn snapshot; no
// cross-metric consistency is promised.
type Source interface {
	Resolve(ctx context.Context, ref *MetricRef, r types.TimeRange, duration float64) (*Result, error)
}

// Evaluator evaluates expression trees. Metric references are resolved
// through the source concurrently, up to the configured degree; combining
// is pure computation afterwards.
type Evaluator struct {
	src Source

	// concurrency bounds parallel metric reference resolution.
	concurrency int
}

// NewEvaluator creates an evaluator over a source.
func NewEvaluator(src Source, concurrency int) *Evaluator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Evaluator{src: src, concurrency: concurrency}
}

// Evaluate validates and evaluates an expression over a time range with
// the given window duration.
func (e *Evaluator) Evaluate(ctx context.Context, expr Expression, r types.TimeRange, duration float64) (*Result, error) {
	if expr == nil {
		return nil, errors.NewMissingField("expression")
	}
	if err := expr.validate(); err != nil {
		return nil, err
	}

	resolved, err := e.resolveRefs(ctx, expr, r, duration)
	if err != nil {
		return nil, err
	}

	return combine(expr, resolved)
}

// resolveRefs resolves every metric reference of the tree in parallel.
func (e *Evaluator) resolveRefs(ctx context.Context, expr Expression, r types.TimeRange, duration float64) (map[*MetricRef]*Result, error) {
	refs := collectRefs(expr, nil)
	if len(refs) == 0 {
		return nil, nil
	}

	results := make([]*Result, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			res, err := e.src.Resolve(gctx, ref, r, duration)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved := make(map[*MetricRef]*Result, len(refs))
	for i, ref := range refs {
		resolved[ref] = results[i]
	}
	return resolved, nil
}

func collectRefs(expr Expression, refs []*MetricRef) []*MetricRef {
	switch e := expr.(type) {
	case *MetricRef:
		return append(refs, e)
	case *Value:
		return refs
	case *Arithmetic:
		refs = collectRefs(e.Left, refs)
		return collectRefs(e.Right, refs)
	case *Function:
		for _, arg := range e.Args {
			refs = collectRefs(arg, refs)
		}
		return refs
	default:
		return refs
	}
}

// =============================================================================
// Combining
// =============================================================================

func combine(expr Expression, resolved map[*MetricRef]*Result) (*Result, error) {
	switch e := expr.(type) {
	case *MetricRef:
		return resolved[e], nil
	case *Value:
		return scalarResult(e.Constant), nil
	case *Arithmetic:
		left, err := combine(e.Left, resolved)
		if err != nil {
			return nil, err
		}
		right, err := combine(e.Right, resolved)
		if err != nil {
			return nil, err
		}
		return combinePair(left, right, e.Op.Apply)
	case *Function:
		args := make([]*Result, len(e.Args))
		for i, arg := range e.Args {
			res, err := combine(arg, resolved)
			if err != nil {
				return nil, err
			}
			args[i] = res
		}
		return combineN(args, e.Fn.Apply)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidVariant, "%T", expr)
	}
}

// combinePair combines two results bucket-by-bucket. Scalars broadcast; a
// pair of series joins on matching timestamps (buckets present on only one
// side are dropped); op failures (division by zero) drop the bucket.
func combinePair(left, right *Result, op func(a, b float64) (float64, bool)) (*Result, error) {
	switch {
	case left.Scalar && right.Scalar:
		if !left.ScalarOK || !right.ScalarOK {
			return emptyScalar(), nil
		}
		v, ok := op(left.Constant, right.Constant)
		if !ok {
			return emptyScalar(), nil
		}
		return scalarResult(v), nil

	case left.Scalar:
		return mapSeries(right, func(v float64) (float64, bool) {
			if !left.ScalarOK {
				return 0, false
			}
			return op(left.Constant, v)
		}), nil

	case right.Scalar:
		return mapSeries(left, func(v float64) (float64, bool) {
			if !right.ScalarOK {
				return 0, false
			}
			return op(v, right.Constant)
		}), nil

	default:
		return joinResults(left, right, op)
	}
}

// mapSeries applies f to every point of every group, dropping failures.
func mapSeries(res *Result, f func(v float64) (float64, bool)) *Result {
	out := &Result{Grouped: res.Grouped, Groups: make([]GroupSeries, 0, len(res.Groups))}
	for _, g := range res.Groups {
		series := make(types.Series, 0, len(g.Series))
		for _, pt := range g.Series {
			if v, ok := f(pt.Value); ok {
				series = append(series, types.SeriesPoint{Time: pt.Time, Value: v})
			}
		}
		out.Groups = append(out.Groups, GroupSeries{Label: g.Label, Series: series})
	}
	return out
}

// joinResults combines two series results. An ungrouped side broadcasts
// across the other side's groups; two grouped sides must carry the same
// label set.
func joinResults(left, right *Result, op func(a, b float64) (float64, bool)) (*Result, error) {
	switch {
	case left.Grouped && right.Grouped:
		byLabel, err := matchLabels(left, right)
		if err != nil {
			return nil, err
		}
		out := &Result{Grouped: true, Groups: make([]GroupSeries, 0, len(left.Groups))}
		for _, lg := range left.Groups {
			out.Groups = append(out.Groups, GroupSeries{
				Label:  lg.Label,
				Series: joinSeries(lg.Series, byLabel[lg.Label], op),
			})
		}
		return out, nil

	case left.Grouped:
		rs := right.Groups[0].Series
		out := &Result{Grouped: true, Groups: make([]GroupSeries, 0, len(left.Groups))}
		for _, lg := range left.Groups {
			out.Groups = append(out.Groups, GroupSeries{
				Label:  lg.Label,
				Series: joinSeries(lg.Series, rs, op),
			})
		}
		return out, nil

	case right.Grouped:
		ls := left.Groups[0].Series
		out := &Result{Grouped: true, Groups: make([]GroupSeries, 0, len(right.Groups))}
		for _, rg := range right.Groups {
			out.Groups = append(out.Groups, GroupSeries{
				Label:  rg.Label,
				Series: joinSeries(ls, rg.Series, op),
			})
		}
		return out, nil

	default:
		return ungroupedResult(joinSeries(left.Groups[0].Series, right.Groups[0].Series, op)), nil
	}
}

// matchLabels verifies two grouped results carry identical label sets and
// returns the right side's series keyed by label.
func matchLabels(left, right *Result) (map[string]types.Series, error) {
	if len(left.Groups) != len(right.Groups) {
		return nil, groupMismatch(left, right)
	}
	byLabel := make(map[string]types.Series, len(right.Groups))
	for _, rg := range right.Groups {
		byLabel[rg.Label] = rg.Series
	}
	for _, lg := range left.Groups {
		if _, ok := byLabel[lg.Label]; !ok {
			return nil, groupMismatch(left, right)
		}
	}
	return byLabel, nil
}

func groupMismatch(left, right *Result) error {
	return errors.Wrapf(errors.ErrGroupMismatch, "left %v, right %v",
		sortedLabels(left), sortedLabels(right))
}

func sortedLabels(res *Result) []string {
	labels := make([]string, 0, len(res.Groups))
	for _, g := range res.Groups {
		labels = append(labels, g.Label)
	}
	sort.Strings(labels)
	return labels
}

// joinSeries merges two ascending series on equal timestamps (inner join).
// Bucket timestamps come from the same range/duration grid, so equality
// is exact.
func joinSeries(a, b types.Series, op func(x, y float64) (float64, bool)) types.Series {
	out := make(types.Series, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Time == b[j].Time:
			if v, ok := op(a[i].Value, b[j].Value); ok {
				out = append(out, types.SeriesPoint{Time: a[i].Time, Value: v})
			}
			i++
			j++
		case a[i].Time < b[j].Time:
			i++
		default:
			j++
		}
	}
	return out
}

// =============================================================================
// N-ary combining (functions)
// =============================================================================

// combineN applies fn bucket-wise across argument results with the same
// group matching and broadcast rules as arithmetic. Timestamps present in
// every series argument survive; fn domain failures drop the bucket.
func combineN(args []*Result, fn func(vals []float64) (float64, bool)) (*Result, error) {
	var grouped []*Result
	for _, arg := range args {
		if !arg.Scalar && arg.Grouped {
			grouped = append(grouped, arg)
		}
	}

	// All-scalar: the result stays scalar.
	if allScalar(args) {
		vals := make([]float64, len(args))
		for i, arg := range args {
			if !arg.ScalarOK {
				return emptyScalar(), nil
			}
			vals[i] = arg.Constant
		}
		v, ok := fn(vals)
		if !ok {
			return emptyScalar(), nil
		}
		return scalarResult(v), nil
	}

	if len(grouped) == 0 {
		// Ungrouped series plus scalars.
		series, err := joinArgs(args, "", fn)
		if err != nil {
			return nil, err
		}
		return ungroupedResult(series), nil
	}

	// Grouped arguments must agree on labels pairwise.
	for _, other := range grouped[1:] {
		if _, err := matchLabels(grouped[0], other); err != nil {
			return nil, err
		}
	}

	out := &Result{Grouped: true, Groups: make([]GroupSeries, 0, len(grouped[0].Groups))}
	for _, g := range grouped[0].Groups {
		series, err := joinArgs(args, g.Label, fn)
		if err != nil {
			return nil, err
		}
		out.Groups = append(out.Groups, GroupSeries{Label: g.Label, Series: series})
	}
	return out, nil
}

func allScalar(args []*Result) bool {
	for _, arg := range args {
		if !arg.Scalar {
			return false
		}
	}
	return true
}

// joinArgs inner-joins the series arguments for one group label (grouped
// arguments contribute their series for that label; ungrouped series
// broadcast; scalars fill in everywhere).
func joinArgs(args []*Result, label string, fn func(vals []float64) (float64, bool)) (types.Series, error) {
	type slot struct {
		scalar   bool
		scalarOK bool
		constant float64
		byTime   map[float64]float64
	}

	slots := make([]slot, len(args))
	var anchor types.Series

	for i, arg := range args {
		if arg.Scalar {
			slots[i] = slot{scalar: true, scalarOK: arg.ScalarOK, constant: arg.Constant}
			continue
		}
		series := arg.Groups[0].Series
		if arg.Grouped {
			series = nil
			for _, g := range arg.Groups {
				if g.Label == label {
					series = g.Series
					break
				}
			}
		}
		byTime := make(map[float64]float64, len(series))
		for _, pt := range series {
			byTime[pt.Time] = pt.Value
		}
		slots[i] = slot{byTime: byTime}
		if anchor == nil {
			anchor = series
		}
	}

	out := make(types.Series, 0, len(anchor))
	vals := make([]float64, len(args))
outer:
	for _, pt := range anchor {
		for i := range slots {
			s := &slots[i]
			if s.scalar {
				if !s.scalarOK {
					continue outer
				}
				vals[i] = s.constant
				continue
			}
			v, ok := s.byTime[pt.Time]
			if !ok {
				continue outer
			}
			vals[i] = v
		}
		if v, ok := fn(vals); ok {
			out = append(out, types.SeriesPoint{Time: pt.Time, Value: v})
		}
	}
	return out, nil
}
