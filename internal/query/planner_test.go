package query

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/xtxerr/metron/internal/catalog"
	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/logging"
	"github.com/xtxerr/metron/internal/storage/points"
	"github.com/xtxerr/metron/internal/storage/types"
	"github.com/xtxerr/metron/internal/storage/window"
)

func newTestPlanner(t *testing.T) (*Planner, *points.Store) {
	t.Helper()
	cat := catalog.New()
	store := points.New()
	for _, name := range []string{"cpu_usage", "used_memory", "total_memory"} {
		if err := cat.Register(name, types.KindGauge); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	p := NewPlanner(cat, store, Config{MaxBuckets: 10000, EvalConcurrency: 4})
	return p, store
}

func TestLegacy_AverageEndToEnd(t *testing.T) {
	p, store := newTestPlanner(t)
	store.InsertBatch("cpu_usage", []types.Point{
		{Time: 0, Value: 0.2},
		{Time: 5, Value: 0.4},
		{Time: 9, Value: 0.6},
	})

	resp, err := p.Legacy(context.Background(), LegacyRequest{
		Metric:   "cpu_usage",
		Agg:      window.Aggregation{Op: window.OpAverage},
		Duration: 10,
		Range:    types.NewTimeRange(0, 10),
	})
	if err != nil {
		t.Fatalf("legacy query: %v", err)
	}

	if resp.Grouped {
		t.Error("ungrouped query produced a grouped response")
	}
	s := resp.Groups[0].Series
	if len(s) != 1 {
		t.Fatalf("expected 1 bucket, got %v", s)
	}
	if s[0].Time != 0 || math.Abs(s[0].Value-0.4) > 1e-12 {
		t.Errorf("bucket: got %v, want (0, 0.4)", s[0])
	}
}

func TestLegacy_EmptyRangeIsNotAnError(t *testing.T) {
	p, _ := newTestPlanner(t)

	resp, err := p.Legacy(context.Background(), LegacyRequest{
		Metric:   "cpu_usage",
		Agg:      window.Aggregation{Op: window.OpAverage},
		Duration: 10,
		Range:    types.NewTimeRange(100, 100),
	})
	if err != nil {
		t.Fatalf("empty range: %v", err)
	}
	if len(resp.Groups[0].Series) != 0 {
		t.Errorf("expected empty series, got %v", resp.Groups[0].Series)
	}
}

func TestLegacy_Grouped(t *testing.T) {
	p, store := newTestPlanner(t)
	store.InsertBatch("cpu_usage", []types.Point{
		{Time: 1, Value: 10, Tags: []string{"host:a"}},
		{Time: 2, Value: 20, Tags: []string{"host:a"}},
		{Time: 3, Value: 60, Tags: []string{"host:b"}},
	})

	resp, err := p.Legacy(context.Background(), LegacyRequest{
		Metric:   "cpu_usage",
		Agg:      window.Aggregation{Op: window.OpAverage},
		Duration: 10,
		Range:    types.NewTimeRange(0, 10),
		Query:    Query{GroupBy: "host"},
	})
	if err != nil {
		t.Fatalf("grouped query: %v", err)
	}

	if !resp.Grouped || len(resp.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %+v", resp)
	}
	if resp.Groups[0].Label != "a" || resp.Groups[0].Series[0].Value != 15 {
		t.Errorf("group a: %+v", resp.Groups[0])
	}
	if resp.Groups[1].Label != "b" || resp.Groups[1].Series[0].Value != 60 {
		t.Errorf("group b: %+v", resp.Groups[1])
	}
}

func TestLegacy_OutputFilter(t *testing.T) {
	p, store := newTestPlanner(t)
	store.InsertBatch("cpu_usage", []types.Point{
		{Time: 1, Value: 0.05},
		{Time: 11, Value: 0.5},
	})

	resp, err := p.Legacy(context.Background(), LegacyRequest{
		Metric:   "cpu_usage",
		Agg:      window.Aggregation{Op: window.OpAverage},
		Duration: 10,
		Range:    types.NewTimeRange(0, 20),
		Query: Query{
			Filter: &Compare{
				Op:    CmpGreaterThan,
				Left:  &InputValue{},
				Right: &TransformValue{Constant: 0.1},
			},
		},
	})
	if err != nil {
		t.Fatalf("filtered query: %v", err)
	}
	s := resp.Groups[0].Series
	if len(s) != 1 || s[0].Value != 0.5 {
		t.Errorf("filter should keep only the 0.5 bucket: %v", s)
	}
}

func TestLegacy_UnknownMetric(t *testing.T) {
	p, _ := newTestPlanner(t)
	_, err := p.Legacy(context.Background(), LegacyRequest{
		Metric:   "nope",
		Agg:      window.Aggregation{Op: window.OpAverage},
		Duration: 10,
		Range:    types.NewTimeRange(0, 10),
	})
	if !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestLegacy_InvalidRequests(t *testing.T) {
	p, _ := newTestPlanner(t)

	tests := []struct {
		name string
		req  LegacyRequest
	}{
		{"zero duration", LegacyRequest{
			Metric: "cpu_usage", Agg: window.Aggregation{Op: window.OpAverage},
			Duration: 0, Range: types.NewTimeRange(0, 10),
		}},
		{"negative duration", LegacyRequest{
			Metric: "cpu_usage", Agg: window.Aggregation{Op: window.OpAverage},
			Duration: -1, Range: types.NewTimeRange(0, 10),
		}},
		{"end before start", LegacyRequest{
			Metric: "cpu_usage", Agg: window.Aggregation{Op: window.OpAverage},
			Duration: 10, Range: types.NewTimeRange(10, 0),
		}},
		{"bucket limit", LegacyRequest{
			Metric: "cpu_usage", Agg: window.Aggregation{Op: window.OpAverage},
			Duration: 0.0001, Range: types.NewTimeRange(0, 1e6),
		}},
		{"bad group key", LegacyRequest{
			Metric: "cpu_usage", Agg: window.Aggregation{Op: window.OpAverage},
			Duration: 10, Range: types.NewTimeRange(0, 10),
			Query: Query{GroupBy: "bad:key"},
		}},
	}
	for _, tc := range tests {
		if _, err := p.Legacy(context.Background(), tc.req); !errors.IsInvalidArgument(err) {
			t.Errorf("%s: expected invalid argument, got %v", tc.name, err)
		}
	}
}

func captureDebugLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.InitWithHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() { logging.Init(slog.LevelInfo, false) })
	return &buf
}

func TestPlanStatesTraversedInOrder(t *testing.T) {
	buf := captureDebugLogs(t)

	p, store := newTestPlanner(t)
	store.InsertBatch("cpu_usage", []types.Point{{Time: 1, Value: 0.5}})

	_, err := p.Legacy(context.Background(), LegacyRequest{
		Metric:   "cpu_usage",
		Agg:      window.Aggregation{Op: window.OpAverage},
		Duration: 10,
		Range:    types.NewTimeRange(0, 10),
	})
	if err != nil {
		t.Fatalf("legacy query: %v", err)
	}

	out := buf.String()
	last := -1
	for _, state := range []string{
		"state=resolved",
		"state=aggregated",
		"state=evaluated",
		"state=filtered",
		"state=responded",
	} {
		idx := strings.Index(out, state)
		if idx < 0 {
			t.Errorf("missing %q in logs:\n%s", state, out)
			continue
		}
		if idx < last {
			t.Errorf("%q logged out of order:\n%s", state, out)
		}
		last = idx
	}
	if !strings.Contains(out, "query_id=") {
		t.Errorf("query logs carry no query id:\n%s", out)
	}
}

func TestPlanFailureLogsFailedState(t *testing.T) {
	buf := captureDebugLogs(t)

	p, _ := newTestPlanner(t)
	_, err := p.Legacy(context.Background(), LegacyRequest{
		Metric:   "cpu_usage",
		Agg:      window.Aggregation{Op: window.OpAverage},
		Duration: 0,
		Range:    types.NewTimeRange(0, 10),
	})
	if !errors.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if !strings.Contains(buf.String(), "state=failed") {
		t.Errorf("failure did not log the failed state:\n%s", buf.String())
	}
}

func TestExpression_MemoryRatio(t *testing.T) {
	p, store := newTestPlanner(t)
	store.InsertBatch("used_memory", []types.Point{
		{Time: 1, Value: 4}, {Time: 11, Value: 8},
	})
	store.InsertBatch("total_memory", []types.Point{
		{Time: 1, Value: 16}, {Time: 11, Value: 16},
	})

	expr := &Arithmetic{
		Op: OpMultiply,
		Left: &Arithmetic{
			Op:    OpDivide,
			Left:  &MetricRef{Metric: "used_memory", Agg: window.Aggregation{Op: window.OpAverage}},
			Right: &MetricRef{Metric: "total_memory", Agg: window.Aggregation{Op: window.OpAverage}},
		},
		Right: &Value{Constant: 100},
	}

	resp, err := p.Expression(context.Background(), ExpressionRequest{
		Range:    types.NewTimeRange(0, 20),
		Duration: 10,
		Expr:     expr,
	})
	if err != nil {
		t.Fatalf("expression query: %v", err)
	}

	s := resp.Groups[0].Series
	if len(s) != 2 {
		t.Fatalf("expected 2 buckets, got %v", s)
	}
	if s[0].Value != 25 || s[1].Value != 50 {
		t.Errorf("ratio: got %v, want 25%% and 50%%", s)
	}
}

func TestExpression_DivideByZeroBucketAbsent(t *testing.T) {
	p, store := newTestPlanner(t)
	store.InsertBatch("used_memory", []types.Point{
		{Time: 1, Value: 4}, {Time: 11, Value: 8}, {Time: 21, Value: 6},
	})
	store.InsertBatch("total_memory", []types.Point{
		{Time: 1, Value: 16}, {Time: 11, Value: 0}, {Time: 21, Value: 12},
	})

	expr := &Arithmetic{
		Op:    OpDivide,
		Left:  &MetricRef{Metric: "used_memory", Agg: window.Aggregation{Op: window.OpAverage}},
		Right: &MetricRef{Metric: "total_memory", Agg: window.Aggregation{Op: window.OpAverage}},
	}

	resp, err := p.Expression(context.Background(), ExpressionRequest{
		Range:    types.NewTimeRange(0, 30),
		Duration: 10,
		Expr:     expr,
	})
	if err != nil {
		t.Fatalf("expression query: %v", err)
	}

	s := resp.Groups[0].Series
	if len(s) != 2 {
		t.Fatalf("zero-divisor bucket should be absent, others kept: %v", s)
	}
	if s[0].Time != 0 || s[1].Time != 20 {
		t.Errorf("surviving buckets: %v", s)
	}
}

func TestExpression_UnknownMetricInTree(t *testing.T) {
	p, _ := newTestPlanner(t)
	expr := &Arithmetic{
		Op:    OpAdd,
		Left:  &MetricRef{Metric: "cpu_usage", Agg: window.Aggregation{Op: window.OpAverage}},
		Right: &MetricRef{Metric: "missing", Agg: window.Aggregation{Op: window.OpAverage}},
	}
	_, err := p.Expression(context.Background(), ExpressionRequest{
		Range:    types.NewTimeRange(0, 10),
		Duration: 10,
		Expr:     expr,
	})
	if !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestExpression_ScalarOnlyYieldsEmptySeries(t *testing.T) {
	p, _ := newTestPlanner(t)
	resp, err := p.Expression(context.Background(), ExpressionRequest{
		Range:    types.NewTimeRange(0, 10),
		Duration: 10,
		Expr:     &Value{Constant: 42},
	})
	if err != nil {
		t.Fatalf("scalar query: %v", err)
	}
	if resp.Grouped || len(resp.Groups[0].Series) != 0 {
		t.Errorf("constants never originate timestamps: %+v", resp)
	}
}
