package stats

import (
	"math"
	"testing"

	"github.com/xtxerr/metron/internal/storage/types"
)

func TestCollector_RunningStats(t *testing.T) {
	c := NewCollector("cpu", 0.01)

	c.Add(10, 100)
	c.Add(30, 50)
	c.Add(20, 200)

	got := c.Result()
	if got.Count != 3 {
		t.Errorf("count: got %d, want 3", got.Count)
	}
	if got.Sum != 60 {
		t.Errorf("sum: got %v, want 60", got.Sum)
	}
	if got.Min != 10 || got.Max != 30 {
		t.Errorf("min/max: got %v/%v, want 10/30", got.Min, got.Max)
	}
	if math.Abs(got.Avg-20) > 1e-12 {
		t.Errorf("avg: got %v, want 20", got.Avg)
	}
	if got.FirstTs != 50 || got.LastTs != 200 {
		t.Errorf("ts range: got %v..%v, want 50..200", got.FirstTs, got.LastTs)
	}
}

func TestCollector_SketchPercentiles(t *testing.T) {
	c := NewCollector("latency", 0.01)
	for i := 1; i <= 1000; i++ {
		c.Add(float64(i), float64(i))
	}

	got := c.Result()
	if !got.HasPercentiles() {
		t.Fatal("expected sketch percentiles")
	}

	// 1% relative accuracy.
	checks := []struct {
		name  string
		value float64
		want  float64
	}{
		{"p50", *got.P50, 500},
		{"p95", *got.P95, 950},
		{"p99", *got.P99, 990},
	}
	for _, ck := range checks {
		if math.Abs(ck.value-ck.want)/ck.want > 0.02 {
			t.Errorf("%s: got %v, want ~%v", ck.name, ck.value, ck.want)
		}
	}
}

func TestCollector_Empty(t *testing.T) {
	c := NewCollector("empty", 0.01)
	got := c.Result()
	if got.Count != 0 || got.Avg != 0 || got.HasPercentiles() {
		t.Errorf("empty collector snapshot: %+v", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(0.01)

	r.Record("a", []types.Point{{Time: 1, Value: 1}, {Time: 2, Value: 3}})
	r.Record("b", []types.Point{{Time: 1, Value: 5}})
	r.Record("a", []types.Point{{Time: 3, Value: 2}})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(snap))
	}

	byName := make(map[string]MetricStats)
	for _, m := range snap {
		byName[m.Metric] = m
	}
	if byName["a"].Count != 3 {
		t.Errorf("a: count %d, want 3", byName["a"].Count)
	}
	if byName["b"].Sum != 5 {
		t.Errorf("b: sum %v, want 5", byName["b"].Sum)
	}
}
