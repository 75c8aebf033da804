package points

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/xtxerr/metron/internal/storage/types"
)

func TestScan_SortedRegardlessOfInsertionOrder(t *testing.T) {
	s := New()

	times := []float64{9, 3, 7, 1, 5, 2, 8, 4, 6, 0}
	for _, ts := range times {
		s.InsertBatch("cpu", []types.Point{{Time: ts, Value: ts}})
	}

	got, err := s.Scan(context.Background(), "cpu", types.NewTimeRange(0, 10), nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != len(times) {
		t.Fatalf("expected %d points, got %d", len(times), len(got))
	}
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Time < got[j].Time }) {
		t.Errorf("scan result not sorted: %v", got)
	}
}

func TestScan_HalfOpenRange(t *testing.T) {
	s := New()
	s.InsertBatch("m", []types.Point{
		{Time: 0, Value: 1},
		{Time: 5, Value: 2},
		{Time: 10, Value: 3},
	})

	got, err := s.Scan(context.Background(), "m", types.NewTimeRange(0, 10), nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("[0, 10) should exclude t=10: got %d points", len(got))
	}
}

func TestScan_EmptyRangeAndUnknownMetric(t *testing.T) {
	s := New()
	s.InsertBatch("m", []types.Point{{Time: 100, Value: 1}})

	got, err := s.Scan(context.Background(), "m", types.NewTimeRange(100, 100), nil)
	if err != nil {
		t.Fatalf("empty range: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty range should yield no points, got %d", len(got))
	}

	got, err = s.Scan(context.Background(), "nope", types.NewTimeRange(0, 200), nil)
	if err != nil {
		t.Fatalf("unknown metric: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("unknown metric should yield no points, got %d", len(got))
	}
}

func TestScan_EqualTimestampsKeepInsertionOrder(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.InsertBatch("m", []types.Point{{Time: 42, Value: float64(i)}})
	}

	got, err := s.Scan(context.Background(), "m", types.NewTimeRange(0, 100), nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for i, pt := range got {
		if pt.Value != float64(i) {
			t.Fatalf("insertion order lost at %d: %v", i, got)
		}
	}
}

func TestScan_TagFilterAND(t *testing.T) {
	s := New()
	s.InsertBatch("m", []types.Point{
		{Time: 1, Value: 1, Tags: []string{"host:a", "core:0"}},
		{Time: 2, Value: 2, Tags: []string{"host:a", "core:1"}},
		{Time: 3, Value: 3, Tags: []string{"host:b", "core:0"}},
		{Time: 4, Value: 4, Tags: []string{"host:a"}},
	})

	tests := []struct {
		filter []string
		want   []float64
	}{
		{[]string{"host:a"}, []float64{1, 2, 4}},
		{[]string{"host:a", "core:0"}, []float64{1}},
		{[]string{"core:0"}, []float64{1, 3}},
		{[]string{"host:c"}, nil},
		{nil, []float64{1, 2, 3, 4}},
	}
	for _, tc := range tests {
		got, err := s.Scan(context.Background(), "m", types.NewTimeRange(0, 10), tc.filter)
		if err != nil {
			t.Fatalf("scan %v: %v", tc.filter, err)
		}
		var values []float64
		for _, pt := range got {
			values = append(values, pt.Value)
		}
		if fmt.Sprint(values) != fmt.Sprint(tc.want) {
			t.Errorf("filter %v: got %v, want %v", tc.filter, values, tc.want)
		}
	}
}

func TestScan_FilteredResultSorted(t *testing.T) {
	s := New()
	// Random insertion order, all carrying the same tag.
	r := rand.New(rand.NewSource(1))
	for _, ts := range r.Perm(200) {
		s.InsertBatch("m", []types.Point{{Time: float64(ts), Value: float64(ts), Tags: []string{"host:a"}}})
	}

	got, err := s.Scan(context.Background(), "m", types.NewTimeRange(0, 200), []string{"host:a"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 200 {
		t.Fatalf("expected 200 points, got %d", len(got))
	}
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Time < got[j].Time }) {
		t.Error("filtered scan result not sorted")
	}
}

func TestInsertBatch_ConcurrentSourcesLoseNothing(t *testing.T) {
	s := New()

	const sources = 8
	const perSource = 500

	var wg sync.WaitGroup
	for src := 0; src < sources; src++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tag := fmt.Sprintf("host:src%d", src)
			for i := 0; i < perSource; i++ {
				s.InsertBatch("m", []types.Point{
					{Time: float64(i), Value: float64(i), Tags: []string{tag}},
				})
			}
		}()
	}
	wg.Wait()

	got, err := s.Scan(context.Background(), "m", types.NewTimeRange(0, perSource), nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != sources*perSource {
		t.Errorf("lost points: got %d, want %d", len(got), sources*perSource)
	}

	// Per-source views stay complete too.
	for src := 0; src < sources; src++ {
		tag := fmt.Sprintf("host:src%d", src)
		got, err := s.Scan(context.Background(), "m", types.NewTimeRange(0, perSource), []string{tag})
		if err != nil {
			t.Fatalf("scan %s: %v", tag, err)
		}
		if len(got) != perSource {
			t.Errorf("%s: got %d points, want %d", tag, len(got), perSource)
		}
	}
}

func TestScan_Cancelled(t *testing.T) {
	s := New()
	s.InsertBatch("m", []types.Point{{Time: 1, Value: 1}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Scan(ctx, "m", types.NewTimeRange(0, 10), nil); err == nil {
		t.Error("expected cancellation error")
	}
}

func TestStats(t *testing.T) {
	s := New()
	s.InsertBatch("a", []types.Point{{Time: 1}, {Time: 2}})
	s.InsertBatch("b", []types.Point{{Time: 1}})
	s.Scan(context.Background(), "a", types.NewTimeRange(0, 10), nil)

	st := s.Stats()
	if st.Partitions != 2 {
		t.Errorf("partitions: got %d, want 2", st.Partitions)
	}
	if st.PointsInserted != 3 {
		t.Errorf("inserted: got %d, want 3", st.PointsInserted)
	}
	if st.Scans != 1 {
		t.Errorf("scans: got %d, want 1", st.Scans)
	}
	if s.PointCount("a") != 2 {
		t.Errorf("point count: got %d, want 2", s.PointCount("a"))
	}
}
