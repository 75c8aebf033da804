// Package points provides append-only, in-memory storage of metric points.
//
// Points are held in one partition per metric. A partition keeps points in
// arrival order (which makes insertion-order tie-breaking trivial) together
// with a timestamp-sorted index and a per-tag posting list index, so range
// scans and tag-filtered scans avoid walking the whole partition.
//
// Partitions have independent locks: writers to different metrics proceed
// fully in parallel, writers to the same metric serialize. A scan copies
// matching points under the partition read lock, so it observes every point
// committed before the scan began and never "un-sees" one.
package points

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
	"github.com/xtxerr/metron/internal/logging"
	"github.com/xtxerr/metron/internal/storage/types"
)

var log = logging.Component("points")

// scanCheckInterval is how many candidate points a filtered scan visits
// between context cancellation checks.
const scanCheckInterval = 8192

// Store holds the per-metric partitions.
//
// Store is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	parts map[string]*partition

	// Statistics
	inserted atomic.Int64
	scans    atomic.Int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		parts: make(map[string]*partition),
	}
}

// partition holds all points of one metric.
type partition struct {
	mu sync.RWMutex

	// pts is append-only, in arrival order. Arrival index is the
	// insertion-order tie breaker for equal timestamps.
	pts []types.Point

	// order holds indexes into pts sorted by (time, arrival index).
	order []int

	// tagIndex maps xxhash("key:value") to ascending arrival indexes.
	// Hash collisions are tolerated; scans re-check the actual tags.
	tagIndex map[uint64][]int
}

func newPartition() *partition {
	return &partition{
		tagIndex: make(map[uint64][]int),
	}
}

// tagHash returns the index key for a "key:value" tag.
func tagHash(tag string) uint64 {
	return xxhash.Sum64String(tag)
}

// =============================================================================
// Insertion
// =============================================================================

// InsertBatch appends a batch of points to a metric's partition and returns
// the number of points inserted. The caller is responsible for validating
// that the metric exists; unknown metrics get a partition on demand so the
// store stays decoupled from the catalog.
func (s *Store) InsertBatch(metric string, batch []types.Point) int {
	if len(batch) == 0 {
		return 0
	}

	part := s.partitionFor(metric)

	part.mu.Lock()
	defer part.mu.Unlock()

	for i := range batch {
		part.insert(batch[i])
	}

	s.inserted.Add(int64(len(batch)))
	return len(batch)
}

// partitionFor returns the partition for a metric, creating it if needed.
func (s *Store) partitionFor(metric string) *partition {
	s.mu.RLock()
	part, ok := s.parts[metric]
	s.mu.RUnlock()
	if ok {
		return part
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if part, ok = s.parts[metric]; ok {
		return part
	}
	part = newPartition()
	s.parts[metric] = part
	log.Debug("partition created", "metric", metric)
	return part
}

// insert appends one point, maintaining the sorted index and tag postings.
// Caller holds the partition write lock.
func (p *partition) insert(pt types.Point) {
	idx := len(p.pts)
	p.pts = append(p.pts, pt)

	// Fast path: points usually arrive in timestamp order.
	if n := len(p.order); n == 0 || p.pts[p.order[n-1]].Time <= pt.Time {
		p.order = append(p.order, idx)
	} else {
		// Upper bound keeps equal timestamps in insertion order.
		pos := sort.Search(len(p.order), func(i int) bool {
			return p.pts[p.order[i]].Time > pt.Time
		})
		p.order = append(p.order, 0)
		copy(p.order[pos+1:], p.order[pos:])
		p.order[pos] = idx
	}

	for _, tag := range pt.Tags {
		h := tagHash(tag)
		p.tagIndex[h] = append(p.tagIndex[h], idx)
	}
}

// =============================================================================
// Scanning
// =============================================================================

// Scan returns all points of a metric in [r.Start, r.End) matching every
// filter tag exactly (AND semantics), ascending by timestamp with ties in
// insertion order. An unknown metric yields an empty result; existence
// checks belong to the caller. An empty range yields an empty result.
func (s *Store) Scan(ctx context.Context, metric string, r types.TimeRange, tagFilter []string) ([]types.Point, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.scans.Add(1)

	s.mu.RLock()
	part, ok := s.parts[metric]
	s.mu.RUnlock()
	if !ok || r.Empty() {
		return nil, nil
	}

	part.mu.RLock()
	defer part.mu.RUnlock()

	if len(tagFilter) == 0 {
		return part.scanRange(ctx, r)
	}
	return part.scanFiltered(ctx, r, tagFilter)
}

// scanRange copies all points in the range using the sorted index.
// Caller holds the partition read lock.
func (p *partition) scanRange(ctx context.Context, r types.TimeRange) ([]types.Point, error) {
	lo := sort.Search(len(p.order), func(i int) bool {
		return p.pts[p.order[i]].Time >= r.Start
	})
	hi := sort.Search(len(p.order), func(i int) bool {
		return p.pts[p.order[i]].Time >= r.End
	})
	if lo >= hi {
		return nil, nil
	}

	out := make([]types.Point, 0, hi-lo)
	for i := lo; i < hi; i++ {
		if (i-lo)%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out = append(out, p.pts[p.order[i]])
	}
	return out, nil
}

// scanFiltered intersects the posting lists of every filter tag, then
// selects candidates in the time range. Posting lists are in arrival order,
// so the result is re-sorted by (time, arrival index) at the end.
// Caller holds the partition read lock.
func (p *partition) scanFiltered(ctx context.Context, r types.TimeRange, tagFilter []string) ([]types.Point, error) {
	postings := make([][]int, 0, len(tagFilter))
	for _, tag := range tagFilter {
		list, ok := p.tagIndex[tagHash(tag)]
		if !ok {
			return nil, nil
		}
		postings = append(postings, list)
	}

	candidates := intersectPostings(postings)

	type hit struct {
		idx int
		pt  types.Point
	}
	var hits []hit
	for n, idx := range candidates {
		if n%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		pt := p.pts[idx]
		if !r.Contains(pt.Time) {
			continue
		}
		// Re-check actual tags; the index is keyed by hash.
		if !matchesAll(&pt, tagFilter) {
			continue
		}
		hits = append(hits, hit{idx: idx, pt: pt})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].pt.Time != hits[j].pt.Time {
			return hits[i].pt.Time < hits[j].pt.Time
		}
		return hits[i].idx < hits[j].idx
	})

	out := make([]types.Point, len(hits))
	for i := range hits {
		out[i] = hits[i].pt
	}
	return out, nil
}

// matchesAll reports whether the point carries every filter tag.
func matchesAll(pt *types.Point, tagFilter []string) bool {
	for _, tag := range tagFilter {
		if !pt.HasTag(tag) {
			return false
		}
	}
	return true
}

// intersectPostings merges k ascending posting lists into their
// intersection, smallest list first to bound the work.
func intersectPostings(postings [][]int) []int {
	if len(postings) == 0 {
		return nil
	}
	sort.Slice(postings, func(i, j int) bool {
		return len(postings[i]) < len(postings[j])
	})

	result := postings[0]
	for _, list := range postings[1:] {
		result = intersectTwo(result, list)
		if len(result) == 0 {
			return nil
		}
	}

	// Copy: result may alias a posting list owned by the index.
	out := make([]int, len(result))
	copy(out, result)
	return out
}

func intersectTwo(a, b []int) []int {
	var out []int
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// =============================================================================
// Introspection
// =============================================================================

// PointCount returns the number of stored points for a metric.
func (s *Store) PointCount(metric string) int {
	s.mu.RLock()
	part, ok := s.parts[metric]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	part.mu.RLock()
	defer part.mu.RUnlock()
	return len(part.pts)
}

// Stats returns store-wide counters.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	partitions := len(s.parts)
	s.mu.RUnlock()

	return StoreStats{
		Partitions:     partitions,
		PointsInserted: s.inserted.Load(),
		Scans:          s.scans.Load(),
	}
}

// StoreStats holds store-wide counters.
type StoreStats struct {
	Partitions     int   `json:"partitions"`
	PointsInserted int64 `json:"points_inserted"`
	Scans          int64 `json:"scans"`
}
