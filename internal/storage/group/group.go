// Package group partitions scanned point sets by the value of one tag key
// before aggregation.
package group

import (
	"github.com/xtxerr/metron/internal/storage/types"
)

// Ungrouped is the reserved label for points lacking the group-by key.
const Ungrouped = "(ungrouped)"

// Group is one partition of a scanned point set.
type Group struct {
	// Label is the tag value shared by the group's points, or Ungrouped.
	Label string

	// Points keeps the scan order (ascending by timestamp).
	Points []types.Point
}

// ByTag partitions points by the value of the given tag key. Points lacking
// the key go to the reserved Ungrouped label. Group order is the first-seen
// order of labels during the scan; every point lands in exactly one group.
func ByTag(pts []types.Point, key string) []Group {
	var groups []Group
	index := make(map[string]int)

	for i := range pts {
		label, ok := pts[i].TagValue(key)
		if !ok {
			label = Ungrouped
		}

		gi, seen := index[label]
		if !seen {
			gi = len(groups)
			index[label] = gi
			groups = append(groups, Group{Label: label})
		}
		groups[gi].Points = append(groups[gi].Points, pts[i])
	}

	return groups
}

// Single wraps a point set in the one implicit group used when no group-by
// key is requested.
func Single(pts []types.Point) []Group {
	return []Group{{Points: pts}}
}
