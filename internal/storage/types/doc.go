// Package types defines the core data types shared across the storage
// and query layers: metric kinds, points, tags, series, buckets and
// time ranges.
//
// Timestamps are real-valued Unix seconds throughout; sub-second
// precision is preserved end to end.
package types
