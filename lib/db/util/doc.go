// Package util provides utility components for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - statistics: Distribution statistics and a SizeHistogram for estimating value sizes
//   - functions: Seeded hashing, shard selection and small helpers
//   - mapheap: A generic priority queue that also supports key-based access, used for compaction
package util
