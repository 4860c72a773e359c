package util

import (
	"crypto/rand"
	"encoding/binary"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// SortedKeys returns the keys of m in ascending order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CopyBytes returns a copy of b that does not share memory with b.
// A nil slice is returned as an empty, non-nil slice.
func CopyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashString generates a seeded hash value for a string.
// The seed is mixed into the xxhash digest with a final avalanche step
// so that different seeds produce uncorrelated shard assignments.
func HashString(s string, seed uint64) uint64 {
	h := xxhash.Sum64String(s) ^ seed

	// splitmix64 finalizer
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31

	return h
}

// ShardIndex maps a hash to a shard position in [0, numShards)
func ShardIndex(hash uint64, numShards int) int {
	// use the higher bits, they are better distributed
	return int((hash >> 7) % uint64(numShards))
}
