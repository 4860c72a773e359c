package internal

import (
	"fmt"
	"sync"

	"github.com/konceiver/dockv/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (document with metadata)
// --------------------------------------------------------------------------

// Entry stores a document with its metadata.
// Removed documents are kept as tombstones (Deleted=true, Value=nil) until
// they are reclaimed by the compactor, so a re-created document continues
// the revision history instead of starting over.
type Entry struct {
	Rev     string // Current revision
	Value   []byte // Document value (nil for tombstones)
	Deleted bool   // Whether the entry is a tombstone
	Seq     uint64 // Update sequence of the last write or removal
}

// Live returns whether the entry represents an existing document
func (e Entry) Live() bool {
	return !e.Deleted
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{Rev: %s, Deleted: %t, Seq: %d, Size: %d}", e.Rev, e.Deleted, e.Seq, len(e.Value))
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database.
// The data map is safe for concurrent use, the tombstone heap is guarded by mu.
type Shard struct {
	Data       *xsync.MapOf[string, Entry]
	mu         sync.Mutex
	tombstones *util.MapHeap[string]
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data:       xsync.NewMapOf[string, Entry](),
		tombstones: util.NewMapHeap[string](),
	}
}

// AddTombstone schedules the tombstone of key, created at update sequence seq, for compaction
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) AddTombstone(key string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// removals of the same key may register out of order, keep the newest
	if item, ok := s.tombstones.GetByKey(key); ok && item.Priority >= seq {
		return
	}
	s.tombstones.AddItem(key, seq)
}

// PendingTombstones returns the number of tombstones awaiting compaction
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) PendingTombstones() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tombstones.Len()
}

// Compact reclaims all tombstones created at or before the given update sequence.
// It returns the number of reclaimed entries.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) Compact(horizon uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for {
		item, ok := s.tombstones.Peek()
		if !ok || item.Priority > horizon {
			return reclaimed
		}
		s.tombstones.PopMin()

		// the document may have been re-created or removed again in the meantime,
		// only the exact tombstone that was scheduled is reclaimed
		s.Data.Compute(item.Key, func(e Entry, loaded bool) (Entry, bool) {
			if !loaded {
				return e, true
			}
			if e.Deleted && e.Seq == item.Priority {
				reclaimed++
				return Entry{}, true
			}
			return e, false
		})
	}
}

// Clear removes all entries and pending tombstones
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data.Clear()
	s.tombstones.Clear()
}

// GetShard returns the appropriate shard for a given hash
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](hash uint64, shards []*T) *T {
	return shards[util.ShardIndex(hash, len(shards))]
}
