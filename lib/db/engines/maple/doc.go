// Package maple provides a sharded in-memory implementation of the db.KVDB interface.
//
// # Architecture
//
// The database splits its key space over a fixed number of shards (one per CPU by default).
// A key is assigned to a shard by a seeded xxhash of the key. Each shard holds
//   - a concurrent map (xsync.MapOf) from key to entry
//   - a heap of tombstones ordered by the update sequence at which they were created
//
// All reads and writes of a single key go through the map's atomic Compute or Load
// operations, so no global lock is ever taken and operations on different keys never
// block each other.
//
// # Revisions
//
// Every successful Put assigns a new revision via db.NextRev. A Put or Remove is only
// applied if the caller passes the current revision (or an empty revision for documents
// that don't exist). The check and the update happen inside the same Compute call, so
// concurrent writers of the same key are linearized and exactly one of them succeeds.
//
// # Tombstones and compaction
//
// Remove replaces a document by a tombstone that keeps the last revision. Re-creating the
// document continues its revision history, so a revision observed before the removal can
// never match a revision assigned after it. A background compactor reclaims tombstones
// once TombstoneRetention further writes have happened (auto compaction). The compactor
// double-checks each tombstone before reclaiming it, a document that was re-created in
// the meantime is left untouched.
//
// # Persistence
//
// Save writes all live documents in a binary format:
//
//	magic "MAPLEDB\x00" | version uint8 | update sequence uint64 | count uint64
//	count * ( keyLen uint16 | key | revLen uint16 | rev | valueLen uint32 | value )
//
// All integers are little endian. Tombstones are not persisted.
//
// # Connection strings
//
//	memory://              private in-memory database
//	memory://name          in-memory database shared by all handles with the same name
//	file://path/to/db.maple  loaded from the file on open, saved to it on close
//
// Options: shards=N, compaction=DURATION|off, retention=N
//
// # Thread-safety
//
// All operations except Load are safe for concurrent use. DocCount and UpdateSeq in Info
// are exact, SizeBytes is estimated from a sample of each shard.
package maple
