package maple

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/konceiver/dockv/lib/db"
	"github.com/konceiver/dockv/lib/db/engines/maple/internal"
	"github.com/konceiver/dockv/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum                  = "MAPLEDB\x00"          // File format identifier
	mapleVersion              = 4                      // Database version
	defaultCompactionInterval = 100 * time.Millisecond // Default interval between compaction runs
	defaultTombstoneRetention = 1024                   // Default number of writes a tombstone survives
	maxKeyLen                 = 1<<16 - 1              // Keys are length prefixed with an uint16 in snapshots
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements a sharded in-memory document database
type mapleImpl struct {
	numShards  int               // Number of shards
	seed       uint64            // Seed for the shard hash function
	shards     []*internal.Shard // Array of shards
	instanceID string            // Unique id of this instance, reported in Info

	updateSeq atomic.Uint64 // Incremented on every successful write or removal
	docCount  atomic.Int64  // Number of live documents
	closed    atomic.Bool

	// compaction
	compactionInterval time.Duration
	tombstoneRetention uint64
	compactionMu       sync.Mutex
	compactionStop     chan struct{}
	compactionDone     sync.WaitGroup
	reclaimed          atomic.Uint64

	// persistence (file mode)
	snapshotPath string
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards          int           // Number of shards (0 = number of CPUs)
	CompactionInterval time.Duration // Time between compaction runs (0 = default: 100ms, <0 = disabled)
	TombstoneRetention uint64        // Number of writes a tombstone is kept before it is reclaimed (0 = default: 1024)
	SnapshotPath       string        // If set, the database is loaded from and saved to this file
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:          runtime.NumCPU(),
		CompactionInterval: defaultCompactionInterval,
		TombstoneRetention: defaultTombstoneRetention,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional).
// If opts.SnapshotPath names an existing file, the database is loaded from it.
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) (db.KVDB, error) {
	return newMaple(opts)
}

func newMaple(opts *DBOptions) (*mapleImpl, error) {
	defaults := DefaultOptions()
	if opts == nil {
		opts = defaults
	}
	if opts.NumShards <= 0 {
		opts.NumShards = defaults.NumShards
	}
	if opts.CompactionInterval == 0 {
		opts.CompactionInterval = defaults.CompactionInterval
	}
	if opts.TombstoneRetention == 0 {
		opts.TombstoneRetention = defaults.TombstoneRetention
	}

	shards := make([]*internal.Shard, opts.NumShards)
	for i := range shards {
		shards[i] = internal.NewShard()
	}

	newDB := &mapleImpl{
		numShards:          opts.NumShards,
		seed:               util.GenerateSeed(),
		shards:             shards,
		instanceID:         uuid.NewString(),
		compactionInterval: opts.CompactionInterval,
		tombstoneRetention: opts.TombstoneRetention,
		snapshotPath:       opts.SnapshotPath,
	}

	if newDB.snapshotPath != "" {
		if err := newDB.loadFile(newDB.snapshotPath); err != nil {
			return nil, err
		}
	}

	newDB.startCompaction()

	return newDB, nil
}

// shardFor returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// check returns an error if the database is closed or the context is done
func (maple *mapleImpl) check(ctx context.Context) error {
	if maple.closed.Load() {
		return db.ErrClosed
	}
	return ctx.Err()
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Put stores doc.Value under doc.Key if doc.Rev is the current revision.
// An empty doc.Rev creates the document, it conflicts with an existing one.
// Removed documents count as non-existing, re-creating them continues their revision history.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Put(ctx context.Context, doc db.Doc) (string, error) {
	if err := maple.check(ctx); err != nil {
		return "", err
	}
	if doc.Key == "" || len(doc.Key) > maxKeyLen {
		return "", db.NewError(db.CodeInvalid, "key must have between 1 and %d bytes", maxKeyLen)
	}

	// Copy value to prevent memory corruption
	valueCopy := util.CopyBytes(doc.Value)

	var (
		newRev  string
		created bool
		err     error
	)

	maple.shardFor(doc.Key).Data.Compute(doc.Key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		live := loaded && old.Live()

		if live && doc.Rev != old.Rev || !live && doc.Rev != "" {
			err = db.ErrConflict(doc.Key, doc.Rev)
			return old, !loaded // set delete to true if not loaded because else the value will be created
		}

		newRev = db.NextRev(old.Rev, valueCopy)
		created = !live

		return internal.Entry{
			Rev:   newRev,
			Value: valueCopy,
			Seq:   maple.updateSeq.Add(1),
		}, false
	})

	if err != nil {
		return "", err
	}
	if created {
		maple.docCount.Add(1)
	}
	return newRev, nil
}

// Remove deletes the document with the given key if rev is its current revision.
// The document is replaced by a tombstone that is reclaimed by the compactor.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Remove(ctx context.Context, key, rev string) error {
	if err := maple.check(ctx); err != nil {
		return err
	}

	shard := maple.shardFor(key)

	var (
		seq uint64
		err error
	)

	shard.Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded {
			err = db.ErrNotFound(key)
			return old, true
		}
		if !old.Live() {
			err = db.ErrNotFound(key)
			return old, false
		}
		if old.Rev != rev {
			err = db.ErrConflict(key, rev)
			return old, false
		}

		seq = maple.updateSeq.Add(1)
		return internal.Entry{
			Rev:     db.NextRev(old.Rev, nil),
			Deleted: true,
			Seq:     seq,
		}, false
	})

	if err != nil {
		return err
	}

	maple.docCount.Add(-1)
	shard.AddTombstone(key, seq)
	return nil
}

// Erase removes all documents.
// Every live document is turned into a tombstone, so revisions observed
// before the erase can't be used to modify re-created documents.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// Documents written concurrently may survive the erase.
func (maple *mapleImpl) Erase(ctx context.Context) error {
	if err := maple.check(ctx); err != nil {
		return err
	}

	for _, shard := range maple.shards {
		var keys []string
		shard.Data.Range(func(key string, e internal.Entry) bool {
			if e.Live() {
				keys = append(keys, key)
			}
			return true
		})

		for _, key := range keys {
			var seq uint64
			shard.Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
				if !loaded {
					return old, true
				}
				if !old.Live() {
					return old, false
				}
				seq = maple.updateSeq.Add(1)
				return internal.Entry{
					Rev:     db.NextRev(old.Rev, nil),
					Deleted: true,
					Seq:     seq,
				}, false
			})

			if seq != 0 {
				maple.docCount.Add(-1)
				shard.AddTombstone(key, seq)
			}
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get returns the current document for the given key.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(ctx context.Context, key string) (db.Doc, error) {
	if err := maple.check(ctx); err != nil {
		return db.Doc{}, err
	}

	e, ok := maple.shardFor(key).Data.Load(key)
	if !ok || !e.Live() {
		return db.Doc{}, db.ErrNotFound(key)
	}

	return db.Doc{
		Key:   key,
		Rev:   e.Rev,
		Value: util.CopyBytes(e.Value),
	}, nil
}

// AllKeys returns the keys of all live documents in ascending order
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) AllKeys(ctx context.Context) ([]string, error) {
	if err := maple.check(ctx); err != nil {
		return nil, err
	}

	keys := make([]string, 0, maple.docCount.Load())
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			if e.Live() {
				keys = append(keys, key)
			}
			return true
		})
	}

	sort.Strings(keys)
	return keys, nil
}

// --------------------------------------------------------------------------
// Compaction
// --------------------------------------------------------------------------

// startCompaction starts the background compactor.
// if the compactor is already running or disabled, this function does nothing
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) startCompaction() {
	maple.compactionMu.Lock()
	defer maple.compactionMu.Unlock()

	if maple.compactionStop != nil || maple.compactionInterval < 0 {
		return
	}

	stop := make(chan struct{})
	maple.compactionStop = stop
	maple.compactionDone.Add(1)
	go maple.compactor(stop)
}

// stopCompaction stops the background compactor and waits until it exited.
// if the compactor is not running, this function does nothing.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) stopCompaction() {
	maple.compactionMu.Lock()
	defer maple.compactionMu.Unlock()

	if maple.compactionStop == nil {
		return
	}
	close(maple.compactionStop)
	maple.compactionStop = nil
	maple.compactionDone.Wait()
}

// compactor is the main compaction loop
// WARNING: this method should never be called directly! use startCompaction() and stopCompaction()
func (maple *mapleImpl) compactor(stop <-chan struct{}) {
	defer maple.compactionDone.Done()

	ticker := time.NewTicker(maple.compactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			maple.compact()
		}
	}
}

// compact reclaims all tombstones that are older than the retention window
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) compact() int {
	/*
		Note: The horizon is read once per run so that a constant stream of
		removals can't keep a single run going forever.
	*/
	seq := maple.updateSeq.Load()
	if seq <= maple.tombstoneRetention {
		return 0
	}
	horizon := seq - maple.tombstoneRetention

	reclaimed := 0
	for _, shard := range maple.shards {
		reclaimed += shard.Compact(horizon)
	}
	maple.reclaimed.Add(uint64(reclaimed))

	return reclaimed
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists all live documents to the writer.
// Tombstones are not persisted.
//
// Thread-safety: This function allows concurrent operations with all other functions
// except Load. It takes snapshots of the shards without blocking modifications.
func (maple *mapleImpl) Save(w io.Writer) error {
	if maple.closed.Load() && maple.snapshotPath == "" {
		return db.ErrClosed
	}

	type docToSave struct {
		key   string
		entry internal.Entry
	}

	// entries are immutable once stored, no deep copy needed
	var docs []docToSave
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			if e.Live() {
				docs = append(docs, docToSave{key, e})
			}
			return true
		})
	}

	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, maple.updateSeq.Load()); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(docs))); err != nil {
		return err
	}

	// Write documents
	for _, d := range docs {
		if err := writeString16(bw, d.key); err != nil {
			return err
		}
		if err := writeString16(bw, d.entry.Rev); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(d.entry.Value))); err != nil {
			return err
		}
		if _, err := bw.Write(d.entry.Value); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the content of the database with the snapshot read from r
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (maple *mapleImpl) Load(r io.Reader) error {
	if err := maple.check(context.Background()); err != nil {
		return err
	}

	// stop compaction during load
	maple.stopCompaction()
	defer maple.startCompaction()

	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return db.WrapError(db.CodeInvalid, err, "failed to read snapshot header")
	}
	if string(magicBytes) != magicNum {
		return db.NewError(db.CodeInvalid, "invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return db.NewError(db.CodeInvalid, "unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var updateSeq, count uint64
	if err := binary.Read(br, binary.LittleEndian, &updateSeq); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	for _, shard := range maple.shards {
		shard.Clear()
	}
	maple.docCount.Store(0)

	for i := uint64(0); i < count; i++ {
		key, err := readString16(br)
		if err != nil {
			return err
		}
		rev, err := readString16(br)
		if err != nil {
			return err
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		maple.shardFor(key).Data.Store(key, internal.Entry{
			Rev:   rev,
			Value: value,
			Seq:   updateSeq,
		})
		maple.docCount.Add(1)
	}

	maple.updateSeq.Store(updateSeq)
	return nil
}

func writeString16(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString16(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// Info returns statistics about the database.
// DocCount and UpdateSeq are exact, SizeBytes is estimated from a sample of each shard.
func (maple *mapleImpl) Info(ctx context.Context) (db.DatabaseInfo, error) {
	if err := maple.check(ctx); err != nil {
		return db.DatabaseInfo{}, err
	}

	// create a size histogram for the info
	histogram := util.NewSizeHistogram()
	samplesPerShard := 100
	wg := sync.WaitGroup{}
	wg.Add(len(maple.shards))

	shardSizes := make([]float64, len(maple.shards))
	var tombstones atomic.Int64

	// concurrently collect samples from all shards
	for shardIndex, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count := 0
			s.Data.Range(func(key string, e internal.Entry) bool {
				if e.Live() {
					histogram.AddSample(len(key) + len(e.Value) + len(e.Rev))
					count++
				}
				return count < samplesPerShard
			})
			shardSizes[i] = float64(s.Data.Size())
			tombstones.Add(int64(s.PendingTombstones()))
		}(shardIndex, shard)
	}

	// wait for all shards to finish
	wg.Wait()

	docCount := maple.docCount.Load()

	// weighted estimate (60% median, 40% average) plus the entry overhead
	entryOverhead := 48
	perDoc := (histogram.MedianEstimate()*60+histogram.AverageSize()*40)/100 + entryOverhead

	// Metadata for this specific database implementation
	meta := &struct {
		InstanceID         string                 `json:"instance_id"`
		ShardCount         int                    `json:"shard_count"`
		ShardDistribution  util.DistributionStats `json:"shard_distribution"`
		PendingTombstones  int64                  `json:"pending_tombstones"`
		ReclaimedTombstone uint64                 `json:"reclaimed_tombstones"`
		TombstoneRetention uint64                 `json:"tombstone_retention"`
		SnapshotPath       string                 `json:"snapshot_path,omitempty"`
		Info               string                 `json:"info"`
	}{
		InstanceID:         maple.instanceID,
		ShardCount:         len(maple.shards),
		ShardDistribution:  util.NewDistributionStats(shardSizes),
		PendingTombstones:  tombstones.Load(),
		ReclaimedTombstone: maple.reclaimed.Load(),
		TombstoneRetention: maple.tombstoneRetention,
		SnapshotPath:       maple.snapshotPath,
		Info:               "SizeBytes is an estimate and may vary depending on the database state.",
	}

	return db.DatabaseInfo{
		DocCount:          uint64(docCount),
		UpdateSeq:         maple.updateSeq.Load(),
		SizeBytes:         int(docCount) * perDoc,
		DbType:            db.ImplMaple,
		SupportedFeatures: supportedFeatures.Split(),
		Metadata:          meta,
	}, nil
}

const supportedFeatures = db.FeatureCRUD |
	db.FeatureErase |
	db.FeatureSave |
	db.FeatureLoad |
	db.FeatureCompaction

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// Close stops the compactor. In file mode the database is saved before closing.
func (maple *mapleImpl) Close() error {
	if !maple.closed.CompareAndSwap(false, true) {
		return nil
	}
	maple.stopCompaction()

	if maple.snapshotPath != "" {
		if err := maple.saveFile(maple.snapshotPath); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
	}
	return nil
}
