package instrumented

import (
	"context"
	"io"
	"time"

	"github.com/konceiver/dockv/lib/db"
	"github.com/rcrowley/go-metrics"
)

// Operation names used for the timers and error counters
const (
	OpGet     = "get"
	OpPut     = "put"
	OpRemove  = "remove"
	OpErase   = "erase"
	OpAllKeys = "all_keys"
	OpInfo    = "info"
	OpSave    = "save"
	OpLoad    = "load"
)

var operations = []string{OpGet, OpPut, OpRemove, OpErase, OpAllKeys, OpInfo, OpSave, OpLoad}

// instrumentedDB decorates a db.KVDB with one timer and one error counter per operation
type instrumentedDB struct {
	db.KVDB
	registry metrics.Registry
	timers   map[string]metrics.Timer
	errors   map[string]metrics.Counter
}

// Wrap returns a database that records the latency of every operation of database
// in registry. A nil registry creates a private one.
// The recorded values are reported under the "metrics" key of the Info metadata.
//
// Expected outcomes (db.CodeNotFound, db.CodeConflict) are not counted as errors.
func Wrap(database db.KVDB, registry metrics.Registry) db.KVDB {
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	i := &instrumentedDB{
		KVDB:     database,
		registry: registry,
		timers:   make(map[string]metrics.Timer, len(operations)),
		errors:   make(map[string]metrics.Counter, len(operations)),
	}
	for _, op := range operations {
		i.timers[op] = metrics.GetOrRegisterTimer(op, registry)
		i.errors[op] = metrics.GetOrRegisterCounter(op+".errors", registry)
	}
	return i
}

// Registry returns the registry the operations of database are recorded in,
// or nil if database was not created by Wrap
func Registry(database db.KVDB) metrics.Registry {
	if i, ok := database.(*instrumentedDB); ok {
		return i.registry
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.KVDB)
// --------------------------------------------------------------------------

func (i *instrumentedDB) Get(ctx context.Context, key string) (db.Doc, error) {
	defer i.observe(OpGet, time.Now())
	doc, err := i.KVDB.Get(ctx, key)
	return doc, i.count(OpGet, err)
}

func (i *instrumentedDB) Put(ctx context.Context, doc db.Doc) (string, error) {
	defer i.observe(OpPut, time.Now())
	rev, err := i.KVDB.Put(ctx, doc)
	return rev, i.count(OpPut, err)
}

func (i *instrumentedDB) Remove(ctx context.Context, key, rev string) error {
	defer i.observe(OpRemove, time.Now())
	return i.count(OpRemove, i.KVDB.Remove(ctx, key, rev))
}

func (i *instrumentedDB) Erase(ctx context.Context) error {
	defer i.observe(OpErase, time.Now())
	return i.count(OpErase, i.KVDB.Erase(ctx))
}

func (i *instrumentedDB) AllKeys(ctx context.Context) ([]string, error) {
	defer i.observe(OpAllKeys, time.Now())
	keys, err := i.KVDB.AllKeys(ctx)
	return keys, i.count(OpAllKeys, err)
}

func (i *instrumentedDB) Info(ctx context.Context) (db.DatabaseInfo, error) {
	start := time.Now()
	info, err := i.KVDB.Info(ctx)
	i.observe(OpInfo, start)
	if i.count(OpInfo, err) != nil {
		return info, err
	}

	info.Metadata = map[string]interface{}{
		"engine":  info.Metadata,
		"metrics": i.Snapshot(),
	}
	return info, nil
}

func (i *instrumentedDB) Save(w io.Writer) error {
	defer i.observe(OpSave, time.Now())
	return i.count(OpSave, i.KVDB.Save(w))
}

func (i *instrumentedDB) Load(r io.Reader) error {
	defer i.observe(OpLoad, time.Now())
	return i.count(OpLoad, i.KVDB.Load(r))
}

// Unwrap returns the wrapped database
func (i *instrumentedDB) Unwrap() db.KVDB {
	return i.KVDB
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// OpStats summarizes the recorded calls of one operation, durations are in milliseconds
type OpStats struct {
	Count  int64   `json:"count"`
	Errors int64   `json:"errors"`
	MeanMs float64 `json:"mean_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// Snapshot returns the statistics of all operations that were called at least once
func (i *instrumentedDB) Snapshot() map[string]OpStats {
	stats := make(map[string]OpStats)
	for _, op := range operations {
		t := i.timers[op].Snapshot()
		if t.Count() == 0 {
			continue
		}
		stats[op] = OpStats{
			Count:  t.Count(),
			Errors: i.errors[op].Snapshot().Count(),
			MeanMs: t.Mean() / float64(time.Millisecond),
			P99Ms:  t.Percentile(0.99) / float64(time.Millisecond),
			MaxMs:  float64(t.Max()) / float64(time.Millisecond),
		}
	}
	return stats
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (i *instrumentedDB) observe(op string, start time.Time) {
	i.timers[op].UpdateSince(start)
}

// count records err as failure of op unless it is an expected outcome and returns it unchanged
func (i *instrumentedDB) count(op string, err error) error {
	if err != nil && !db.IsNotFound(err) && !db.IsConflict(err) {
		i.errors[op].Inc(1)
	}
	return err
}
