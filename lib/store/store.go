package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/konceiver/dockv/lib/db"
	"github.com/konceiver/dockv/lib/db/engines"
	"github.com/lni/dragonboat/v4/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("store")

// tracerName is the instrumentation scope of the spans of all stores
const tracerName = "github.com/konceiver/dockv/lib/store"

var _ IStore[string, []byte] = (*Store[string, []byte])(nil)

// Store is the key-value store facade over one db.KVDB.
// It implements IStore.
type Store[K comparable, T any] struct {
	db      db.KVDB
	keys    KeyCodec[K]
	values  ValueCodec[T]
	config  Config
	tracer  trace.Tracer
	lastErr atomic.Pointer[OpError]
}

// New opens the database of config.Connection and returns a store over it.
// The built-in engines and the erase extension are registered on first use.
// This is the only operation that returns an error.
func New[K comparable, T any](ctx context.Context, config Config, opts ...Option[K, T]) (*Store[K, T], error) {
	o := options[K, T]{
		keys:   DefaultKeyCodec[K](),
		values: JSONCodec[T]{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	config = config.normalize()
	engines.RegisterBuiltin()

	database := db.WithErase(o.database)
	if database == nil {
		var err error
		if database, err = db.Open(ctx, config.Connection); err != nil {
			return nil, err
		}
	}

	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	Logger.Debugf("opened store on %q", config.Connection)

	return &Store[K, T]{
		db:     database,
		keys:   o.keys,
		values: o.values,
		config: config,
		tracer: tracer,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.IStore)
// --------------------------------------------------------------------------

func (s *Store[K, T]) Get(ctx context.Context, key K) (T, bool) {
	ctx, op := s.begin(ctx, opGet)
	defer op.end()

	value, ok, err := s.load(ctx, key)
	if err != nil {
		s.collapse(op, err)
	}
	return value, ok
}

func (s *Store[K, T]) Put(ctx context.Context, key K, value T) bool {
	ctx, op := s.begin(ctx, opPut)
	defer op.end()

	return s.put(ctx, op, key, value)
}

func (s *Store[K, T]) Has(ctx context.Context, key K) bool {
	ctx, op := s.begin(ctx, opHas)
	defer op.end()

	return s.has(ctx, op, key)
}

func (s *Store[K, T]) Missing(ctx context.Context, key K) bool {
	ctx, op := s.begin(ctx, opMissing)
	defer op.end()

	return !s.has(ctx, op, key)
}

func (s *Store[K, T]) Pull(ctx context.Context, key K) (T, bool) {
	ctx, op := s.begin(ctx, opPull)
	defer op.end()

	return s.pull(ctx, op, key)
}

func (s *Store[K, T]) Forget(ctx context.Context, key K) bool {
	ctx, op := s.begin(ctx, opForget)
	defer op.end()

	return s.forget(ctx, op, key)
}

func (s *Store[K, T]) GetMany(ctx context.Context, keys []K) []Value[T] {
	ctx, op := s.begin(ctx, opGetMany)
	defer op.end()

	return s.getMany(ctx, op, keys)
}

func (s *Store[K, T]) PutMany(ctx context.Context, entries []Entry[K, T]) []bool {
	ctx, op := s.begin(ctx, opPutMany)
	defer op.end()

	return parallel(ctx, s.config.BulkConcurrency, len(entries), func(ctx context.Context, i int) bool {
		return s.put(ctx, op, entries[i].Key, entries[i].Value)
	})
}

func (s *Store[K, T]) HasMany(ctx context.Context, keys []K) []bool {
	ctx, op := s.begin(ctx, opHasMany)
	defer op.end()

	return parallel(ctx, s.config.BulkConcurrency, len(keys), func(ctx context.Context, i int) bool {
		return s.has(ctx, op, keys[i])
	})
}

func (s *Store[K, T]) MissingMany(ctx context.Context, keys []K) []bool {
	ctx, op := s.begin(ctx, opMissingMany)
	defer op.end()

	return parallel(ctx, s.config.BulkConcurrency, len(keys), func(ctx context.Context, i int) bool {
		return !s.has(ctx, op, keys[i])
	})
}

// PullMany reads all keys first and removes them afterward
func (s *Store[K, T]) PullMany(ctx context.Context, keys []K) []Value[T] {
	ctx, op := s.begin(ctx, opPullMany)
	defer op.end()

	values := s.getMany(ctx, op, keys)
	parallel(ctx, s.config.BulkConcurrency, len(keys), func(ctx context.Context, i int) bool {
		return s.forget(ctx, op, keys[i])
	})
	return values
}

func (s *Store[K, T]) ForgetMany(ctx context.Context, keys []K) []bool {
	ctx, op := s.begin(ctx, opForgetMany)
	defer op.end()

	return parallel(ctx, s.config.BulkConcurrency, len(keys), func(ctx context.Context, i int) bool {
		return s.forget(ctx, op, keys[i])
	})
}

func (s *Store[K, T]) Flush(ctx context.Context) bool {
	ctx, op := s.begin(ctx, opFlush)
	defer op.end()

	return s.flush(ctx, op).Empty
}

func (s *Store[K, T]) FlushDetailed(ctx context.Context) FlushResult {
	ctx, op := s.begin(ctx, opFlush)
	defer op.end()

	return s.flush(ctx, op)
}

func (s *Store[K, T]) All(ctx context.Context) []Entry[K, T] {
	ctx, op := s.begin(ctx, opAll)
	defer op.end()

	return s.all(ctx, op)
}

func (s *Store[K, T]) Keys(ctx context.Context) []K {
	ctx, op := s.begin(ctx, opKeys)
	defer op.end()

	ids, err := s.db.AllKeys(ctx)
	if err != nil {
		s.collapse(op, err)
		return []K{}
	}

	keys := make([]K, 0, len(ids))
	for _, id := range ids {
		key, err := s.keys.DecodeKey(id)
		if err != nil {
			s.collapse(op, db.WrapError(db.CodeInvalid, err, "decode key %q", id))
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func (s *Store[K, T]) Values(ctx context.Context) []T {
	ctx, op := s.begin(ctx, opValues)
	defer op.end()

	entries := s.all(ctx, op)
	values := make([]T, len(entries))
	for i, entry := range entries {
		values[i] = entry.Value
	}
	return values
}

func (s *Store[K, T]) Count(ctx context.Context) uint64 {
	ctx, op := s.begin(ctx, opCount)
	defer op.end()

	return s.count(ctx, op)
}

func (s *Store[K, T]) IsEmpty(ctx context.Context) bool {
	ctx, op := s.begin(ctx, opIsEmpty)
	defer op.end()

	return s.count(ctx, op) == 0
}

func (s *Store[K, T]) IsNotEmpty(ctx context.Context) bool {
	ctx, op := s.begin(ctx, opIsNotEmpty)
	defer op.end()

	return s.count(ctx, op) != 0
}

func (s *Store[K, T]) LastError() error {
	if e := s.lastErr.Load(); e != nil {
		return e
	}
	return nil
}

func (s *Store[K, T]) Close() error {
	return s.db.Close()
}

// DB returns the database handle of the store
func (s *Store[K, T]) DB() db.KVDB {
	return s.db
}

// --------------------------------------------------------------------------
// Derived Operations (built on the primitives, collapse errors)
// --------------------------------------------------------------------------

// put writes value and reports whether the key is present afterward.
// A failed write is collapsed, the result comes from the existence check.
func (s *Store[K, T]) put(ctx context.Context, op *operation, key K, value T) bool {
	if err := s.write(ctx, key, value); err != nil {
		s.collapse(op, err)
	}
	return s.has(ctx, op, key)
}

func (s *Store[K, T]) has(ctx context.Context, op *operation, key K) bool {
	ok, err := s.exists(ctx, key)
	if err != nil {
		s.collapse(op, err)
		return false
	}
	return ok
}

// pull reads key and removes it, the removal is attempted even if the read failed
func (s *Store[K, T]) pull(ctx context.Context, op *operation, key K) (T, bool) {
	value, ok, err := s.load(ctx, key)
	if err != nil {
		s.collapse(op, err)
	}
	if err := s.remove(ctx, key); err != nil && !db.IsNotFound(err) {
		s.collapse(op, err)
	}
	return value, ok
}

// forget removes key. It returns false without removing anything if the key is
// absent, otherwise whether the key is absent afterward.
func (s *Store[K, T]) forget(ctx context.Context, op *operation, key K) bool {
	if !s.has(ctx, op, key) {
		return false
	}
	if err := s.remove(ctx, key); err != nil && !db.IsNotFound(err) {
		s.collapse(op, err)
	}
	return !s.has(ctx, op, key)
}

func (s *Store[K, T]) getMany(ctx context.Context, op *operation, keys []K) []Value[T] {
	return parallel(ctx, s.config.BulkConcurrency, len(keys), func(ctx context.Context, i int) Value[T] {
		value, ok, err := s.load(ctx, keys[i])
		if err != nil {
			s.collapse(op, err)
		}
		return Value[T]{Value: value, Ok: ok}
	})
}

// flush erases the database and checks whether it is empty afterward
func (s *Store[K, T]) flush(ctx context.Context, op *operation) FlushResult {
	var result FlushResult

	if err := s.db.Erase(ctx); err != nil {
		s.collapse(op, err)
	} else {
		result.Erased = true
	}

	n, err := s.docCount(ctx)
	if err != nil {
		s.collapse(op, err)
		return result
	}
	result.Empty = n == 0
	return result
}

// all lists the keys and fetches every value independently.
// Keys removed between listing and fetching are skipped.
func (s *Store[K, T]) all(ctx context.Context, op *operation) []Entry[K, T] {
	ids, err := s.db.AllKeys(ctx)
	if err != nil {
		s.collapse(op, err)
		return []Entry[K, T]{}
	}

	type fetched struct {
		entry Entry[K, T]
		ok    bool
	}

	results := parallel(ctx, s.config.BulkConcurrency, len(ids), func(ctx context.Context, i int) fetched {
		key, err := s.keys.DecodeKey(ids[i])
		if err != nil {
			s.collapse(op, db.WrapError(db.CodeInvalid, err, "decode key %q", ids[i]))
			return fetched{}
		}
		value, ok, err := s.loadID(ctx, ids[i])
		if err != nil {
			s.collapse(op, err)
		}
		return fetched{entry: Entry[K, T]{Key: key, Value: value}, ok: ok}
	})

	entries := make([]Entry[K, T], 0, len(results))
	for _, r := range results {
		if r.ok {
			entries = append(entries, r.entry)
		}
	}
	return entries
}

func (s *Store[K, T]) count(ctx context.Context, op *operation) uint64 {
	n, err := s.docCount(ctx)
	if err != nil {
		s.collapse(op, err)
		return 0
	}
	return n
}

// --------------------------------------------------------------------------
// Primitives (return explicit errors, never collapse)
// --------------------------------------------------------------------------

// load reads and decodes the value of key. A missing key is not an error.
func (s *Store[K, T]) load(ctx context.Context, key K) (T, bool, error) {
	id, err := s.encodeKey(key)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return s.loadID(ctx, id)
}

func (s *Store[K, T]) loadID(ctx context.Context, id string) (T, bool, error) {
	var zero T

	doc, err := s.db.Get(ctx, id)
	if db.IsNotFound(err) {
		return zero, false, nil
	} else if err != nil {
		return zero, false, err
	}

	value, err := s.values.Decode(doc.Value)
	if err != nil {
		return zero, false, db.WrapError(db.CodeInvalid, err, "decode value of %q", id)
	}
	return value, true, nil
}

// exists reports whether a document is stored for key
func (s *Store[K, T]) exists(ctx context.Context, key K) (bool, error) {
	id, err := s.encodeKey(key)
	if err != nil {
		return false, err
	}

	_, err = s.db.Get(ctx, id)
	if db.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// write stores value for key. Every attempt reads the current revision and
// writes against it, so a conflict with a concurrent writer is retried with the
// refreshed revision as long as the retry policy allows.
func (s *Store[K, T]) write(ctx context.Context, key K, value T) error {
	id, err := s.encodeKey(key)
	if err != nil {
		return err
	}
	data, err := s.values.Encode(value)
	if err != nil {
		return db.WrapError(db.CodeInvalid, err, "encode value of %q", id)
	}

	return s.retry(ctx, func() error {
		rev, err := s.currentRev(ctx, id)
		if err != nil {
			return err
		}
		_, err = s.db.Put(ctx, db.Doc{Key: id, Rev: rev, Value: data})
		return err
	})
}

// remove deletes the document of key, retrying conflicts like write
func (s *Store[K, T]) remove(ctx context.Context, key K) error {
	id, err := s.encodeKey(key)
	if err != nil {
		return err
	}

	return s.retry(ctx, func() error {
		doc, err := s.db.Get(ctx, id)
		if err != nil {
			return err
		}
		return s.db.Remove(ctx, id, doc.Rev)
	})
}

// currentRev returns the revision of the document id, "" if it doesn't exist
func (s *Store[K, T]) currentRev(ctx context.Context, id string) (string, error) {
	doc, err := s.db.Get(ctx, id)
	if db.IsNotFound(err) {
		return "", nil
	}
	return doc.Rev, err
}

// docCount returns the number of documents as reported by the database
func (s *Store[K, T]) docCount(ctx context.Context) (uint64, error) {
	info, err := s.db.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.DocCount, nil
}

func (s *Store[K, T]) encodeKey(key K) (string, error) {
	id, err := s.keys.EncodeKey(key)
	if err != nil {
		return "", db.WrapError(db.CodeInvalid, err, "encode key %v", key)
	}
	return id, nil
}

// retry runs attempt until it succeeds, fails with an error the retry policy
// rejects or the attempts are exhausted
func (s *Store[K, T]) retry(ctx context.Context, attempt func() error) error {
	policy := s.config.Retry

	var err error
	for i := 1; ; i++ {
		if err = attempt(); err == nil {
			return nil
		}
		if i >= policy.MaxAttempts || !policy.RetryOn(err) {
			return err
		}

		Logger.Debugf("attempt %d/%d failed, retrying: %v", i, policy.MaxAttempts, err)
		retriesTotal.Inc()

		if d := policy.delay(i); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parallel runs fn for every index with at most limit calls at a time and
// returns the results in index order. fn must not fail, so neither does parallel.
func parallel[R any](ctx context.Context, limit, n int, fn func(ctx context.Context, i int) R) []R {
	results := make([]R, n)
	if n == 0 {
		return results
	}
	if n == 1 {
		results[0] = fn(ctx, 0)
		return results
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
