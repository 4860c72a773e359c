// Package store provides a generic key-value store facade over any db.KVDB.
// It translates a small, uniform API (get, put, has, forget, count, ...) into
// revision-checked calls against the database and never returns errors from
// its operations.
//
// The package focuses on:
//   - A uniform interface (IStore) with single key, bulk and whole store operations
//   - Pluggable storage backends selected by a connection string (see db.Open)
//   - One explicit place where database errors collapse into fallback values
//
// Key Components:
//
//   - Store: The facade. Keys of type K are mapped onto document ids by a KeyCodec,
//     values of type T onto bytes by a ValueCodec (JSON by default).
//
//   - Primitives and derived operations: load, exists, write and remove talk to the
//     database and return explicit errors. The public operations are built on
//     them and pass every error to collapse, which records it for LastError, the
//     metrics and the span of the operation before the fallback value is returned.
//
//   - RetryPolicy: Writes and removals read the current revision and write against it.
//     Conflicts with concurrent writers and unavailable databases are retried with a
//     refreshed revision and exponential backoff, bounded by MaxAttempts.
//
// Usage Example:
//
//	s, err := store.New[string, int](ctx, store.DefaultConfig("sqlite:///var/lib/app/kv.db"))
//	if err != nil {
//	  return err
//	}
//	defer s.Close()
//
//	s.Put(ctx, "1", 1)
//	v, ok := s.Get(ctx, "1")      // 1, true
//	s.Forget(ctx, "1")            // true
//	s.Count(ctx)                  // 0
//
//	if err := s.LastError(); err != nil {
//	  // the most recent failure that was reported as absent, false, empty or 0
//	}
//
// Observability:
//
//	Every operation increments dockv_store_ops_total{op} and records its latency in
//	dockv_store_op_duration_seconds{op} (VictoriaMetrics). Collapsed errors increment
//	dockv_store_collapsed_errors_total{op}. Each operation runs in an OpenTelemetry
//	span named "store.<op>".
//
// Thread Safety:
//
//	A Store is safe for concurrent use. It does not lock: the read, update and remove
//	sequence of a key is not atomic, concurrent writers of the same key are ordered by
//	the revision check of the database.
package store
