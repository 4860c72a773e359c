// Package instrumented provides a db.KVDB decorator that records the latency
// and the error count of every database operation in a go-metrics registry.
//
// Usage:
//
//	database = instrumented.Wrap(database, nil)
//	info, _ := database.Info(ctx)
//	// info.Metadata["metrics"] holds an OpStats value per called operation
//
// Thread-safety: The decorator is safe for concurrent use if the wrapped database is.
package instrumented
