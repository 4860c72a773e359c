package store

import (
	"context"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the generic interface of a key-value store with keys of type K
// and values of type T.
//
// No operation returns an error. Every failure of the underlying database
// collapses to the fallback value of the operation: absent for reads, false for
// checks, empty for enumerations and 0 for counts. Lookup failures are therefore
// indistinguishable from missing keys. Use LastError to inspect the most recent
// collapsed failure.
//
// Bulk operations apply the single key operation to every element independently,
// possibly concurrently, and return the results in input order.
type IStore[K comparable, T any] interface {

	// --------------------------------------------------------------------------
	// Single Key Operations
	// --------------------------------------------------------------------------

	// Get returns the value stored for key. The boolean is false if the key is absent.
	Get(ctx context.Context, key K) (value T, ok bool)
	// Put stores value for key, replacing any previous value. It reports whether
	// the key is present after the write.
	Put(ctx context.Context, key K, value T) (ok bool)
	// Has reports whether a value is stored for key.
	Has(ctx context.Context, key K) (ok bool)
	// Missing reports whether no value is stored for key.
	Missing(ctx context.Context, key K) (ok bool)
	// Pull returns the value stored for key and removes it. The removal is
	// attempted even if the value could not be read.
	Pull(ctx context.Context, key K) (value T, ok bool)
	// Forget removes key. It returns false if the key was already absent and
	// otherwise whether the key is absent afterward.
	Forget(ctx context.Context, key K) (ok bool)

	// --------------------------------------------------------------------------
	// Bulk Operations
	// --------------------------------------------------------------------------

	GetMany(ctx context.Context, keys []K) []Value[T]
	PutMany(ctx context.Context, entries []Entry[K, T]) []bool
	HasMany(ctx context.Context, keys []K) []bool
	MissingMany(ctx context.Context, keys []K) []bool
	PullMany(ctx context.Context, keys []K) []Value[T]
	ForgetMany(ctx context.Context, keys []K) []bool

	// --------------------------------------------------------------------------
	// Whole Store Operations
	// --------------------------------------------------------------------------

	// Flush removes all entries and reports whether the store is empty afterward.
	Flush(ctx context.Context) (empty bool)
	// FlushDetailed removes all entries and reports both the outcome of the
	// erase and whether the store is empty afterward.
	FlushDetailed(ctx context.Context) FlushResult
	// All returns every entry ordered by the encoded key.
	All(ctx context.Context) []Entry[K, T]
	// Keys returns every key ordered by the encoded key.
	Keys(ctx context.Context) []K
	// Values returns every value ordered by the encoded key.
	Values(ctx context.Context) []T
	// Count returns the number of entries.
	Count(ctx context.Context) uint64
	// IsEmpty reports whether Count is 0.
	IsEmpty(ctx context.Context) bool
	// IsNotEmpty reports whether Count is not 0.
	IsNotEmpty(ctx context.Context) bool

	// --------------------------------------------------------------------------
	// Diagnostics and Lifecycle
	// --------------------------------------------------------------------------

	// LastError returns the most recent failure that was collapsed into a fallback
	// value, nil if there was none. Missing keys are not failures.
	LastError() error
	// Close releases the database handle. Every operation after Close collapses.
	Close() error
}

// --------------------------------------------------------------------------
// Result Types
// --------------------------------------------------------------------------

// Value is the result of a single key read in a bulk operation
type Value[T any] struct {
	Value T    `json:"value" yaml:"value"`
	Ok    bool `json:"ok" yaml:"ok"` // false if the key is absent
}

// Entry is a key-value pair
type Entry[K comparable, T any] struct {
	Key   K `json:"key" yaml:"key"`
	Value T `json:"value" yaml:"value"`
}

// FlushResult reports the outcome of a flush
type FlushResult struct {
	Erased bool `json:"erased" yaml:"erased"` // the erase completed without error
	Empty  bool `json:"empty" yaml:"empty"`   // the store was empty afterward
}

// OpError is the error reported by LastError. It names the operation whose
// result was collapsed.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}
