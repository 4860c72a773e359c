package store

import (
	"time"

	"github.com/konceiver/dockv/lib/db"
	"go.opentelemetry.io/otel/trace"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds the configuration of a store
type Config struct {
	// Connection is passed unchanged to db.Open, e.g. "memory://cache" or "sqlite:///data/kv.db"
	Connection string

	// Retry bounds the attempts of writes and removals
	Retry RetryPolicy

	// BulkConcurrency limits the element operations a bulk operation runs
	// concurrently, values < 1 select DefaultBulkConcurrency
	BulkConcurrency int

	// Tracer records one span per operation. Nil uses the global tracer provider.
	Tracer trace.Tracer
}

// RetryPolicy decides how often a write or removal is attempted.
// Between attempts the policy waits Backoff, doubled after every attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	// RetryOn reports whether a failed attempt may be retried.
	// Nil retries conflicts and unavailable databases (db.IsTransient).
	RetryOn func(err error) bool
}

const (
	DefaultBulkConcurrency = 16
	DefaultMaxAttempts     = 3
	DefaultBackoff         = 5 * time.Millisecond
	DefaultMaxBackoff      = 200 * time.Millisecond
)

// DefaultRetryPolicy returns the retry policy of DefaultConfig
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		MaxBackoff:  DefaultMaxBackoff,
		RetryOn:     db.IsTransient,
	}
}

// DefaultConfig returns the default configuration for the given connection string
func DefaultConfig(connection string) Config {
	return Config{
		Connection:      connection,
		Retry:           DefaultRetryPolicy(),
		BulkConcurrency: DefaultBulkConcurrency,
	}
}

// normalize replaces unset values with their defaults
func (c Config) normalize() Config {
	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = 1
	}
	if c.Retry.RetryOn == nil {
		c.Retry.RetryOn = db.IsTransient
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = DefaultMaxBackoff
	}
	if c.BulkConcurrency < 1 {
		c.BulkConcurrency = DefaultBulkConcurrency
	}
	return c
}

// delay returns the wait before the given retry (1 based)
func (p RetryPolicy) delay(retry int) time.Duration {
	d := p.Backoff
	for i := 1; i < retry && d < p.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, p.MaxBackoff)
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Option configures parts of a store that depend on its type parameters
type Option[K comparable, T any] func(*options[K, T])

type options[K comparable, T any] struct {
	keys     KeyCodec[K]
	values   ValueCodec[T]
	database db.KVDB
}

// WithKeyCodec sets the codec mapping keys onto document ids, see DefaultKeyCodec
func WithKeyCodec[K comparable, T any](codec KeyCodec[K]) Option[K, T] {
	return func(o *options[K, T]) { o.keys = codec }
}

// WithValueCodec sets the codec mapping values onto bytes, JSONCodec by default
func WithValueCodec[K comparable, T any](codec ValueCodec[T]) Option[K, T] {
	return func(o *options[K, T]) { o.values = codec }
}

// WithDatabase makes the store use database instead of opening Config.Connection.
// The store takes ownership and closes database on Close.
func WithDatabase[K comparable, T any](database db.KVDB) Option[K, T] {
	return func(o *options[K, T]) { o.database = database }
}
