package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/go-cmp/cmp"
	"github.com/konceiver/dockv/lib/db"
	"github.com/konceiver/dockv/lib/db/engines"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"
)

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

func TestNamedConnectionIsShared(t *testing.T) {
	ctx := context.Background()
	name := fmt.Sprintf("memory://shared-%d", time.Now().UnixNano())

	first, err := New[string, string](ctx, DefaultConfig(name))
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := New[string, string](ctx, DefaultConfig(name))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	first.Put(ctx, "k", "v")
	if v, ok := second.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("stores on the same named connection must share entries, got %q %v", v, ok)
	}
}

func TestClosedStoreIsDetachedFromSharedConnection(t *testing.T) {
	ctx := context.Background()
	name := fmt.Sprintf("memory://detached-%d", time.Now().UnixNano())

	first, err := New[string, int](ctx, DefaultConfig(name))
	if err != nil {
		t.Fatal(err)
	}
	second, err := New[string, int](ctx, DefaultConfig(name))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	first.Put(ctx, "k", 1)
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	if first.Put(ctx, "other", 2) {
		t.Error("Put on a closed store must report failure")
	}
	if _, ok := first.Get(ctx, "k"); ok {
		t.Error("Get on a closed store must return absent")
	}
	if n := first.Count(ctx); n != 0 {
		t.Errorf("Count on a closed store must be 0, got %d", n)
	}
	if db.CodeOf(first.LastError()) != db.CodeClosed {
		t.Errorf("expected a closed error, got %v", first.LastError())
	}

	// the other store keeps working and never sees the rejected write
	if v, ok := second.Get(ctx, "k"); !ok || v != 1 {
		t.Errorf("expected 1, got %d %v", v, ok)
	}
	if second.Has(ctx, "other") {
		t.Error("a write through a closed store must not reach the database")
	}
}

func TestNewFailsForUnknownScheme(t *testing.T) {
	if _, err := New[string, int](context.Background(), DefaultConfig("nosuchscheme://x")); err == nil {
		t.Fatal("expected an error for an unknown scheme")
	}
}

// --------------------------------------------------------------------------
// Error collapsing
// --------------------------------------------------------------------------

// faultyDB injects errors into a wrapped database
type faultyDB struct {
	db.KVDB
	putFailures   atomic.Int32 // number of Puts that fail with putErr
	putErr        error
	eraseErr      error
	infoErr       error
	allKeysErr    error
	removeFailure atomic.Int32
}

func (f *faultyDB) Put(ctx context.Context, doc db.Doc) (string, error) {
	if f.putFailures.Add(-1) >= 0 {
		return "", f.putErr
	}
	return f.KVDB.Put(ctx, doc)
}

func (f *faultyDB) Remove(ctx context.Context, key, rev string) error {
	if f.removeFailure.Add(-1) >= 0 {
		return db.ErrConflict(key, rev)
	}
	return f.KVDB.Remove(ctx, key, rev)
}

func (f *faultyDB) Erase(ctx context.Context) error {
	if f.eraseErr != nil {
		return f.eraseErr
	}
	return f.KVDB.Erase(ctx)
}

func (f *faultyDB) Info(ctx context.Context) (db.DatabaseInfo, error) {
	if f.infoErr != nil {
		return db.DatabaseInfo{}, f.infoErr
	}
	return f.KVDB.Info(ctx)
}

func (f *faultyDB) AllKeys(ctx context.Context) ([]string, error) {
	if f.allKeysErr != nil {
		return nil, f.allKeysErr
	}
	return f.KVDB.AllKeys(ctx)
}

func newFaulty(t *testing.T, retry RetryPolicy) (*Store[string, int], *faultyDB) {
	t.Helper()
	ctx := context.Background()

	inner, err := engines.Open(ctx, "memory://")
	if err != nil {
		t.Fatal(err)
	}

	faulty := &faultyDB{KVDB: inner}
	config := DefaultConfig("faulty")
	config.Retry = retry
	s, err := New[string, int](ctx, config, WithDatabase[string, int](faulty))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, faulty
}

func TestPutRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	s, faulty := newFaulty(t, policy)
	faulty.putErr = db.ErrConflict("k", "")
	faulty.putFailures.Store(2)

	if !s.Put(ctx, "k", 1) {
		t.Fatalf("Put must succeed on the third attempt: %v", s.LastError())
	}
	if err := s.LastError(); err != nil {
		t.Errorf("a successful retry must not record an error, got %v", err)
	}
	if v, _ := s.Get(ctx, "k"); v != 1 {
		t.Errorf("expected 1, got %d", v)
	}
}

func TestPutGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()

	s, faulty := newFaulty(t, RetryPolicy{MaxAttempts: 2})
	faulty.putErr = db.NewError(db.CodeUnavailable, "flaky")
	faulty.putFailures.Store(2)

	if s.Put(ctx, "k", 1) {
		t.Fatal("Put of a new key must report failure when every attempt fails")
	}
	if db.CodeOf(s.LastError()) != db.CodeUnavailable {
		t.Errorf("expected the last write error, got %v", s.LastError())
	}

	// post write check: an existing key reports present even if the write failed
	if !s.Put(ctx, "k", 1) {
		t.Fatal(s.LastError())
	}
	faulty.putFailures.Store(1)
	faulty.putErr = db.NewError(db.CodeInternal, "broken")
	if !s.Put(ctx, "k", 2) {
		t.Error("Put reports presence after the write")
	}
	if v, _ := s.Get(ctx, "k"); v != 1 {
		t.Errorf("failed write must not change the value, got %d", v)
	}
}

func TestNonRetryableErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()

	s, faulty := newFaulty(t, RetryPolicy{MaxAttempts: 5})
	faulty.putErr = db.NewError(db.CodeInvalid, "bad")
	faulty.putFailures.Store(1)

	if s.Put(ctx, "k", 1) {
		t.Fatal("invalid writes must not be retried")
	}
	if left := faulty.putFailures.Load(); left != 0 {
		t.Errorf("expected exactly one attempt, %d failures left", left)
	}
}

func TestForgetRetriesConflicts(t *testing.T) {
	ctx := context.Background()

	s, faulty := newFaulty(t, RetryPolicy{MaxAttempts: 3})
	s.Put(ctx, "k", 1)
	faulty.removeFailure.Store(1)

	if !s.Forget(ctx, "k") {
		t.Fatalf("Forget must succeed on the second attempt: %v", s.LastError())
	}
}

func TestFlushExposesBothStates(t *testing.T) {
	ctx := context.Background()

	s, faulty := newFaulty(t, DefaultRetryPolicy())
	faulty.eraseErr = db.NewError(db.CodeUnavailable, "erase failed")

	// erase failed, but the store is empty anyway
	result := s.FlushDetailed(ctx)
	if diff := cmp.Diff(FlushResult{Erased: false, Empty: true}, result); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}

	s.Put(ctx, "k", 1)
	if s.Flush(ctx) {
		t.Error("Flush must report a non empty store when the erase failed")
	}
}

func TestEnumerationFailuresCollapse(t *testing.T) {
	ctx := context.Background()

	s, faulty := newFaulty(t, DefaultRetryPolicy())
	s.Put(ctx, "k", 1)

	faulty.allKeysErr = db.NewError(db.CodeUnavailable, "down")
	faulty.infoErr = db.NewError(db.CodeUnavailable, "down")

	if got := s.Keys(ctx); got == nil || len(got) != 0 {
		t.Errorf("Keys must be empty, got %v", got)
	}
	if got := s.All(ctx); got == nil || len(got) != 0 {
		t.Errorf("All must be empty, got %v", got)
	}
	if got := s.Values(ctx); len(got) != 0 {
		t.Errorf("Values must be empty, got %v", got)
	}
	if s.Count(ctx) != 0 || !s.IsEmpty(ctx) || s.IsNotEmpty(ctx) {
		t.Error("Count must collapse to 0")
	}

	var opErr *OpError
	if !errors.As(s.LastError(), &opErr) || opErr.Op != opIsNotEmpty {
		t.Errorf("expected the error of the last operation, got %v", s.LastError())
	}
}

func TestClosedStoreCollapses(t *testing.T) {
	ctx := context.Background()
	s, err := New[string, int](ctx, DefaultConfig("memory://"))
	if err != nil {
		t.Fatal(err)
	}
	s.Put(ctx, "k", 1)

	collapsed := metrics.GetOrCreateCounter(`dockv_store_collapsed_errors_total{op="get"}`)
	before := collapsed.Get()

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("Get on a closed store must return absent")
	}
	if db.CodeOf(s.LastError()) != db.CodeClosed {
		t.Errorf("expected a closed error, got %v", s.LastError())
	}
	if collapsed.Get() != before+1 {
		t.Errorf("expected the collapsed error counter to increase by one")
	}
	if s.Put(ctx, "k", 2) || s.Has(ctx, "k") || !s.Missing(ctx, "k") || s.Forget(ctx, "k") {
		t.Error("operations on a closed store must return their fallback values")
	}
}

func TestCancelledContextCollapses(t *testing.T) {
	s, err := New[string, int](context.Background(), DefaultConfig("memory://"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Put(context.Background(), "k", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("Get with a cancelled context must return absent")
	}
	if s.Put(ctx, "new", 2) {
		t.Error("Put with a cancelled context must return false")
	}
	if s.Forget(ctx, "k") {
		t.Error("Forget with a cancelled context must return false")
	}
	if n := s.Count(ctx); n != 0 {
		t.Errorf("Count with a cancelled context must be 0, got %d", n)
	}
	if keys := s.Keys(ctx); keys == nil || len(keys) != 0 {
		t.Errorf("Keys with a cancelled context must be empty, got %v", keys)
	}
	if !errors.Is(s.LastError(), context.Canceled) {
		t.Errorf("expected the cancellation as last error, got %v", s.LastError())
	}

	// nothing was changed
	if v, ok := s.Get(context.Background(), "k"); !ok || v != 1 {
		t.Errorf("expected 1, got %d %v", v, ok)
	}
	if s.Has(context.Background(), "new") {
		t.Error("a cancelled Put must not write")
	}
}

func TestValueDecodeErrorsCollapse(t *testing.T) {
	ctx := context.Background()

	raw, err := New[string, []byte](ctx, DefaultConfig(fmt.Sprintf("memory://decode-%d", time.Now().UnixNano())),
		WithValueCodec[string, []byte](RawCodec{}))
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	raw.Put(ctx, "k", []byte("not json"))

	typed, err := New[string, int](ctx, DefaultConfig(raw.config.Connection))
	if err != nil {
		t.Fatal(err)
	}
	defer typed.Close()

	if _, ok := typed.Get(ctx, "k"); ok {
		t.Error("undecodable values must be reported as absent")
	}
	if db.CodeOf(typed.LastError()) != db.CodeInvalid {
		t.Errorf("expected an invalid error, got %v", typed.LastError())
	}
}

// --------------------------------------------------------------------------
// Concurrency and tracing
// --------------------------------------------------------------------------

func TestConcurrentPutsOnOneKey(t *testing.T) {
	ctx := context.Background()
	config := DefaultConfig("memory://")
	config.Retry = RetryPolicy{MaxAttempts: 50, Backoff: time.Microsecond, MaxBackoff: time.Millisecond}

	s, err := New[string, int](ctx, config)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.Put(ctx, "k", i) {
				t.Errorf("Put %d failed: %v", i, s.LastError())
			}
		}()
	}
	wg.Wait()

	if n := s.Count(ctx); n != 1 {
		t.Errorf("concurrent writes of one key must leave one entry, got %d", n)
	}
}

func TestBulkConcurrencyPreservesOrder(t *testing.T) {
	ctx := context.Background()
	config := DefaultConfig("memory://")
	config.BulkConcurrency = 3

	s, err := New[int, string](ctx, config)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var entries []Entry[int, string]
	var keys []int
	for i := 0; i < 100; i++ {
		entries = append(entries, Entry[int, string]{Key: i, Value: fmt.Sprint("v", i)})
		keys = append(keys, 99-i)
	}
	s.PutMany(ctx, entries)

	for i, v := range s.GetMany(ctx, keys) {
		if want := fmt.Sprint("v", keys[i]); !v.Ok || v.Value != want {
			t.Fatalf("position %d: expected %s, got %+v", i, want, v)
		}
	}
}

// recordingTracer records the names of all started spans
type recordingTracer struct {
	embedded.Tracer
	mu    sync.Mutex
	names []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return noop.NewTracerProvider().Tracer("").Start(ctx, name, opts...)
}

func TestOperationsAreTraced(t *testing.T) {
	ctx := context.Background()
	tracer := &recordingTracer{}
	config := DefaultConfig("memory://")
	config.Tracer = tracer

	s, err := New[string, int](ctx, config)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.Put(ctx, "k", 1)
	s.Pull(ctx, "k")
	s.Flush(ctx)

	want := []string{"store.put", "store.pull", "store.flush"}
	if diff := cmp.Diff(want, tracer.names); diff != "" {
		t.Errorf("unexpected spans (-want +got):\n%s", diff)
	}
}
