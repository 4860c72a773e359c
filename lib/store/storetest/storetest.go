package storetest

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/konceiver/dockv/lib/store"
)

// Factory creates an empty store for a single test. The suite closes it.
type Factory func(t testing.TB) *store.Store[string, int]

// Fixtures returns the default fixtures {"1": 1, ..., "5": 5}
func Fixtures() map[string]int {
	fixtures := make(map[string]int, 5)
	for i := 1; i <= 5; i++ {
		fixtures[strconv.Itoa(i)] = i
	}
	return fixtures
}

// RunComplianceTests runs the behavioral contract of store.IStore against stores created by factory.
// fixtures must contain at least two entries, none of them stored under the key "missing".
func RunComplianceTests(t *testing.T, name string, factory Factory, fixtures map[string]int) {
	if len(fixtures) < 2 {
		t.Fatal("compliance tests need at least two fixtures")
	}

	keys := make([]string, 0, len(fixtures))
	for k := range fixtures {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f := suite{factory: factory, fixtures: fixtures, keys: keys}

	t.Run(name, func(t *testing.T) {
		t.Run("AbsentKey", f.testAbsentKey)
		t.Run("PutGet", f.testPutGet)
		t.Run("PutIdempotent", f.testPutIdempotent)
		t.Run("Overwrite", f.testOverwrite)
		t.Run("Forget", f.testForget)
		t.Run("Pull", f.testPull)
		t.Run("Flush", f.testFlush)
		t.Run("BulkOrder", f.testBulkOrder)
		t.Run("BulkRoundTrip", f.testBulkRoundTrip)
		t.Run("PullManyForgetMany", f.testPullManyForgetMany)
		t.Run("Enumeration", f.testEnumeration)
		t.Run("Count", f.testCount)
		t.Run("Scenario", f.testScenario)
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

type suite struct {
	factory  Factory
	fixtures map[string]int
	keys     []string // sorted fixture keys
}

func (f suite) open(t *testing.T) (*store.Store[string, int], context.Context) {
	t.Helper()
	s := f.factory(t)
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return s, ctx
}

func (f suite) seed(t *testing.T, ctx context.Context, s *store.Store[string, int]) {
	t.Helper()
	for _, k := range f.keys {
		if !s.Put(ctx, k, f.fixtures[k]) {
			t.Fatalf("Put(%s) failed: %v", k, s.LastError())
		}
	}
}

func checkNoError(t *testing.T, s *store.Store[string, int]) {
	t.Helper()
	if err := s.LastError(); err != nil {
		t.Errorf("unexpected collapsed error: %v", err)
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func (f suite) testAbsentKey(t *testing.T) {
	s, ctx := f.open(t)

	if v, ok := s.Get(ctx, "missing"); ok {
		t.Errorf("Get of a missing key returned %d", v)
	}
	if s.Has(ctx, "missing") {
		t.Error("Has of a missing key must be false")
	}
	if !s.Missing(ctx, "missing") {
		t.Error("Missing of a missing key must be true")
	}
	checkNoError(t, s)
}

func (f suite) testPutGet(t *testing.T) {
	s, ctx := f.open(t)

	for _, k := range f.keys {
		if !s.Put(ctx, k, f.fixtures[k]) {
			t.Fatalf("Put(%s) reported failure: %v", k, s.LastError())
		}
		v, ok := s.Get(ctx, k)
		if !ok || v != f.fixtures[k] {
			t.Errorf("Get(%s) = %d, %v, want %d", k, v, ok, f.fixtures[k])
		}
		if !s.Has(ctx, k) || s.Missing(ctx, k) {
			t.Errorf("key %s must be present", k)
		}
	}
	checkNoError(t, s)
}

func (f suite) testPutIdempotent(t *testing.T) {
	s, ctx := f.open(t)
	k := f.keys[0]

	for i := 0; i < 2; i++ {
		if !s.Put(ctx, k, f.fixtures[k]) {
			t.Fatalf("Put #%d failed: %v", i+1, s.LastError())
		}
	}
	if v, _ := s.Get(ctx, k); v != f.fixtures[k] {
		t.Errorf("expected %d, got %d", f.fixtures[k], v)
	}
	if n := s.Count(ctx); n != 1 {
		t.Errorf("repeated Put must not duplicate the entry, count %d", n)
	}
}

func (f suite) testOverwrite(t *testing.T) {
	s, ctx := f.open(t)
	first, second := f.keys[0], f.keys[1]

	s.Put(ctx, first, f.fixtures[first])
	s.Put(ctx, first, f.fixtures[second])

	if v, _ := s.Get(ctx, first); v != f.fixtures[second] {
		t.Errorf("expected last write %d, got %d", f.fixtures[second], v)
	}
	checkNoError(t, s)
}

func (f suite) testForget(t *testing.T) {
	s, ctx := f.open(t)
	k := f.keys[0]

	if s.Forget(ctx, k) {
		t.Error("Forget of an absent key must return false")
	}

	s.Put(ctx, k, f.fixtures[k])
	if !s.Forget(ctx, k) {
		t.Fatalf("Forget of a present key must return true: %v", s.LastError())
	}
	if s.Has(ctx, k) {
		t.Error("key must be absent after Forget")
	}

	// a forgotten key can be written again
	if !s.Put(ctx, k, f.fixtures[k]) {
		t.Errorf("Put after Forget failed: %v", s.LastError())
	}
	checkNoError(t, s)
}

func (f suite) testPull(t *testing.T) {
	s, ctx := f.open(t)
	k := f.keys[0]

	if _, ok := s.Pull(ctx, k); ok {
		t.Error("Pull of an absent key must return absent")
	}

	s.Put(ctx, k, f.fixtures[k])
	v, ok := s.Pull(ctx, k)
	if !ok || v != f.fixtures[k] {
		t.Errorf("Pull = %d, %v, want %d", v, ok, f.fixtures[k])
	}
	if !s.Missing(ctx, k) {
		t.Error("key must be absent after Pull")
	}
	checkNoError(t, s)
}

func (f suite) testFlush(t *testing.T) {
	s, ctx := f.open(t)

	// flushing an empty store is fine
	if !s.Flush(ctx) {
		t.Errorf("Flush of an empty store must report empty: %v", s.LastError())
	}

	f.seed(t, ctx, s)
	if !s.IsNotEmpty(ctx) {
		t.Fatal("store must not be empty after seeding")
	}

	result := s.FlushDetailed(ctx)
	if !result.Erased || !result.Empty {
		t.Errorf("unexpected flush result %+v: %v", result, s.LastError())
	}
	if n := s.Count(ctx); n != 0 {
		t.Errorf("expected count 0 after Flush, got %d", n)
	}
	if !s.IsEmpty(ctx) {
		t.Error("IsEmpty must be true after Flush")
	}
	checkNoError(t, s)
}

func (f suite) testBulkOrder(t *testing.T) {
	s, ctx := f.open(t)
	f.seed(t, ctx, s)

	// reversed, with a missing key in between
	query := []string{f.keys[len(f.keys)-1], "missing", f.keys[0]}
	want := []store.Value[int]{
		{Value: f.fixtures[query[0]], Ok: true},
		{},
		{Value: f.fixtures[query[2]], Ok: true},
	}
	if diff := cmp.Diff(want, s.GetMany(ctx, query)); diff != "" {
		t.Errorf("GetMany mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{true, false, true}, s.HasMany(ctx, query)); diff != "" {
		t.Errorf("HasMany mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false, true, false}, s.MissingMany(ctx, query)); diff != "" {
		t.Errorf("MissingMany mismatch (-want +got):\n%s", diff)
	}
	if got := s.GetMany(ctx, nil); len(got) != 0 {
		t.Errorf("GetMany of no keys must be empty, got %v", got)
	}
}

func (f suite) testBulkRoundTrip(t *testing.T) {
	s, ctx := f.open(t)

	entries := make([]store.Entry[string, int], len(f.keys))
	want := make([]store.Value[int], len(f.keys))
	for i, k := range f.keys {
		entries[i] = store.Entry[string, int]{Key: k, Value: f.fixtures[k]}
		want[i] = store.Value[int]{Value: f.fixtures[k], Ok: true}
	}

	for i, ok := range s.PutMany(ctx, entries) {
		if !ok {
			t.Errorf("PutMany failed for %s: %v", entries[i].Key, s.LastError())
		}
	}
	if diff := cmp.Diff(want, s.GetMany(ctx, f.keys)); diff != "" {
		t.Errorf("GetMany after PutMany mismatch (-want +got):\n%s", diff)
	}
}

func (f suite) testPullManyForgetMany(t *testing.T) {
	s, ctx := f.open(t)
	f.seed(t, ctx, s)

	pulled := s.PullMany(ctx, []string{f.keys[0], "missing"})
	want := []store.Value[int]{{Value: f.fixtures[f.keys[0]], Ok: true}, {}}
	if diff := cmp.Diff(want, pulled); diff != "" {
		t.Errorf("PullMany mismatch (-want +got):\n%s", diff)
	}

	forgotten := s.ForgetMany(ctx, []string{f.keys[0], f.keys[1]})
	if diff := cmp.Diff([]bool{false, true}, forgotten); diff != "" {
		t.Errorf("ForgetMany mismatch (-want +got):\n%s", diff)
	}

	if n := s.Count(ctx); n != uint64(len(f.keys)-2) {
		t.Errorf("expected %d entries left, got %d", len(f.keys)-2, n)
	}
	checkNoError(t, s)
}

func (f suite) testEnumeration(t *testing.T) {
	s, ctx := f.open(t)

	if got := s.All(ctx); len(got) != 0 {
		t.Errorf("All of an empty store must be empty, got %v", got)
	}

	f.seed(t, ctx, s)

	keys := s.Keys(ctx)
	sort.Strings(keys)
	if diff := cmp.Diff(f.keys, keys); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}

	got := map[string]int{}
	for _, e := range s.All(ctx) {
		got[e.Key] = e.Value
	}
	if diff := cmp.Diff(f.fixtures, got); diff != "" {
		t.Errorf("All mismatch (-want +got):\n%s", diff)
	}

	var wantValues []int
	for _, k := range f.keys {
		wantValues = append(wantValues, f.fixtures[k])
	}
	values := s.Values(ctx)
	sort.Ints(values)
	sort.Ints(wantValues)
	if diff := cmp.Diff(wantValues, values); diff != "" {
		t.Errorf("Values mismatch (-want +got):\n%s", diff)
	}
	checkNoError(t, s)
}

func (f suite) testCount(t *testing.T) {
	s, ctx := f.open(t)

	if n := s.Count(ctx); n != 0 {
		t.Errorf("expected count 0, got %d", n)
	}
	if !s.IsEmpty(ctx) || s.IsNotEmpty(ctx) {
		t.Error("a new store must be empty")
	}

	f.seed(t, ctx, s)
	if n := s.Count(ctx); n != uint64(len(f.keys)) {
		t.Errorf("expected count %d, got %d", len(f.keys), n)
	}
	if s.IsEmpty(ctx) || !s.IsNotEmpty(ctx) {
		t.Error("a seeded store must not be empty")
	}
}

// testScenario walks through put, count, keys, forget and get on the first two fixtures
func (f suite) testScenario(t *testing.T) {
	s, ctx := f.open(t)
	a, b := f.keys[0], f.keys[1]

	s.Put(ctx, a, f.fixtures[a])
	s.Put(ctx, b, f.fixtures[b])

	if n := s.Count(ctx); n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}

	keys := s.Keys(ctx)
	sort.Strings(keys)
	if diff := cmp.Diff([]string{a, b}, keys); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}

	if !s.Forget(ctx, a) {
		t.Fatalf("Forget(%s) failed: %v", a, s.LastError())
	}
	if n := s.Count(ctx); n != 1 {
		t.Errorf("expected count 1, got %d", n)
	}
	if _, ok := s.Get(ctx, a); ok {
		t.Errorf("%s must be absent after Forget", a)
	}
	checkNoError(t, s)
}
