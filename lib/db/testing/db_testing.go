package testing

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/konceiver/dockv/lib/db"
)

// DBFactory is a function that creates a new, empty instance of a KVDB implementation
type DBFactory func(t testing.TB) db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory(t))
		})

		t.Run("CreateConflict", func(t *testing.T) {
			testCreateConflict(t, factory(t))
		})

		t.Run("StaleRevision", func(t *testing.T) {
			testStaleRevision(t, factory(t))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory(t))
		})

		t.Run("RecreateAfterRemove", func(t *testing.T) {
			testRecreateAfterRemove(t, factory(t))
		})

		t.Run("AllKeys", func(t *testing.T) {
			testAllKeys(t, factory(t))
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory(t))
		})

		t.Run("Erase", func(t *testing.T) {
			testErase(t, factory(t))
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory(t))
		})

		t.Run("ConcurrentUpdates", func(t *testing.T) {
			testConcurrentUpdates(t, factory(t))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skipf("feature %s not supported", feature)
	}
}

func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustPut(t testing.TB, ctx context.Context, database db.KVDB, key, rev string, value []byte) string {
	t.Helper()
	newRev, err := database.Put(ctx, db.Doc{Key: key, Rev: rev, Value: value})
	if err != nil {
		t.Fatalf("Put(%q, rev=%q) failed: %v", key, rev, err)
	}
	if !db.ValidRev(newRev) {
		t.Fatalf("Put(%q) returned malformed revision %q", key, newRev)
	}
	return newRev
}

func requireCode(t testing.TB, err error, code db.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if got := db.CodeOf(err); got != code {
		t.Fatalf("expected error with code %s, got %s (%v)", code, got, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	rev1 := mustPut(t, ctx, database, testKey, "", testValue1)

	doc, err := database.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Expected key %s to exist after Put: %v", testKey, err)
	}
	if doc.Key != testKey || doc.Rev != rev1 || !bytes.Equal(doc.Value, testValue1) {
		t.Errorf("Expected %s@%s=%s, got %s@%s=%s", testKey, rev1, testValue1, doc.Key, doc.Rev, doc.Value)
	}

	rev2 := mustPut(t, ctx, database, testKey, rev1, testValue2)
	if rev2 == rev1 {
		t.Errorf("Expected a new revision after update, got %s twice", rev1)
	}
	if db.RevGeneration(rev2) <= db.RevGeneration(rev1) {
		t.Errorf("Expected generation to increase: %s -> %s", rev1, rev2)
	}

	doc, err = database.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Expected key %s to exist after update: %v", testKey, err)
	}
	if doc.Rev != rev2 || !bytes.Equal(doc.Value, testValue2) {
		t.Errorf("Expected %s=%s, got %s=%s", rev2, testValue2, doc.Rev, doc.Value)
	}

	_, err = database.Get(ctx, "nonexistent-key")
	requireCode(t, err, db.CodeNotFound)

	// values are copies
	doc.Value[0] = 'X'
	original, _ := database.Get(ctx, testKey)
	if !bytes.Equal(original.Value, testValue2) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testCreateConflict(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)

	rev := mustPut(t, ctx, database, "key", "", []byte("first"))

	_, err := database.Put(ctx, db.Doc{Key: "key", Value: []byte("second")})
	requireCode(t, err, db.CodeConflict)

	doc, err := database.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Rev != rev || string(doc.Value) != "first" {
		t.Errorf("A conflicting create must not modify the document, got %s=%s", doc.Rev, doc.Value)
	}
}

func testStaleRevision(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)

	rev1 := mustPut(t, ctx, database, "key", "", []byte("v1"))
	rev2 := mustPut(t, ctx, database, "key", rev1, []byte("v2"))

	_, err := database.Put(ctx, db.Doc{Key: "key", Rev: rev1, Value: []byte("v3")})
	requireCode(t, err, db.CodeConflict)

	_, err = database.Put(ctx, db.Doc{Key: "key", Rev: "1-doesnotexist", Value: []byte("v3")})
	requireCode(t, err, db.CodeConflict)

	// a revision for a document that doesn't exist conflicts as well
	_, err = database.Put(ctx, db.Doc{Key: "other", Rev: rev2, Value: []byte("v")})
	requireCode(t, err, db.CodeConflict)
	_, err = database.Get(ctx, "other")
	requireCode(t, err, db.CodeNotFound)

	doc, err := database.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Rev != rev2 || string(doc.Value) != "v2" {
		t.Errorf("Stale writes must be rejected, got %s=%s", doc.Rev, doc.Value)
	}
}

func testRemove(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)

	requireCode(t, database.Remove(ctx, "missing", ""), db.CodeNotFound)

	rev1 := mustPut(t, ctx, database, "key", "", []byte("v1"))
	rev2 := mustPut(t, ctx, database, "key", rev1, []byte("v2"))

	requireCode(t, database.Remove(ctx, "key", rev1), db.CodeConflict)

	if _, err := database.Get(ctx, "key"); err != nil {
		t.Fatalf("A conflicting remove must not delete the document: %v", err)
	}

	if err := database.Remove(ctx, "key", rev2); err != nil {
		t.Fatalf("Remove with current revision failed: %v", err)
	}

	_, err := database.Get(ctx, "key")
	requireCode(t, err, db.CodeNotFound)

	requireCode(t, database.Remove(ctx, "key", rev2), db.CodeNotFound)
}

func testRecreateAfterRemove(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)

	rev1 := mustPut(t, ctx, database, "key", "", []byte("value"))
	if err := database.Remove(ctx, "key", rev1); err != nil {
		t.Fatal(err)
	}

	rev2 := mustPut(t, ctx, database, "key", "", []byte("value"))
	if rev2 == rev1 {
		t.Errorf("A re-created document must not reuse the revision %s", rev1)
	}

	_, err := database.Put(ctx, db.Doc{Key: "key", Rev: rev1, Value: []byte("stale")})
	requireCode(t, err, db.CodeConflict)

	doc, err := database.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Rev != rev2 {
		t.Errorf("Expected revision %s, got %s", rev2, doc.Rev)
	}
}

func testAllKeys(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)

	keys, err := database.AllKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("Expected no keys in a new database, got %v", keys)
	}

	revs := map[string]string{}
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		revs[k] = mustPut(t, ctx, database, k, "", []byte("value-"+k))
	}
	if err := database.Remove(ctx, "e", revs["e"]); err != nil {
		t.Fatal(err)
	}

	keys, err = database.AllKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, keys); diff != "" {
		t.Errorf("unexpected keys (-want +got):\n%s", diff)
	}
}

func testInfo(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)

	info, err := database.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.DocCount != 0 {
		t.Errorf("Expected DocCount 0 for a new database, got %d", info.DocCount)
	}
	if info.DbType == "" {
		t.Error("Info must report the database type")
	}

	var lastRev string
	for i := 0; i < 10; i++ {
		rev := mustPut(t, ctx, database, fmt.Sprintf("key-%02d", i), "", []byte("value"))
		if i == 9 {
			lastRev = rev
		}
	}
	if err := database.Remove(ctx, "key-09", lastRev); err != nil {
		t.Fatal(err)
	}

	info, err = database.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.DocCount != 9 {
		t.Errorf("Expected DocCount 9, got %d", info.DocCount)
	}
}

func testErase(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)
	database = db.WithErase(database)

	requireFeature(t, database, db.FeatureErase)

	// erasing an empty database is fine
	if err := database.Erase(ctx); err != nil {
		t.Fatalf("Erase on empty database failed: %v", err)
	}

	revs := map[string]string{}
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		revs[key] = mustPut(t, ctx, database, key, "", []byte("value"))
	}

	if err := database.Erase(ctx); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}

	info, err := database.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.DocCount != 0 {
		t.Errorf("Expected DocCount 0 after Erase, got %d", info.DocCount)
	}

	keys, err := database.AllKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("Expected no keys after Erase, got %d", len(keys))
	}

	// erased keys can be created again
	mustPut(t, ctx, database, "key-1", "", []byte("again"))
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	source := factory(t)
	defer source.Close()
	ctx := testContext(t)

	requireFeature(t, source, db.FeatureSave|db.FeatureLoad)

	want := map[string]db.Doc{}
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%03d", i)
		value := []byte(fmt.Sprintf("value-%d", i))
		rev := mustPut(t, ctx, source, key, "", value)
		want[key] = db.Doc{Key: key, Rev: rev, Value: value}
	}

	// a removed document must not be restored
	removed := want["key-050"]
	if err := source.Remove(ctx, removed.Key, removed.Rev); err != nil {
		t.Fatal(err)
	}
	delete(want, removed.Key)

	var buf bytes.Buffer
	if err := source.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	target := factory(t)
	defer target.Close()

	mustPut(t, ctx, target, "overwritten", "", []byte("by load"))

	if err := target.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	keys, err := target.AllKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys after Load, got %d", len(want), len(keys))
	}

	for key, expected := range want {
		doc, err := target.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%s) after Load failed: %v", key, err)
		}
		if diff := cmp.Diff(expected, doc); diff != "" {
			t.Fatalf("unexpected document (-want +got):\n%s", diff)
		}
	}

	// revisions survive the round trip
	expected := want["key-001"]
	if _, err := target.Put(ctx, db.Doc{Key: expected.Key, Rev: expected.Rev, Value: []byte("updated")}); err != nil {
		t.Errorf("Update with restored revision failed: %v", err)
	}

	if err := target.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Error("Load of an invalid snapshot should fail")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)

	cases := []struct {
		name  string
		key   string
		value []byte
	}{
		{"EmptyValue", "empty-value", []byte{}},
		{"BinaryValue", "binary", []byte{0, 1, 2, 255, 0}},
		{"UnicodeKey", "ключ/鍵/🔑", []byte("unicode")},
		{"KeyWithSeparators", "a/b:c?d=e&f#g", []byte("separators")},
		{"LargeValue", "large", bytes.Repeat([]byte("x"), 256*1024)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mustPut(t, ctx, database, tc.key, "", tc.value)

			doc, err := database.Get(ctx, tc.key)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(doc.Value, tc.value) {
				t.Errorf("Expected value of length %d, got length %d", len(tc.value), len(doc.Value))
			}
		})
	}

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := database.Put(ctx, db.Doc{Key: "", Value: []byte("v")})
		if err == nil {
			t.Error("Put with an empty key should fail")
		}
	})
}

func testConcurrentUpdates(t *testing.T, database db.KVDB) {
	defer database.Close()
	ctx := testContext(t)

	const (
		workers          = 8
		incrementsPerJob = 25
		key              = "counter"
	)

	mustPut(t, ctx, database, key, "", []byte("0"))

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < incrementsPerJob; i++ {
				for {
					doc, err := database.Get(ctx, key)
					if err != nil {
						errs <- err
						return
					}
					var n int
					fmt.Sscanf(string(doc.Value), "%d", &n)

					_, err = database.Put(ctx, db.Doc{Key: key, Rev: doc.Rev, Value: []byte(fmt.Sprint(n + 1))})
					if err == nil {
						break
					}
					if !db.IsConflict(err) {
						errs <- err
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	doc, err := database.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if want := fmt.Sprint(workers * incrementsPerJob); string(doc.Value) != want {
		t.Errorf("Lost updates: expected counter %s, got %s", want, doc.Value)
	}
	if gen := db.RevGeneration(doc.Rev); gen != workers*incrementsPerJob+1 {
		t.Errorf("Expected generation %d, got %d", workers*incrementsPerJob+1, gen)
	}
}

func testClosed(t *testing.T, database db.KVDB) {
	ctx := testContext(t)

	mustPut(t, ctx, database, "key", "", []byte("value"))

	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := database.Get(ctx, "key"); db.CodeOf(err) != db.CodeClosed {
		t.Errorf("Expected Get after Close to fail with %s, got %v", db.CodeClosed, err)
	}
	if _, err := database.Put(ctx, db.Doc{Key: "other"}); db.CodeOf(err) != db.CodeClosed {
		t.Errorf("Expected Put after Close to fail with %s, got %v", db.CodeClosed, err)
	}
}
