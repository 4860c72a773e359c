package testing

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/konceiver/dockv/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a document database implementation
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Create", func(b *testing.B) {
			benchmarkCreate(b, factory(b))
		})

		b.Run("Update", func(b *testing.B) {
			benchmarkUpdate(b, factory(b))
		})

		b.Run("LargeValue", func(b *testing.B) {
			benchmarkLargeValue(b, factory(b))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory(b))
		})

		b.Run("Get(not)", func(b *testing.B) {
			benchmarkGetNot(b, factory(b))
		})

		b.Run("Remove", func(b *testing.B) {
			benchmarkRemove(b, factory(b))
		})

		b.Run("AllKeys", func(b *testing.B) {
			benchmarkAllKeys(b, factory(b))
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory(b))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// populate creates n documents with the keys key-0 ... key-(n-1) and returns their revisions
func populate(b *testing.B, database db.KVDB, n int, value []byte) []string {
	ctx := context.Background()
	revs := make([]string, n)
	for i := 0; i < n; i++ {
		rev, err := database.Put(ctx, db.Doc{Key: fmt.Sprintf("key-%d", i), Value: value})
		if err != nil {
			b.Fatal(err)
		}
		revs[i] = rev
	}
	return revs
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for creating new documents
func benchmarkCreate(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	ctx := context.Background()
	value := []byte("benchmark-value")
	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("key-%d", counter.Add(1))
			if _, err := database.Put(ctx, db.Doc{Key: key, Value: value}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Benchmark for updating a single document with its current revision
func benchmarkUpdate(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	ctx := context.Background()
	value := []byte("benchmark-value")
	rev := populate(b, database, 1, value)[0]

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var err error
		rev, err = database.Put(ctx, db.Doc{Key: "key-0", Rev: rev, Value: value})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for creating documents with 1 MB values
func benchmarkLargeValue(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	ctx := context.Background()
	value := bytes.Repeat([]byte("x"), 1024*1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := database.Put(ctx, db.Doc{Key: fmt.Sprintf("large-%d", i), Value: value}); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for reading existing documents
func benchmarkGet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	const n = 1000
	ctx := context.Background()
	populate(b, database, n, []byte("benchmark-value"))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			if _, err := database.Get(ctx, fmt.Sprintf("key-%d", rnd.Intn(n))); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Benchmark for reading missing documents
func benchmarkGetNot(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := database.Get(ctx, "missing"); !db.IsNotFound(err) {
				b.Errorf("expected not found, got %v", err)
				return
			}
		}
	})
}

// Benchmark for removing documents
func benchmarkRemove(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	ctx := context.Background()
	revs := populate(b, database, b.N, []byte("benchmark-value"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := database.Remove(ctx, fmt.Sprintf("key-%d", i), revs[i]); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for listing all keys of a database with 10k documents
func benchmarkAllKeys(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	ctx := context.Background()
	populate(b, database, 10000, []byte("v"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := database.AllKeys(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for saving and loading a database with 10k documents
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	source := factory(b)
	b.Cleanup(func() {
		source.Close()
	})

	requireFeature(b, source, db.FeatureSave|db.FeatureLoad)
	populate(b, source, 10000, []byte("benchmark-value"))

	var snapshot bytes.Buffer
	if err := source.Save(&snapshot); err != nil {
		b.Fatal(err)
	}

	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if err := source.Save(&bytes.Buffer{}); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory(b)
		b.Cleanup(func() {
			target.Close()
		})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// Benchmark for a realistic mix of 70% reads, 20% updates and 10% removals
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	const n = 1000
	ctx := context.Background()
	populate(b, database, n, []byte("benchmark-value"))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", rnd.Intn(n))
			op := rnd.Intn(10)

			doc, err := database.Get(ctx, key)
			if op < 7 {
				continue
			}

			// conflicts and missing documents are expected under contention
			if op < 9 {
				_, _ = database.Put(ctx, db.Doc{Key: key, Rev: doc.Rev, Value: []byte("updated")})
			} else if err == nil {
				_ = database.Remove(ctx, key, doc.Rev)
			}
		}
	})
}
