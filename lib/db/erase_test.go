package db

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
)

// fakeDB is a minimal KVDB without FeatureErase
type fakeDB struct {
	mu   sync.Mutex
	docs map[string]Doc
}

func newFakeDB() *fakeDB {
	return &fakeDB{docs: map[string]Doc{}}
}

func (f *fakeDB) Put(_ context.Context, doc Doc) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.docs[doc.Key]
	if (ok && old.Rev != doc.Rev) || (!ok && doc.Rev != "") {
		return "", ErrConflict(doc.Key, doc.Rev)
	}
	doc.Rev = NextRev(old.Rev, doc.Value)
	f.docs[doc.Key] = doc
	return doc.Rev, nil
}

func (f *fakeDB) Remove(_ context.Context, key, rev string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.docs[key]
	if !ok {
		return ErrNotFound(key)
	}
	if old.Rev != rev {
		return ErrConflict(key, rev)
	}
	delete(f.docs, key)
	return nil
}

func (f *fakeDB) Erase(context.Context) error {
	return NewError(CodeUnsupported, "erase")
}

func (f *fakeDB) Get(_ context.Context, key string) (Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[key]
	if !ok {
		return Doc{}, ErrNotFound(key)
	}
	return doc, nil
}

func (f *fakeDB) AllKeys(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.docs))
	for k := range f.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeDB) Info(context.Context) (DatabaseInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return DatabaseInfo{DocCount: uint64(len(f.docs)), DbType: "fake"}, nil
}

func (f *fakeDB) Save(io.Writer) error { return NewError(CodeUnsupported, "save") }
func (f *fakeDB) Load(io.Reader) error { return NewError(CodeUnsupported, "load") }

func (f *fakeDB) SupportsFeature(feature Feature) bool {
	return FeatureCRUD&feature == feature
}

func (f *fakeDB) Close() error { return nil }

func TestWithErase(t *testing.T) {
	ctx := context.Background()
	inner := newFakeDB()

	if inner.SupportsFeature(FeatureErase) {
		t.Fatal("fake must not support erase natively")
	}

	database := WithErase(inner)
	if !database.SupportsFeature(FeatureErase | FeatureGet) {
		t.Fatal("wrapped database must support erase")
	}
	if WithErase(database) != database {
		t.Error("wrapping twice must return the database unchanged")
	}
	if WithErase(nil) != nil {
		t.Error("WithErase(nil) must be nil")
	}

	for _, key := range []string{"a", "b", "c"} {
		if _, err := database.Put(ctx, Doc{Key: key, Value: []byte(key)}); err != nil {
			t.Fatal(err)
		}
	}

	if err := database.Erase(ctx); err != nil {
		t.Fatal(err)
	}
	keys, _ := database.AllKeys(ctx)
	if len(keys) != 0 {
		t.Errorf("expected no keys after erase, got %v", keys)
	}

	if u, ok := database.(interface{ Unwrap() KVDB }); !ok || u.Unwrap() != KVDB(inner) {
		t.Error("Unwrap must return the wrapped database")
	}
}

func TestWithEraseHonorsContext(t *testing.T) {
	database := WithErase(newFakeDB())
	if _, err := database.Put(context.Background(), Doc{Key: "a"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := database.Erase(ctx); err == nil {
		t.Error("Erase with a canceled context must fail")
	}
}
