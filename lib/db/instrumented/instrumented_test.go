package instrumented

import (
	"context"
	"testing"

	"github.com/konceiver/dockv/lib/db"
	"github.com/konceiver/dockv/lib/db/engines/maple"
	dbtesting "github.com/konceiver/dockv/lib/db/testing"
	"github.com/rcrowley/go-metrics"
)

func newTestDB(t testing.TB) db.KVDB {
	database, err := maple.OpenMemory(context.Background(), db.Connection{Scheme: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	return Wrap(database, nil)
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "Instrumented", newTestDB)
}

func TestOperationsAreRecorded(t *testing.T) {
	ctx := context.Background()
	registry := metrics.NewRegistry()

	inner, err := maple.OpenMemory(ctx, db.Connection{Scheme: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	database := Wrap(inner, registry)
	defer database.Close()

	if Registry(database) != registry {
		t.Fatal("Registry must return the registry passed to Wrap")
	}
	if Registry(inner) != nil {
		t.Fatal("Registry of an undecorated database must be nil")
	}

	rev, err := database.Put(ctx, db.Doc{Key: "a", Value: []byte("1")})
	if err != nil {
		t.Fatal(err)
	}
	// a conflict is an expected outcome and not counted as error
	if _, err := database.Put(ctx, db.Doc{Key: "a", Value: []byte("2")}); !db.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := database.Get(ctx, "missing"); !db.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := database.Remove(ctx, "a", rev); err != nil {
		t.Fatal(err)
	}

	if n := registry.Get(OpPut).(metrics.Timer).Count(); n != 2 {
		t.Errorf("expected 2 recorded puts, got %d", n)
	}
	if n := registry.Get(OpPut + ".errors").(metrics.Counter).Count(); n != 0 {
		t.Errorf("expected no put errors, got %d", n)
	}

	info, err := database.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	meta, ok := info.Metadata.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected metadata type %T", info.Metadata)
	}
	stats := meta["metrics"].(map[string]OpStats)
	if stats[OpGet].Count != 1 || stats[OpRemove].Count != 1 {
		t.Errorf("unexpected statistics %+v", stats)
	}
	if _, ok := stats[OpSave]; ok {
		t.Error("operations that were never called must not be reported")
	}
}

func TestErrorsAreCounted(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	registry := Registry(database)

	if err := database.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := database.Get(ctx, "a"); db.CodeOf(err) != db.CodeClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
	if n := registry.Get(OpGet + ".errors").(metrics.Counter).Count(); n != 1 {
		t.Errorf("expected 1 get error, got %d", n)
	}
}
