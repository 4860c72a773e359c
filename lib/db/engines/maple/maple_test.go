package maple

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/konceiver/dockv/lib/db"
)

func TestCompactionReclaimsTombstones(t *testing.T) {
	ctx := context.Background()
	m, err := newMaple(&DBOptions{NumShards: 4, CompactionInterval: -1, TombstoneRetention: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	revs := map[string]string{}
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%d", i)
		rev, err := m.Put(ctx, db.Doc{Key: key, Value: []byte("v")})
		if err != nil {
			t.Fatal(err)
		}
		revs[key] = rev
	}
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := m.Remove(ctx, key, revs[key]); err != nil {
			t.Fatal(err)
		}
	}

	// seq is 25, the tombstones were created at 21..25, none is older than the horizon 15
	if n := m.compact(); n != 0 {
		t.Fatalf("expected no tombstone to be reclaimed yet, got %d", n)
	}

	// re-create one of the removed documents, its tombstone must survive compaction
	if _, err := m.Put(ctx, db.Doc{Key: "key-0", Value: []byte("again")}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("filler-%d", i)
		if _, err := m.Put(ctx, db.Doc{Key: key, Value: []byte("v")}); err != nil {
			t.Fatal(err)
		}
	}

	if n := m.compact(); n != 4 {
		t.Fatalf("expected 4 reclaimed tombstones, got %d", n)
	}

	if _, err := m.Get(ctx, "key-0"); err != nil {
		t.Errorf("re-created document must survive compaction: %v", err)
	}

	total := 0
	for _, shard := range m.shards {
		total += shard.Data.Size()
		if shard.PendingTombstones() != 0 {
			t.Errorf("expected no pending tombstones, got %d", shard.PendingTombstones())
		}
	}
	if total != 36 {
		t.Errorf("expected 36 entries after compaction, got %d", total)
	}

	info, err := m.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.DocCount != 36 {
		t.Errorf("expected DocCount 36, got %d", info.DocCount)
	}
}

func TestBackgroundCompaction(t *testing.T) {
	ctx := context.Background()
	m, err := newMaple(&DBOptions{NumShards: 2, CompactionInterval: 5 * time.Millisecond, TombstoneRetention: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	rev, err := m.Put(ctx, db.Doc{Key: "key", Value: []byte("v")})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(ctx, "key", rev); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Put(ctx, db.Doc{Key: "other", Value: []byte("v")}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.reclaimed.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tombstone was not reclaimed by the background compactor")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFileMode(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "data.maple")
	conn, err := db.ParseConnection("file://" + path)
	if err != nil {
		t.Fatal(err)
	}

	first, err := OpenFile(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	rev, err := first.Put(ctx, db.Doc{Key: "persistent", Value: []byte("value")})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second, err := OpenFile(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	doc, err := second.Get(ctx, "persistent")
	if err != nil {
		t.Fatalf("document was not restored from %s: %v", path, err)
	}
	if doc.Rev != rev || string(doc.Value) != "value" {
		t.Errorf("unexpected document %s=%s", doc.Rev, doc.Value)
	}
}

func TestNamedMemoryDatabasesAreShared(t *testing.T) {
	ctx := context.Background()
	conn, _ := db.ParseConnection("memory://shared-test")

	a, err := OpenMemory(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	b, err := OpenMemory(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := a.Put(ctx, db.Doc{Key: "key", Value: []byte("v")}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ctx, "key"); err != nil {
		t.Fatalf("named databases should be shared: %v", err)
	}

	// closing one handle keeps the database open for the other
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ctx, "key"); err != nil {
		t.Fatalf("database closed too early: %v", err)
	}
	if _, err := a.Get(ctx, "key"); db.CodeOf(err) != db.CodeClosed {
		t.Errorf("a closed handle must reject reads, got %v", err)
	}
	if _, err := a.Put(ctx, db.Doc{Key: "other", Value: []byte("v")}); db.CodeOf(err) != db.CodeClosed {
		t.Errorf("a closed handle must reject writes, got %v", err)
	}
	if _, err := b.Get(ctx, "other"); !db.IsNotFound(err) {
		t.Errorf("a write through a closed handle must not reach the database, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	// the last close drops the database
	c, err := OpenMemory(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Get(ctx, "key"); !db.IsNotFound(err) {
		t.Errorf("expected a fresh database after the last close, got %v", err)
	}

	// private databases are never shared
	anon, _ := db.ParseConnection("memory://")
	p1, _ := OpenMemory(ctx, anon)
	p2, _ := OpenMemory(ctx, anon)
	defer p1.Close()
	defer p2.Close()
	if _, err := p1.Put(ctx, db.Doc{Key: "key", Value: []byte("v")}); err != nil {
		t.Fatal(err)
	}
	if _, err := p2.Get(ctx, "key"); !db.IsNotFound(err) {
		t.Errorf("private databases must not be shared, got %v", err)
	}
}

func TestOptionsFromConnection(t *testing.T) {
	tests := []struct {
		conn    string
		wantErr bool
		check   func(*DBOptions) bool
	}{
		{"memory://?shards=3", false, func(o *DBOptions) bool { return o.NumShards == 3 }},
		{"memory://?compaction=off", false, func(o *DBOptions) bool { return o.CompactionInterval < 0 }},
		{"memory://?compaction=1s&retention=5", false, func(o *DBOptions) bool {
			return o.CompactionInterval == time.Second && o.TombstoneRetention == 5
		}},
		{"memory://?shards=0", true, nil},
		{"memory://?compaction=soon", true, nil},
		{"memory://?retention=-1", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.conn, func(t *testing.T) {
			conn, err := db.ParseConnection(tt.conn)
			if err != nil {
				t.Fatal(err)
			}
			opts, err := optionsFromConnection(conn)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !tt.check(opts) {
				t.Errorf("unexpected options %+v", opts)
			}
		})
	}
}
