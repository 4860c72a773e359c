package maple

import (
	"testing"

	"github.com/konceiver/dockv/lib/db"
	dbtesting "github.com/konceiver/dockv/lib/db/testing"
)

func newTestDB(t testing.TB) db.KVDB {
	database, err := NewMapleDB(nil)
	if err != nil {
		t.Fatal(err)
	}
	return database
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", newTestDB)
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MapleDB", newTestDB)
}
