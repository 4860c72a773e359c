package maple

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/konceiver/dockv/lib/db"
)

// --------------------------------------------------------------------------
// File Mode
// --------------------------------------------------------------------------

// loadFile loads the snapshot stored at path. A missing file is not an error.
func (maple *mapleImpl) loadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return db.WrapError(db.CodeUnavailable, err, "failed to open snapshot %q", path)
	}
	defer f.Close()

	return maple.Load(f)
}

// saveFile atomically replaces the snapshot stored at path
func (maple *mapleImpl) saveFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := maple.Save(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

// --------------------------------------------------------------------------
// Connection Openers
// --------------------------------------------------------------------------

// named in-memory databases are shared within the process until the last handle is closed
var (
	namedMu sync.Mutex
	named   = map[string]*sharedDB{}
)

// sharedDB is a reference counted handle to a named in-memory database
type sharedDB struct {
	*mapleImpl
	name string
	refs int // guarded by namedMu
}

// handle is the db.KVDB returned for named databases, closing it releases one reference.
// The database itself is closed with the last handle. A closed handle rejects
// every operation with db.ErrClosed, even while other handles keep the database open.
type handle struct {
	*sharedDB
	once   sync.Once
	closed atomic.Bool
}

func (h *handle) Close() error {
	var err error
	h.once.Do(func() {
		h.closed.Store(true)

		namedMu.Lock()
		defer namedMu.Unlock()

		h.refs--
		if h.refs == 0 {
			delete(named, h.name)
			err = h.mapleImpl.Close()
		}
	})
	return err
}

func (h *handle) Get(ctx context.Context, key string) (db.Doc, error) {
	if h.closed.Load() {
		return db.Doc{}, db.ErrClosed
	}
	return h.mapleImpl.Get(ctx, key)
}

func (h *handle) Put(ctx context.Context, doc db.Doc) (string, error) {
	if h.closed.Load() {
		return "", db.ErrClosed
	}
	return h.mapleImpl.Put(ctx, doc)
}

func (h *handle) Remove(ctx context.Context, key, rev string) error {
	if h.closed.Load() {
		return db.ErrClosed
	}
	return h.mapleImpl.Remove(ctx, key, rev)
}

func (h *handle) Erase(ctx context.Context) error {
	if h.closed.Load() {
		return db.ErrClosed
	}
	return h.mapleImpl.Erase(ctx)
}

func (h *handle) AllKeys(ctx context.Context) ([]string, error) {
	if h.closed.Load() {
		return nil, db.ErrClosed
	}
	return h.mapleImpl.AllKeys(ctx)
}

func (h *handle) Info(ctx context.Context) (db.DatabaseInfo, error) {
	if h.closed.Load() {
		return db.DatabaseInfo{}, db.ErrClosed
	}
	return h.mapleImpl.Info(ctx)
}

func (h *handle) Save(w io.Writer) error {
	if h.closed.Load() {
		return db.ErrClosed
	}
	return h.mapleImpl.Save(w)
}

func (h *handle) Load(r io.Reader) error {
	if h.closed.Load() {
		return db.ErrClosed
	}
	return h.mapleImpl.Load(r)
}

// optionsFromConnection reads the engine options from the connection options
//
//	shards=N            number of shards
//	compaction=DURATION interval between compaction runs ("off" disables compaction)
//	retention=N         number of writes a tombstone is kept
func optionsFromConnection(conn db.Connection) (*DBOptions, error) {
	opts := DefaultOptions()

	if v := conn.Options.Get("shards"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, db.NewError(db.CodeInvalid, "invalid shards option %q", v)
		}
		opts.NumShards = n
	}

	if v := conn.Options.Get("compaction"); v == "off" {
		opts.CompactionInterval = -1
	} else if v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, db.NewError(db.CodeInvalid, "invalid compaction option %q", v)
		}
		opts.CompactionInterval = d
	}

	if v := conn.Options.Get("retention"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return nil, db.NewError(db.CodeInvalid, "invalid retention option %q", v)
		}
		opts.TombstoneRetention = n
	}

	return opts, nil
}

// OpenMemory opens an in-memory database for a memory:// connection.
// An empty target creates a private database, a named target is shared with all
// other open handles of the same name in this process.
func OpenMemory(_ context.Context, conn db.Connection) (db.KVDB, error) {
	opts, err := optionsFromConnection(conn)
	if err != nil {
		return nil, err
	}

	if conn.Target == "" {
		return newMaple(opts)
	}

	namedMu.Lock()
	defer namedMu.Unlock()

	shared, ok := named[conn.Target]
	if !ok {
		m, err := newMaple(opts)
		if err != nil {
			return nil, err
		}
		shared = &sharedDB{mapleImpl: m, name: conn.Target}
		named[conn.Target] = shared
	}
	shared.refs++

	return &handle{sharedDB: shared}, nil
}

// OpenFile opens an in-memory database for a file:// connection that is loaded from
// the target file on open and saved back to it on close
func OpenFile(_ context.Context, conn db.Connection) (db.KVDB, error) {
	if conn.Target == "" {
		return nil, db.NewError(db.CodeInvalid, "file connection %q has no path", conn.Raw)
	}

	opts, err := optionsFromConnection(conn)
	if err != nil {
		return nil, err
	}
	opts.SnapshotPath = conn.Target

	return newMaple(opts)
}
