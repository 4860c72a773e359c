package boltdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/konceiver/dockv/lib/db"
	bolt "go.etcd.io/bbolt"
)

var (
	docsBucket = []byte("docs")
	metaBucket = []byte("meta")

	metaInstanceID = []byte("instance_id")

	// snapshotMagic prefixes a raw bolt file written by Save
	snapshotMagic = []byte("DOCKVBOLT\x00")
)

const (
	flagLive      byte = 0
	flagTombstone byte = 1

	defaultOpenTimeout = time.Second
)

// --------------------------------------------------------------------------
// Record encoding
// --------------------------------------------------------------------------

// record layout: [flag][rev]\x00[value]
func encodeRecord(rev string, value []byte, deleted bool) []byte {
	buf := make([]byte, 0, 2+len(rev)+len(value))
	if deleted {
		buf = append(buf, flagTombstone)
	} else {
		buf = append(buf, flagLive)
	}
	buf = append(buf, rev...)
	buf = append(buf, 0)
	return append(buf, value...)
}

// decodeRecord copies the record out of bolt owned memory
func decodeRecord(raw []byte) (rev string, value []byte, deleted bool, err error) {
	if len(raw) < 2 {
		return "", nil, false, fmt.Errorf("record too short (%d bytes)", len(raw))
	}
	sep := bytes.IndexByte(raw[1:], 0)
	if sep < 0 {
		return "", nil, false, errors.New("record has no revision separator")
	}
	rev = string(raw[1 : 1+sep])
	value = append([]byte{}, raw[2+sep:]...)
	return rev, value, raw[0] == flagTombstone, nil
}

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// boltImpl stores every document (including tombstones) in one bolt bucket.
// The bucket sequence doubles as the update sequence of the database.
type boltImpl struct {
	bolt       *bolt.DB
	path       string
	instanceID string
	closed     atomic.Bool
}

// NewBoltDB opens (or creates) the bolt file at path
func NewBoltDB(path string, timeout time.Duration) (db.KVDB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, db.WrapError(db.CodeUnavailable, err, "create directory for %q", path)
		}
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, db.WrapError(db.CodeUnavailable, err, "open bolt file %q", path)
	}

	impl := &boltImpl{bolt: bdb, path: path}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(docsBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if id := meta.Get(metaInstanceID); id != nil {
			impl.instanceID = string(id)
			return nil
		}
		impl.instanceID = uuid.NewString()
		return meta.Put(metaInstanceID, []byte(impl.instanceID))
	})
	if err != nil {
		bdb.Close()
		return nil, db.WrapError(db.CodeInternal, err, "initialize bolt file %q", path)
	}

	return impl, nil
}

func (b *boltImpl) check(ctx context.Context) error {
	if b.closed.Load() {
		return db.ErrClosed
	}
	return ctx.Err()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.KVDB)
// --------------------------------------------------------------------------

func (b *boltImpl) Get(ctx context.Context, key string) (db.Doc, error) {
	if err := b.check(ctx); err != nil {
		return db.Doc{}, err
	}

	var doc db.Doc
	err := b.bolt.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(docsBucket).Get([]byte(key))
		if raw == nil {
			return db.ErrNotFound(key)
		}
		rev, value, deleted, err := decodeRecord(raw)
		if err != nil {
			return db.WrapError(db.CodeInternal, err, "decode %q", key)
		}
		if deleted {
			return db.ErrNotFound(key)
		}
		doc = db.Doc{Key: key, Rev: rev, Value: value}
		return nil
	})
	return doc, err
}

func (b *boltImpl) Put(ctx context.Context, doc db.Doc) (string, error) {
	if err := b.check(ctx); err != nil {
		return "", err
	}
	if doc.Key == "" {
		return "", db.NewError(db.CodeInvalid, "key must not be empty")
	}

	var newRev string
	err := b.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(docsBucket)

		var (
			prevRev string
			live    bool
		)
		if raw := bucket.Get([]byte(doc.Key)); raw != nil {
			rev, _, deleted, err := decodeRecord(raw)
			if err != nil {
				return db.WrapError(db.CodeInternal, err, "decode %q", doc.Key)
			}
			prevRev, live = rev, !deleted
		}

		if live && doc.Rev != prevRev || !live && doc.Rev != "" {
			return db.ErrConflict(doc.Key, doc.Rev)
		}

		if _, err := bucket.NextSequence(); err != nil {
			return err
		}

		newRev = db.NextRev(prevRev, doc.Value)
		return bucket.Put([]byte(doc.Key), encodeRecord(newRev, doc.Value, false))
	})
	if err != nil {
		return "", wrapTxError(err, "put %q", doc.Key)
	}
	return newRev, nil
}

func (b *boltImpl) Remove(ctx context.Context, key, rev string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	err := b.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(docsBucket)

		raw := bucket.Get([]byte(key))
		if raw == nil {
			return db.ErrNotFound(key)
		}
		curr, _, deleted, err := decodeRecord(raw)
		if err != nil {
			return db.WrapError(db.CodeInternal, err, "decode %q", key)
		}
		if deleted {
			return db.ErrNotFound(key)
		}
		if curr != rev {
			return db.ErrConflict(key, rev)
		}

		if _, err := bucket.NextSequence(); err != nil {
			return err
		}
		return bucket.Put([]byte(key), encodeRecord(db.NextRev(curr, nil), nil, true))
	})
	return wrapTxError(err, "remove %q", key)
}

func (b *boltImpl) Erase(ctx context.Context) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	err := b.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(docsBucket)

		// values must not be modified while a cursor walks the bucket
		tombstones := map[string][]byte{}
		err := bucket.ForEach(func(k, v []byte) error {
			rev, _, deleted, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if !deleted {
				tombstones[string(k)] = encodeRecord(db.NextRev(rev, nil), nil, true)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if _, err := bucket.NextSequence(); err != nil {
			return err
		}
		for k, v := range tombstones {
			if err := bucket.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapTxError(err, "erase")
}

func (b *boltImpl) AllKeys(ctx context.Context) ([]string, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	keys := []string{}
	err := b.bolt.View(func(tx *bolt.Tx) error {
		// bolt keeps keys in byte order
		c := tx.Bucket(docsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) > 0 && v[0] == flagTombstone {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "list keys")
	}
	return keys, nil
}

func (b *boltImpl) Info(ctx context.Context) (db.DatabaseInfo, error) {
	if err := b.check(ctx); err != nil {
		return db.DatabaseInfo{}, err
	}

	var (
		docCount, tombstones, updateSeq uint64
		size                            int64
	)
	err := b.bolt.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(docsBucket)
		updateSeq = bucket.Sequence()
		size = tx.Size()
		return bucket.ForEach(func(_, v []byte) error {
			if len(v) > 0 && v[0] == flagTombstone {
				tombstones++
			} else {
				docCount++
			}
			return nil
		})
	})
	if err != nil {
		return db.DatabaseInfo{}, wrapTxError(err, "info")
	}

	return db.DatabaseInfo{
		DocCount:          docCount,
		UpdateSeq:         updateSeq,
		SizeBytes:         int(size),
		DbType:            db.ImplBolt,
		SupportedFeatures: supportedFeatures.Split(),
		Metadata: map[string]interface{}{
			"instance_id": b.instanceID,
			"path":        b.path,
			"tombstones":  tombstones,
		},
	}, nil
}

// Save writes a consistent copy of the bolt file, prefixed with a magic header
func (b *boltImpl) Save(w io.Writer) error {
	if b.closed.Load() {
		return db.ErrClosed
	}
	if _, err := w.Write(snapshotMagic); err != nil {
		return err
	}
	return b.bolt.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
}

// Load replaces all documents with the ones of a snapshot written by Save.
// The snapshot is spooled to a temporary file and copied in one transaction,
// the instance id of this database is kept.
func (b *boltImpl) Load(r io.Reader) error {
	if b.closed.Load() {
		return db.ErrClosed
	}

	header := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, header); err != nil || !bytes.Equal(header, snapshotMagic) {
		return db.NewError(db.CodeInvalid, "not a bolt snapshot")
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".load-*.bolt")
	if err != nil {
		return db.WrapError(db.CodeUnavailable, err, "create temporary snapshot file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return db.WrapError(db.CodeUnavailable, err, "spool snapshot")
	}
	if err := tmp.Close(); err != nil {
		return db.WrapError(db.CodeUnavailable, err, "spool snapshot")
	}

	src, err := bolt.Open(tmp.Name(), 0o600, &bolt.Options{Timeout: defaultOpenTimeout, ReadOnly: true})
	if err != nil {
		return db.WrapError(db.CodeInvalid, err, "open snapshot")
	}
	defer src.Close()

	err = src.View(func(srcTx *bolt.Tx) error {
		srcDocs := srcTx.Bucket(docsBucket)
		if srcDocs == nil {
			return db.NewError(db.CodeInvalid, "snapshot has no %s bucket", docsBucket)
		}

		return b.bolt.Update(func(tx *bolt.Tx) error {
			if err := tx.DeleteBucket(docsBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			docs, err := tx.CreateBucket(docsBucket)
			if err != nil {
				return err
			}
			if err := srcDocs.ForEach(func(k, v []byte) error {
				return docs.Put(append([]byte{}, k...), append([]byte{}, v...))
			}); err != nil {
				return err
			}
			return docs.SetSequence(srcDocs.Sequence())
		})
	})
	return wrapTxError(err, "load snapshot")
}

const supportedFeatures = db.FeatureCRUD | db.FeatureErase | db.FeatureSave | db.FeatureLoad

func (b *boltImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

func (b *boltImpl) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.bolt.Close()
}

// wrapTxError keeps db.Error values returned from inside a transaction and
// wraps everything else as an internal error
func wrapTxError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var dbErr *db.Error
	if errors.As(err, &dbErr) {
		return err
	}
	return db.WrapError(db.CodeInternal, err, format, args...)
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Open opens the database for a bolt:// connection, the target is the file path.
// The ?timeout option bounds how long to wait for the file lock.
func Open(_ context.Context, conn db.Connection) (db.KVDB, error) {
	if conn.Target == "" {
		return nil, db.NewError(db.CodeInvalid, "bolt connection %q has no path", conn.Raw)
	}
	timeout, err := time.ParseDuration(conn.Option("timeout", defaultOpenTimeout.String()))
	if err != nil {
		return nil, db.WrapError(db.CodeInvalid, err, "bolt option timeout")
	}
	return NewBoltDB(conn.Target, timeout)
}
