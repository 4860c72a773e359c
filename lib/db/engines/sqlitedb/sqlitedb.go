package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/konceiver/dockv/lib/db"
	_ "modernc.org/sqlite"
)

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

const schema = `
CREATE TABLE IF NOT EXISTS docs (
	key     TEXT PRIMARY KEY,
	rev     TEXT NOT NULL,
	value   BLOB,
	deleted INTEGER NOT NULL DEFAULT 0,
	seq     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS docs_live ON docs (deleted, key);
CREATE TABLE IF NOT EXISTS meta (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const (
	metaInstanceID = "instance_id"
	metaUpdateSeq  = "update_seq"
)

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// sqliteImpl stores documents in a single SQLite table.
// Removed documents are kept as tombstone rows so revision histories continue
// when a document is re-created.
type sqliteImpl struct {
	db         *sql.DB
	path       string
	instanceID string
	closed     atomic.Bool
}

// NewSQLiteDB opens (or creates) a SQLite backed database.
// Use ":memory:" for an in-memory database.
func NewSQLiteDB(ctx context.Context, path string) (db.KVDB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, db.WrapError(db.CodeUnavailable, err, "open sqlite %q", path)
	}

	// a single connection serializes all transactions, it also keeps
	// ":memory:" databases from being split over several connections
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			sqlDB.Close()
			return nil, db.WrapError(db.CodeUnavailable, err, "%s", pragma)
		}
	}

	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		sqlDB.Close()
		return nil, db.WrapError(db.CodeInternal, err, "create schema")
	}

	impl := &sqliteImpl{db: sqlDB, path: path}

	if impl.instanceID, err = impl.ensureInstanceID(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return impl, nil
}

// ensureInstanceID returns the persistent id of the database, creating it on first open
func (s *sqliteImpl) ensureInstanceID(ctx context.Context) (string, error) {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (name, value) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		metaInstanceID, uuid.NewString(),
	); err != nil {
		return "", db.WrapError(db.CodeInternal, err, "store instance id")
	}

	var id string
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = ?", metaInstanceID).Scan(&id); err != nil {
		return "", db.WrapError(db.CodeInternal, err, "load instance id")
	}
	return id, nil
}

func (s *sqliteImpl) check(ctx context.Context) error {
	if s.closed.Load() {
		return db.ErrClosed
	}
	return ctx.Err()
}

// inTx runs fn in a transaction and commits it if fn returns nil
func (s *sqliteImpl) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return db.WrapError(db.CodeUnavailable, err, "begin transaction")
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return db.WrapError(db.CodeUnavailable, err, "commit transaction")
	}
	return nil
}

// nextSeq increments and returns the update sequence within tx
func nextSeq(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var seq uint64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO meta (name, value) VALUES (?, '1')
		ON CONFLICT(name) DO UPDATE SET value = CAST(value AS INTEGER) + 1
		RETURNING CAST(value AS INTEGER)`,
		metaUpdateSeq,
	).Scan(&seq)
	if err != nil {
		return 0, db.WrapError(db.CodeInternal, err, "increment update sequence")
	}
	return seq, nil
}

// current returns the stored revision of key and whether the row is a tombstone
func current(ctx context.Context, tx *sql.Tx, key string) (rev string, deleted, found bool, err error) {
	err = tx.QueryRowContext(ctx, "SELECT rev, deleted FROM docs WHERE key = ?", key).Scan(&rev, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, db.WrapError(db.CodeInternal, err, "read %q", key)
	}
	return rev, deleted, true, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.KVDB)
// --------------------------------------------------------------------------

func (s *sqliteImpl) Get(ctx context.Context, key string) (db.Doc, error) {
	if err := s.check(ctx); err != nil {
		return db.Doc{}, err
	}

	doc := db.Doc{Key: key}
	err := s.db.QueryRowContext(ctx,
		"SELECT rev, value FROM docs WHERE key = ? AND deleted = 0", key,
	).Scan(&doc.Rev, &doc.Value)

	if errors.Is(err, sql.ErrNoRows) {
		return db.Doc{}, db.ErrNotFound(key)
	}
	if err != nil {
		return db.Doc{}, db.WrapError(db.CodeInternal, err, "get %q", key)
	}
	if doc.Value == nil {
		doc.Value = []byte{}
	}
	return doc, nil
}

func (s *sqliteImpl) Put(ctx context.Context, doc db.Doc) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if doc.Key == "" {
		return "", db.NewError(db.CodeInvalid, "key must not be empty")
	}

	var newRev string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rev, deleted, found, err := current(ctx, tx, doc.Key)
		if err != nil {
			return err
		}

		live := found && !deleted
		if live && doc.Rev != rev || !live && doc.Rev != "" {
			return db.ErrConflict(doc.Key, doc.Rev)
		}

		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return err
		}

		value := doc.Value
		if value == nil {
			value = []byte{}
		}

		newRev = db.NextRev(rev, value)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO docs (key, rev, value, deleted, seq) VALUES (?, ?, ?, 0, ?)
			ON CONFLICT(key) DO UPDATE SET
				rev = excluded.rev,
				value = excluded.value,
				deleted = 0,
				seq = excluded.seq`,
			doc.Key, newRev, value, seq,
		)
		return db.WrapError(db.CodeInternal, err, "put %q", doc.Key)
	})
	if err != nil {
		return "", err
	}
	return newRev, nil
}

func (s *sqliteImpl) Remove(ctx context.Context, key, rev string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		curr, deleted, found, err := current(ctx, tx, key)
		if err != nil {
			return err
		}
		if !found || deleted {
			return db.ErrNotFound(key)
		}
		if curr != rev {
			return db.ErrConflict(key, rev)
		}

		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE docs SET rev = ?, value = NULL, deleted = 1, seq = ? WHERE key = ?",
			db.NextRev(curr, nil), seq, key,
		)
		return db.WrapError(db.CodeInternal, err, "remove %q", key)
	})
}

func (s *sqliteImpl) Erase(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	// live documents become tombstones, re-created keys continue their history
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT key, rev FROM docs WHERE deleted = 0")
		if err != nil {
			return db.WrapError(db.CodeInternal, err, "erase")
		}
		live := map[string]string{}
		for rows.Next() {
			var key, rev string
			if err := rows.Scan(&key, &rev); err != nil {
				rows.Close()
				return db.WrapError(db.CodeInternal, err, "erase")
			}
			live[key] = rev
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return db.WrapError(db.CodeInternal, err, "erase")
		}

		seq, err := nextSeq(ctx, tx)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, "UPDATE docs SET rev = ?, value = NULL, deleted = 1, seq = ? WHERE key = ?")
		if err != nil {
			return db.WrapError(db.CodeInternal, err, "erase")
		}
		defer stmt.Close()

		for key, rev := range live {
			if _, err := stmt.ExecContext(ctx, db.NextRev(rev, nil), seq, key); err != nil {
				return db.WrapError(db.CodeInternal, err, "erase %q", key)
			}
		}
		return nil
	})
}

func (s *sqliteImpl) AllKeys(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key FROM docs WHERE deleted = 0 ORDER BY key")
	if err != nil {
		return nil, db.WrapError(db.CodeInternal, err, "list keys")
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, db.WrapError(db.CodeInternal, err, "scan key")
		}
		keys = append(keys, key)
	}
	return keys, db.WrapError(db.CodeInternal, rows.Err(), "list keys")
}

func (s *sqliteImpl) Info(ctx context.Context) (db.DatabaseInfo, error) {
	if err := s.check(ctx); err != nil {
		return db.DatabaseInfo{}, err
	}

	var (
		docCount, tombstones uint64
		sizeBytes            sql.NullInt64
		seqStr               sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(deleted), 0),
			SUM(LENGTH(key) + LENGTH(rev) + COALESCE(LENGTH(value), 0))
		FROM docs`,
	).Scan(&docCount, &tombstones, &sizeBytes)
	if err != nil {
		return db.DatabaseInfo{}, db.WrapError(db.CodeInternal, err, "info")
	}

	err = s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = ?", metaUpdateSeq).Scan(&seqStr)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return db.DatabaseInfo{}, db.WrapError(db.CodeInternal, err, "info")
	}
	updateSeq, _ := strconv.ParseUint(seqStr.String, 10, 64)

	return db.DatabaseInfo{
		DocCount:          docCount,
		UpdateSeq:         updateSeq,
		SizeBytes:         int(sizeBytes.Int64),
		DbType:            db.ImplSQLite,
		SupportedFeatures: supportedFeatures.Split(),
		Metadata: map[string]interface{}{
			"instance_id": s.instanceID,
			"path":        s.path,
			"tombstones":  tombstones,
		},
	}, nil
}

// Compact removes all tombstones and reclaims unused file space
func (s *sqliteImpl) Compact(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM docs WHERE deleted = 1"); err != nil {
		return db.WrapError(db.CodeInternal, err, "compact")
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return db.WrapError(db.CodeInternal, err, "vacuum")
}

func (s *sqliteImpl) Save(io.Writer) error {
	return db.NewError(db.CodeUnsupported, "sqlite databases are persistent, copy the database file instead")
}

func (s *sqliteImpl) Load(io.Reader) error {
	return db.NewError(db.CodeUnsupported, "sqlite databases are persistent, copy the database file instead")
}

const supportedFeatures = db.FeatureCRUD | db.FeatureErase

func (s *sqliteImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

func (s *sqliteImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite %q: %w", s.path, err)
	}
	return nil
}

// Open opens the database for a sqlite:// connection, the target is the file path.
// With ?vacuum=true all tombstones are dropped when the database is opened.
func Open(ctx context.Context, conn db.Connection) (db.KVDB, error) {
	if conn.Target == "" {
		return nil, db.NewError(db.CodeInvalid, "sqlite connection %q has no path", conn.Raw)
	}

	database, err := NewSQLiteDB(ctx, conn.Target)
	if err != nil {
		return nil, err
	}

	vacuum, err := strconv.ParseBool(conn.Option("vacuum", "false"))
	if err != nil {
		database.Close()
		return nil, db.WrapError(db.CodeInvalid, err, "sqlite option vacuum")
	}
	if vacuum {
		if err := database.(*sqliteImpl).Compact(ctx); err != nil {
			database.Close()
			return nil, err
		}
	}
	return database, nil
}
