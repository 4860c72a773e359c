// Package sqlitedb implements db.KVDB on top of SQLite (modernc.org/sqlite, no cgo).
//
// Documents live in a single table, removed documents stay behind as
// tombstone rows until the database is vacuumed. The update sequence and a
// persistent instance id are kept in a small meta table.
//
// Thread-safety: all methods are safe for concurrent use. The underlying
// connection pool is limited to one connection, so transactions never
// interleave.
//
// Connection string:
//
//	sqlite:///var/lib/dockv/data.db?vacuum=true
package sqlitedb
