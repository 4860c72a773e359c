// Package boltdb implements db.KVDB on top of a single bolt file.
//
// Every document is one entry of the "docs" bucket holding a flag byte, the
// revision and the value. Removed documents are kept as tombstone entries so
// a re-created document continues its revision history. The bucket sequence
// is the update sequence of the database.
//
// Save writes a consistent copy of the bolt file, Load copies the documents
// of such a copy back in a single write transaction.
//
// Thread-safety: all methods are safe for concurrent use, bolt serializes
// write transactions.
package boltdb
