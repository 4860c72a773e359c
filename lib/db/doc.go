// Package db provides a standardized interface for revision tracking document databases.
// It defines the KVDB interface that allows for consistent interaction
// with various database backends while abstracting implementation details.
//
// The package focuses on:
//   - A unified interface for document operations (Get, Put, Remove, AllKeys, Info, Erase)
//   - Optimistic concurrency through opaque document revisions
//   - Feature discovery through capability flags
//   - Typed errors with machine readable codes
//   - Opening databases from connection strings
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     Every write and removal names the revision the caller observed. A stale revision
//     fails with CodeConflict and leaves the stored document untouched. An empty revision
//     on Put means "create", it fails if a live document exists.
//
//   - Revisions: NextRev derives revisions of the form "<generation>-<digest>". The
//     generation counts the writes of a document, the digest is a xxhash over the
//     previous revision and the value.
//
//   - Errors: All implementations return *Error values. CodeOf, IsNotFound, IsConflict
//     and IsTransient classify them without depending on engine specific error types.
//
//   - Registry: Register binds a connection scheme (memory, file, sqlite, bolt, dynamodb,
//     http, tcp, unix) to an Opener. Open parses a connection string, opens the database
//     and applies every registered Extension.
//
//   - Erase Extension: WithErase adds FeatureErase to engines that can only remove single
//     documents. It is registered as extension once per process by the engines package.
//
// Related Packages:
//
// The engines/maple package (github.com/konceiver/dockv/lib/db/engines/maple) provides a
// sharded in-memory implementation with background compaction of removed documents and
// binary persistence. The sqlitedb, boltdb and dynamodb packages provide persistent engines.
// The engines package registers all of them.
//
// The instrumented package (github.com/konceiver/dockv/lib/db/instrumented) wraps any
// KVDB and records timers for every operation.
//
// The testing package (github.com/konceiver/dockv/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
