// Package storage persists the file index and the conversation turn
// log in SQLite.
//
// The Store interface is the persistence boundary: upsert/get/snapshot/
// delete for file records, plus an append-only turn log keyed by
// session id. Snapshot reads the whole file_records table in a single
// statement on a serialized connection, so a snapshot never observes a
// half-written record while indexing workers keep upserting.
//
// Two drivers are supported via build tags: modernc.org/sqlite (pure
// Go, the default) and github.com/mattn/go-sqlite3 (cgo, sqlite_cgo
// tag). Schema changes go through versioned migrations gated by semver
// comparison; see migrations.go.
package storage
