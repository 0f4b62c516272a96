// Package database provides the SQLite connection layer for CloudSync Core.
//
// The engine keeps a local attribute-change history so operators can audit
// what the cloud reported and when, independent of the time-series store.
// The package wraps database/sql with WAL-mode defaults suited to a
// single-writer embedded database and applies embedded schema migrations
// on startup.
package database
