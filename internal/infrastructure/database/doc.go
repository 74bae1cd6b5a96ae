// Package database provides the SQLite connection layer for Cosmo Core.
//
// It wraps database/sql with WAL-mode configuration, a single-writer
// connection pool (SQLite's natural model), embedded schema migrations,
// and health checks. Rule definitions and state snapshots are stored here;
// domain packages own their table access through repository types.
package database
