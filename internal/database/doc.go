// Package database opens the SQL store shared by sessions and workflow
// settings.
//
// SQLite (modernc.org/sqlite, pure Go) is the default and lives at
// <data_dir>/sifter.db with WAL and a busy timeout; PostgreSQL is available
// through lib/pq when store.driver is "postgres". Both dialects share one set
// of embedded migrations. Queries are written with ? placeholders and rebound
// for postgres; writes are retried while sqlite reports SQLITE_BUSY.
package database
