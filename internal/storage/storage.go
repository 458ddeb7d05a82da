// Package storage opens and migrates the relational database behind
// the SQL-backed stores. PostgreSQL and SQLite are supported; an empty
// database URL means the caller should fall back to the in-memory
// stores instead.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavor of an opened database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Open connects to the database named by databaseURL. URLs with a
// postgres:// or postgresql:// scheme use lib/pq; anything else is
// treated as a SQLite path and opened in WAL mode with foreign keys
// enforced. The connection is lazy; callers should ping before serving.
func Open(databaseURL string, maxConns int, connMaxLifetime time.Duration) (*sql.DB, Dialect, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, "", errors.New("database URL is empty")
	}

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open postgres database: %w", err)
		}
		configurePool(db, maxConns, connMaxLifetime)
		return db, DialectPostgres, nil
	}

	db, err := sql.Open("sqlite", sqliteDSN(databaseURL))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if isMemoryURL(databaseURL) {
		// The pool would otherwise hand out one private database
		// per connection.
		db.SetMaxOpenConns(1)
	} else {
		configurePool(db, maxConns, connMaxLifetime)
	}
	return db, DialectSQLite, nil
}

func configurePool(db *sql.DB, maxConns int, connMaxLifetime time.Duration) {
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		idle := maxConns / 2
		if idle < 2 {
			idle = 2
		}
		db.SetMaxIdleConns(idle)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
}

// sqliteDSN decorates a SQLite path with the pragmas every connection
// in the pool needs: WAL journaling for read/write concurrency, a busy
// timeout instead of immediate SQLITE_BUSY, and foreign key
// enforcement for the cascade rules in the schema.
func sqliteDSN(path string) string {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if isMemoryURL(path) {
		// WAL does not apply to in-memory databases.
		pragmas = "_pragma=foreign_keys(1)"
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + pragmas
	}
	return dsn + "?" + pragmas
}

func isMemoryURL(path string) bool {
	return strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory")
}
