package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver registered as "pgx"
	_ "github.com/lib/pq"              // PostgreSQL driver registered as "postgres"
	_ "github.com/mattn/go-sqlite3"    // SQLite driver registered as "sqlite3"
)

// Supported database/sql driver names
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite3"
)

// DB wraps the database connection together with the SQL dialect it speaks
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open creates a new database connection for one of the supported drivers
// For postgres and pgx, dsn is a connection string such as
// "host=localhost port=5432 user=postgres password=postgres dbname=fundledger sslmode=disable".
// For sqlite3, dsn is built with SQLiteDSN.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if dialect == SQLite {
		// One connection serializes writers; the driver's immediate transactions
		// take the write lock at BEGIN.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// NewDB wraps an already opened connection
func NewDB(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, Dialect: dialect}
}

// SQLiteDSN builds a go-sqlite3 DSN for a file path or ":memory:"
// Transactions begin IMMEDIATE and wait up to five seconds on a busy database.
func SQLiteDSN(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	if path == "" || path == ":memory:" {
		return "file::memory:?" + params
	}
	if strings.Contains(path, "?") {
		return "file:" + path + "&" + params
	}
	return "file:" + path + "?" + params
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
