package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported databases
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// DialectFor returns the dialect spoken by a database/sql driver
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres, DriverPgx:
		return Postgres, nil
	case DriverSQLite:
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// Rebind rewrites ? placeholders into the dialect's positional form
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ForUpdate returns the row-lock clause appended to locking reads
// SQLite has no row locks; its immediate transaction already holds the database write lock.
func (d Dialect) ForUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}
