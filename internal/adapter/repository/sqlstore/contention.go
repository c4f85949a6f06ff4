package sqlstore

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// PostgreSQL SQLSTATE codes that mean "try the whole transaction again"
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
)

// classify marks transient lock and serialization conflicts with domain.ErrContention
// Any other error is returned unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrContention) {
		return err
	}
	if isContention(err) {
		return errors.Join(domain.ErrContention, err)
	}
	return err
}

func isContention(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isRetryableState(string(pqErr.Code))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isRetryableState(pgErr.Code)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return false
}

func isRetryableState(code string) bool {
	switch code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
		return true
	default:
		return false
	}
}
