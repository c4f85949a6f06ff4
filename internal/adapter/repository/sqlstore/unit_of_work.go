package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/simaogato/fundledger-backend/internal/domain"
)

// unitOfWork implements domain.UnitOfWork on top of database transactions
type unitOfWork struct {
	db  *DB
	now func() time.Time
}

// Option configures a unit of work
type Option func(*unitOfWork)

// WithClock overrides the clock used for account timestamps
func WithClock(now func() time.Time) Option {
	return func(u *unitOfWork) {
		u.now = now
	}
}

// NewUnitOfWork creates a new SQL unit of work
func NewUnitOfWork(db *DB, opts ...Option) domain.UnitOfWork {
	u := &unitOfWork{db: db, now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Within runs fn in one database transaction
// The transaction commits if fn returns nil and rolls back otherwise, including on panic.
// Lock and serialization conflicts are reported as domain.ErrContention.
func (u *unitOfWork) Within(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	// Start a database transaction
	sqlTx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(ctx, &scope{q: runner{tx: sqlTx, dialect: u.db.Dialect}, now: u.now}); err != nil {
		return classify(err)
	}

	// Commit the transaction
	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	committed = true
	return nil
}

// runner executes dialect-rebound statements inside one transaction
type runner struct {
	tx      *sql.Tx
	dialect Dialect
}

func (r runner) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.tx.ExecContext(ctx, r.dialect.Rebind(query), args...)
}

func (r runner) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.tx.QueryContext(ctx, r.dialect.Rebind(query), args...)
}

func (r runner) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.tx.QueryRowContext(ctx, r.dialect.Rebind(query), args...)
}

// scope is the domain.Tx bound to one database transaction
type scope struct {
	q   runner
	now func() time.Time
}

func (s *scope) Accounts() domain.AccountRepository { return &accountRepository{q: s.q, now: s.now} }
func (s *scope) Batches() domain.BatchRepository    { return &batchRepository{q: s.q} }
func (s *scope) Ledger() domain.LedgerRepository    { return &ledgerRepository{q: s.q} }
