package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UnitOfWork opens atomic scopes over the fund storage
type UnitOfWork interface {
	// Within runs fn inside exactly one atomic scope.
	// Every write made through tx commits together when fn returns nil and is discarded otherwise,
	// including when ctx is cancelled before the commit. Locks taken in the scope are released
	// on commit or rollback.
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx gives access to the repositories bound to one atomic scope
type Tx interface {
	Accounts() AccountRepository
	Batches() BatchRepository
	Ledger() LedgerRepository
}

// AccountRepository defines the interface for account persistence operations
type AccountRepository interface {
	// GetOrCreate returns the account of a user, creating it with zero balances on first access
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*Account, error)

	// GetByUserID returns the account of a user or ErrAccountNotFound
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Account, error)

	// LockForUpdate takes an exclusive lock on the account for the rest of the scope
	// and returns its current state. Locking an account twice in one scope is allowed.
	LockForUpdate(ctx context.Context, accountID uuid.UUID) (*Account, error)

	// Update persists both balances of an account locked in this scope
	Update(ctx context.Context, account *Account) error
}

// BatchRepository defines the interface for deposit batch persistence operations
type BatchRepository interface {
	// Create records a new batch; the owner must be locked in this scope.
	// The storage assigns Seq.
	Create(ctx context.Context, batch *DepositBatch) error

	// GetByID retrieves a batch by its ID or returns ErrBatchNotFound
	GetByID(ctx context.Context, id uuid.UUID) (*DepositBatch, error)

	// ListConsumable returns the owner's matured batches with a positive remaining amount,
	// oldest first, locked for the rest of the scope
	ListConsumable(ctx context.Context, ownerID uuid.UUID) ([]*DepositBatch, error)

	// ListByOwner returns every batch of an owner, oldest first, including exhausted ones
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*DepositBatch, error)

	// ListDueForMaturity returns unmatured batches whose deadline is at or before cutoff
	ListDueForMaturity(ctx context.Context, cutoff time.Time) ([]*DepositBatch, error)

	// Update persists the remaining amount and maturity flag of a batch whose owner is locked
	Update(ctx context.Context, batch *DepositBatch) error
}

// LedgerRepository defines the interface for ledger entry persistence operations
type LedgerRepository interface {
	// Append records a new entry; it becomes visible to other scopes only after commit
	Append(ctx context.Context, entry *LedgerEntry) error

	// ListByAccount retrieves a page of an account's entries, newest first
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*LedgerEntry, error)

	// CountByAccount returns the total number of entries recorded against an account
	CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error)
}

// BalanceCache defines the interface for the read-side balance snapshot cache
// Every user has a version that Invalidate advances. A reader takes the version before
// reading storage and hands it back to Set, so a snapshot read before a commit can never
// be stored after that commit's invalidation.
type BalanceCache interface {
	// Get returns the cached snapshot and whether it was present
	Get(ctx context.Context, userID uuid.UUID) (*BalanceSnapshot, bool, error)

	// Version returns the user's current cache version
	Version(ctx context.Context, userID uuid.UUID) (int64, error)

	// Set stores a snapshot only if the user's version still equals version.
	// Returns false when the snapshot was discarded as stale.
	Set(ctx context.Context, snapshot *BalanceSnapshot, version int64) (bool, error)

	// Invalidate advances the versions of the given users and drops their snapshots
	Invalidate(ctx context.Context, userIDs ...uuid.UUID) error
}
