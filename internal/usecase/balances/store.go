package balances

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// Store owns the reserve and liquid balances of every account
// It never takes locks on its own: callers lock accounts with Lock before
// crediting or debiting them, inside the scope that will commit the change.
type Store struct{}

// NewStore creates a new balance store
func NewStore() *Store {
	return &Store{}
}

// GetOrCreate returns the account of a user, creating it with zero balances on first access
func (s *Store) GetOrCreate(ctx context.Context, tx domain.Tx, userID uuid.UUID) (*domain.Account, error) {
	account, err := tx.Accounts().GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create account: %w", err)
	}
	return account, nil
}

// Find returns the account of an existing user
// Returns a domain error of kind ErrAccountNotFound when the user has no account
func (s *Store) Find(ctx context.Context, tx domain.Tx, userID uuid.UUID) (*domain.Account, error) {
	account, err := tx.Accounts().GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, &domain.Error{Kind: domain.ErrAccountNotFound, Op: "find_account", UserID: userID, Err: err}
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// Lock takes the exclusive lock of every given account for the rest of the scope
// Locks are always acquired in ascending account ID order, whatever the argument order,
// so two scopes locking the same pair can never wait on each other in a cycle.
// Returns the freshly read, locked accounts in argument order.
func (s *Store) Lock(ctx context.Context, tx domain.Tx, accounts ...*domain.Account) ([]*domain.Account, error) {
	ids := make([]uuid.UUID, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}

	locked := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range domain.LockOrder(ids...) {
		account, err := tx.Accounts().LockForUpdate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to lock account %s: %w", id, err)
		}
		locked[id] = account
	}

	out := make([]*domain.Account, len(ids))
	for i, id := range ids {
		out[i] = locked[id]
	}
	return out, nil
}

// Credit adds amount to one bucket of a locked account and persists it
func (s *Store) Credit(ctx context.Context, tx domain.Tx, account *domain.Account, bucket domain.Bucket, amount decimal.Decimal) error {
	amount = domain.Quantize(amount)
	if err := account.Credit(bucket, amount); err != nil {
		return balanceError(err, "credit", account, amount)
	}
	if err := tx.Accounts().Update(ctx, account); err != nil {
		return fmt.Errorf("failed to persist credit: %w", err)
	}
	return nil
}

// Debit subtracts amount from one bucket of a locked account and persists it
// On ErrInsufficientFunds the account is left untouched and nothing is written
func (s *Store) Debit(ctx context.Context, tx domain.Tx, account *domain.Account, bucket domain.Bucket, amount decimal.Decimal) error {
	amount = domain.Quantize(amount)
	if err := account.Debit(bucket, amount); err != nil {
		return balanceError(err, "debit", account, amount)
	}
	if err := tx.Accounts().Update(ctx, account); err != nil {
		return fmt.Errorf("failed to persist debit: %w", err)
	}
	return nil
}

func balanceError(err error, op string, account *domain.Account, amount decimal.Decimal) error {
	if kind := domain.KindOf(err); kind != nil {
		return domain.NewError(kind, op, account.UserID, amount)
	}
	return fmt.Errorf("failed to %s account: %w", op, err)
}
