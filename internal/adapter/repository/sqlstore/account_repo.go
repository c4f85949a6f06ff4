package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// accountRepository implements domain.AccountRepository
type accountRepository struct {
	q   runner
	now func() time.Time
}

const accountColumns = `id, user_id, reserve_balance, liquid_balance, created_at, updated_at`

// GetOrCreate returns the account of a user, inserting a zero-balance row on first access
func (r *accountRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	account := domain.NewAccount(userID, timeArg(r.now()))

	query := `
		INSERT INTO accounts (id, user_id, reserve_balance, liquid_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.q.exec(ctx, query,
		account.ID,
		account.UserID,
		amountArg(account.ReserveBalance),
		amountArg(account.LiquidBalance),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	return r.GetByUserID(ctx, userID)
}

// GetByUserID retrieves the account of a user
func (r *accountRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ?`

	account, err := scanAccount(r.q.queryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account of user %s: %w", userID, domain.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("failed to get account by user ID: %w", err)
	}
	return account, nil
}

// LockForUpdate reads an account and holds its row lock until the transaction ends
func (r *accountRepository) LockForUpdate(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?` + r.q.dialect.ForUpdate()

	account, err := scanAccount(r.q.queryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return account, nil
}

// Update persists both balances of an account
func (r *accountRepository) Update(ctx context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("failed to update account %s: %w", account.ID, err)
	}
	account.UpdatedAt = timeArg(r.now())

	query := `
		UPDATE accounts
		SET reserve_balance = ?, liquid_balance = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.q.exec(ctx, query,
		amountArg(account.ReserveBalance),
		amountArg(account.LiquidBalance),
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account balances: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("account %s: %w", account.ID, domain.ErrAccountNotFound)
	}
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	var (
		account               domain.Account
		reserveStr, liquidStr string
	)
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&reserveStr,
		&liquidStr,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if account.ReserveBalance, err = parseAmount("reserve_balance", reserveStr); err != nil {
		return nil, err
	}
	if account.LiquidBalance, err = parseAmount("liquid_balance", liquidStr); err != nil {
		return nil, err
	}
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return &account, nil
}
