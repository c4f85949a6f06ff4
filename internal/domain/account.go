package domain

import (
	"bytes"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account holds the two balances of a single user
// Invariant: ReserveBalance equals the sum of RemainingAmount over the user's reserve batches
type Account struct {
	ID             uuid.UUID // Canonical lock-order key
	UserID         uuid.UUID // Opaque identity handed in by the boundary layer
	ReserveBalance decimal.Decimal
	LiquidBalance  decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewAccount creates an account with zero balances for the given user
func NewAccount(userID uuid.UUID, now time.Time) *Account {
	return &Account{
		ID:             uuid.New(),
		UserID:         userID,
		ReserveBalance: Quantize(decimal.Zero),
		LiquidBalance:  Quantize(decimal.Zero),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate ensures both balances are non-negative
func (a *Account) Validate() error {
	if a.UserID == uuid.Nil {
		return errors.New("account must reference a user")
	}
	if a.ReserveBalance.IsNegative() || a.LiquidBalance.IsNegative() {
		return ErrInconsistentState
	}
	return nil
}

// Balance returns the balance of the selected bucket
func (a *Account) Balance(b Bucket) decimal.Decimal {
	if b == BucketReserve {
		return a.ReserveBalance
	}
	return a.LiquidBalance
}

// Credit adds a positive amount to the selected bucket, re-quantizing the result
func (a *Account) Credit(b Bucket, amount decimal.Decimal) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a.setBalance(b, Quantize(a.Balance(b).Add(amount)))
	return nil
}

// Debit subtracts a positive amount from the selected bucket
// Returns ErrInsufficientFunds and leaves the account untouched if the balance would go negative
func (a *Account) Debit(b Bucket, amount decimal.Decimal) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	next := Quantize(a.Balance(b).Sub(amount))
	if next.IsNegative() {
		return ErrInsufficientFunds
	}
	a.setBalance(b, next)
	return nil
}

func (a *Account) setBalance(b Bucket, v decimal.Decimal) {
	if b == BucketReserve {
		a.ReserveBalance = v
		return
	}
	a.LiquidBalance = v
}

// Clone returns an independent copy of the account
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// BalanceSnapshot is a read-only view of an account's balances
type BalanceSnapshot struct {
	UserID         uuid.UUID
	ReserveBalance decimal.Decimal
	LiquidBalance  decimal.Decimal
}

// Snapshot returns the current balances of the account
func (a *Account) Snapshot() *BalanceSnapshot {
	return &BalanceSnapshot{
		UserID:         a.UserID,
		ReserveBalance: a.ReserveBalance,
		LiquidBalance:  a.LiquidBalance,
	}
}

// CompareIDs orders identifiers by their byte representation.
// Every multi-account lock must be acquired in this order.
func CompareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// LockOrder returns the distinct identifiers sorted ascending by CompareIDs
func LockOrder(ids ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	ordered := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return CompareIDs(ordered[i], ordered[j]) < 0
	})
	return ordered
}
