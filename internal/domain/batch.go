package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaturityWindow is the fixed delay between a deposit and its informational maturity deadline.
// Reaching the deadline does not mature a batch; only the administrative flag does.
const MaturityWindow = 365 * 24 * time.Hour

// DepositBatch is the remaining spendable amount of a single reserve deposit
// Batches are consumed oldest-first and never deleted, even once exhausted
type DepositBatch struct {
	ID               uuid.UUID
	Seq              int64     // Creation sequence; breaks CreatedAt ties
	OwnerID          uuid.UUID // Account ID of the owner
	Bucket           Bucket    // Always BucketReserve today
	OriginalAmount   decimal.Decimal
	RemainingAmount  decimal.Decimal // 0 <= Remaining <= Original, never increases
	CreatedAt        time.Time
	MaturityDeadline time.Time
	Matured          bool
	MaturedAt        *time.Time // When the Matured flag was set
}

// Consumption records how much a single batch contributed to a FIFO withdrawal
type Consumption struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Consumed decimal.Decimal `json:"consumed"`
}

// NewDepositBatch creates an unmatured reserve batch whose remaining amount equals the deposit
func NewDepositBatch(ownerID uuid.UUID, amount decimal.Decimal, now time.Time) (*DepositBatch, error) {
	amount = Quantize(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	batch := &DepositBatch{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		Bucket:           BucketReserve,
		OriginalAmount:   amount,
		RemainingAmount:  amount,
		CreatedAt:        now,
		MaturityDeadline: now.Add(MaturityWindow),
		Matured:          false,
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return batch, nil
}

// Validate ensures the batch adheres to domain rules
func (b *DepositBatch) Validate() error {
	if b.OwnerID == uuid.Nil {
		return errors.New("deposit batch must have an owner")
	}
	if b.Bucket != BucketReserve {
		return errors.New("deposit batches are only created for the reserve bucket")
	}
	if !b.OriginalAmount.IsPositive() {
		return errors.New("deposit batch original amount must be positive")
	}
	if b.RemainingAmount.IsNegative() || b.RemainingAmount.GreaterThan(b.OriginalAmount) {
		return errors.New("deposit batch remaining amount must be between zero and the original amount")
	}
	return nil
}

// Consumable reports whether FIFO withdrawal may draw from this batch
func (b *DepositBatch) Consumable() bool {
	return b.Matured && b.RemainingAmount.IsPositive()
}

// Consume deducts up to amount from the remaining amount and returns what was actually taken
func (b *DepositBatch) Consume(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return Quantize(decimal.Zero)
	}
	taken := Quantize(decimal.Min(b.RemainingAmount, amount))
	b.RemainingAmount = Quantize(b.RemainingAmount.Sub(taken))
	return taken
}

// MarkMatured sets the administrative maturity flag; it is a no-op on an already matured batch
func (b *DepositBatch) MarkMatured(at time.Time) bool {
	if b.Matured {
		return false
	}
	b.Matured = true
	b.MaturedAt = &at
	return true
}

// Clone returns an independent copy of the batch
func (b *DepositBatch) Clone() *DepositBatch {
	c := *b
	if b.MaturedAt != nil {
		at := *b.MaturedAt
		c.MaturedAt = &at
	}
	return &c
}

// FIFOLess orders batches by creation time, then creation sequence, then identity
func FIFOLess(a, b *DepositBatch) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return CompareIDs(a.ID, b.ID) < 0
}

// SortFIFO sorts batches in place, oldest first
func SortFIFO(batches []*DepositBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return FIFOLess(batches[i], batches[j])
	})
}
