package batches

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/fundledger-backend/internal/domain"
	"github.com/simaogato/fundledger-backend/internal/usecase/fifo"
)

// Ledger owns the reserve deposit batches of every account
type Ledger struct {
	now func() time.Time
}

// NewLedger creates a new batch ledger using the given clock
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// CreateBatch records a new unmatured reserve batch for a locked owner
// The batch starts with remaining == original and a deadline one maturity window away
func (l *Ledger) CreateBatch(ctx context.Context, tx domain.Tx, owner *domain.Account, amount decimal.Decimal) (*domain.DepositBatch, error) {
	batch, err := domain.NewDepositBatch(owner.ID, amount, l.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			return nil, domain.NewError(domain.ErrInvalidAmount, "create_batch", owner.UserID, amount)
		}
		return nil, fmt.Errorf("failed to build batch: %w", err)
	}

	if err := tx.Batches().Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	return batch, nil
}

// ConsumeFIFO draws amount from the owner's matured batches, oldest first
// Logic:
//  1. Load the owner's consumable batches (locked for the scope)
//  2. Plan the whole consumption before touching any batch
//  3. If the plan falls short, fail with ErrInsufficientMaturedFunds and write nothing
//  4. Apply each planned segment and persist the batch
//
// Every write goes through tx, so a later failure in the same scope discards them too.
func (l *Ledger) ConsumeFIFO(ctx context.Context, tx domain.Tx, owner *domain.Account, amount decimal.Decimal) ([]domain.Consumption, error) {
	amount = domain.Quantize(amount)

	candidates, err := tx.Batches().ListConsumable(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consumable batches: %w", err)
	}

	plan, err := fifo.Plan(amount, candidates)
	if err != nil {
		var shortfall *fifo.ShortfallError
		if errors.As(err, &shortfall) {
			return nil, &domain.Error{
				Kind:   domain.ErrInsufficientMaturedFunds,
				Op:     "consume_fifo",
				UserID: owner.UserID,
				Amount: amount,
				Err:    shortfall,
			}
		}
		return nil, domain.NewError(domain.ErrInvalidAmount, "consume_fifo", owner.UserID, amount)
	}

	byID := make(map[uuid.UUID]*domain.DepositBatch, len(candidates))
	for _, b := range candidates {
		byID[b.ID] = b
	}

	for _, segment := range plan {
		batch := byID[segment.BatchID]
		if taken := batch.Consume(segment.Consumed); !taken.Equal(segment.Consumed) {
			return nil, &domain.Error{
				Kind:   domain.ErrInconsistentState,
				Op:     "consume_fifo",
				UserID: owner.UserID,
				Amount: amount,
				Err:    fmt.Errorf("batch %s yielded %s of planned %s", batch.ID, taken, segment.Consumed),
			}
		}
		if err := tx.Batches().Update(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to update batch %s: %w", batch.ID, err)
		}
	}

	return plan, nil
}
