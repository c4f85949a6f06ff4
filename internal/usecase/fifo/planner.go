package fifo

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// ShortfallError reports that the consumable batches cannot cover a requested amount
type ShortfallError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("matured reserve batches cover %s of the requested %s",
		domain.FormatAmount(e.Available), domain.FormatAmount(e.Requested))
}

// Plan computes how a withdrawal of amount is drawn from batches, oldest first
// Returns the per-batch consumption without touching the batches
// Logic:
//  1. Sort a copy of the batches FIFO (CreatedAt, then Seq, then ID)
//  2. Skip batches that are not matured or already exhausted
//  3. Take min(remaining, still needed) from each batch until the amount is covered
//  4. If the batches run out first, return a ShortfallError and no plan
//
// Safety: Ensures the planned segments sum to the amount exactly (no penny lost)
func Plan(amount decimal.Decimal, batches []*domain.DepositBatch) ([]domain.Consumption, error) {
	amount = domain.Quantize(amount)
	if !amount.IsPositive() {
		return nil, errors.New("withdrawal amount must be positive")
	}

	// Sort a copy to avoid reordering the caller's slice
	ordered := make([]*domain.DepositBatch, len(batches))
	copy(ordered, batches)
	domain.SortFIFO(ordered)

	plan := make([]domain.Consumption, 0, len(ordered))
	needed := amount
	available := decimal.Zero
	for _, batch := range ordered {
		if !batch.Consumable() {
			continue
		}
		available = available.Add(batch.RemainingAmount)
		if !needed.IsPositive() {
			continue
		}
		take := domain.Quantize(decimal.Min(batch.RemainingAmount, needed))
		plan = append(plan, domain.Consumption{BatchID: batch.ID, Consumed: take})
		needed = needed.Sub(take)
	}

	if needed.IsPositive() {
		return nil, &ShortfallError{Requested: amount, Available: domain.Quantize(available)}
	}

	// Safety check: the plan must cover the amount exactly
	if !domain.SumConsumed(plan).Equal(amount) {
		return nil, errors.New("planned consumption does not equal the withdrawal amount")
	}

	return plan, nil
}
