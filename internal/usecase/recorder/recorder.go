package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// AppendInput represents one ledger fact to record
type AppendInput struct {
	Account        *domain.Account
	Kind           domain.EntryKind
	Amount         decimal.Decimal // Absolute value
	Bucket         *domain.Bucket
	Detail         domain.EntryDetail
	RelatedBatchID *uuid.UUID
}

// Recorder appends immutable entries to the ledger
type Recorder struct {
	now func() time.Time
}

// NewRecorder creates a new ledger recorder using the given clock
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Append writes one entry inside the scope of tx and returns its ID
// The entry becomes visible to other scopes only once tx commits
func (r *Recorder) Append(ctx context.Context, tx domain.Tx, input AppendInput) (uuid.UUID, error) {
	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      input.Account.ID,
		Kind:           input.Kind,
		Amount:         domain.Quantize(input.Amount.Abs()),
		Bucket:         input.Bucket,
		Timestamp:      r.now().UTC(),
		Detail:         input.Detail,
		RelatedBatchID: input.RelatedBatchID,
	}

	// Validate entry
	if err := entry.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s entry: %w", input.Kind, err)
	}

	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return uuid.Nil, fmt.Errorf("failed to append %s entry: %w", input.Kind, err)
	}
	return entry.ID, nil
}
