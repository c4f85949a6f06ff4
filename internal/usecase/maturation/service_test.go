package maturation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/simaogato/fundledger-backend/internal/adapter/repository/memory"
	"github.com/simaogato/fundledger-backend/internal/domain"
	"github.com/simaogato/fundledger-backend/internal/usecase/funds"
)

var depositedAt = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func depositReserve(t *testing.T, store *memory.Store, at time.Time, userID uuid.UUID, amount string) *domain.DepositBatch {
	t.Helper()
	engine := funds.NewEngine(store, funds.WithClock(func() time.Time { return at }))
	batch, err := engine.Deposit(context.Background(), funds.DepositInput{
		UserID: userID,
		Amount: decimal.RequireFromString(amount),
		Bucket: domain.BucketReserve,
	})
	require.NoError(t, err)
	return batch
}

func TestMarkMatured_EnablesWithdrawal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	userID := uuid.New()
	batch := depositReserve(t, store, depositedAt, userID, "80")

	engine := funds.NewEngine(store)
	_, err := engine.WithdrawReserveFIFO(ctx, userID, decimal.NewFromInt(10))
	require.ErrorIs(t, err, domain.ErrInsufficientMaturedFunds)

	maturedAt := depositedAt.Add(24 * time.Hour)
	svc := NewMaturationService(store, func() time.Time { return maturedAt }, zaptest.NewLogger(t))
	matured, err := svc.MarkMatured(ctx, batch.ID)

	require.NoError(t, err)
	assert.True(t, matured.Matured)
	require.NotNil(t, matured.MaturedAt)
	assert.Equal(t, maturedAt, *matured.MaturedAt)

	_, err = engine.WithdrawReserveFIFO(ctx, userID, decimal.NewFromInt(10))
	assert.NoError(t, err)
}

func TestMarkMatured_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	batch := depositReserve(t, store, depositedAt, uuid.New(), "5")

	first := depositedAt.Add(time.Hour)
	svc := NewMaturationService(store, func() time.Time { return first }, nil)
	_, err := svc.MarkMatured(ctx, batch.ID)
	require.NoError(t, err)

	svc = NewMaturationService(store, func() time.Time { return first.Add(time.Hour) }, nil)
	again, err := svc.MarkMatured(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *again.MaturedAt, "the original maturity time is kept")
}

func TestMarkMatured_UnknownBatch(t *testing.T) {
	svc := NewMaturationService(memory.NewStore(), nil, nil)

	_, err := svc.MarkMatured(context.Background(), uuid.New())

	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestMatureDue_OnlyPastDeadline(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	alice, bob := uuid.New(), uuid.New()

	old := depositReserve(t, store, depositedAt, alice, "10")
	oldBob := depositReserve(t, store, depositedAt.Add(time.Minute), bob, "20")
	fresh := depositReserve(t, store, depositedAt.Add(300*24*time.Hour), alice, "30")

	cutoff := depositedAt.Add(domain.MaturityWindow + time.Hour)
	svc := NewMaturationService(store, func() time.Time { return cutoff }, zaptest.NewLogger(t))

	flagged, err := svc.MatureDue(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, flagged)

	flagged, err = svc.MatureDue(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, flagged, "already matured batches are not flagged twice")

	err = store.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		for id, want := range map[uuid.UUID]bool{old.ID: true, oldBob.ID: true, fresh.ID: false} {
			b, err := tx.Batches().GetByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, b.Matured, "batch %s", id)
		}
		return nil
	})
	require.NoError(t, err)
}
