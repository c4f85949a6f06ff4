package batches

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundledger-backend/internal/domain"
)

// MockBatchRepository is a mock implementation of BatchRepository for testing
type MockBatchRepository struct {
	mock.Mock
}

func (m *MockBatchRepository) Create(ctx context.Context, batch *domain.DepositBatch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *MockBatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DepositBatch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DepositBatch), args.Error(1)
}

func (m *MockBatchRepository) ListConsumable(ctx context.Context, ownerID uuid.UUID) ([]*domain.DepositBatch, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DepositBatch), args.Error(1)
}

func (m *MockBatchRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.DepositBatch, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DepositBatch), args.Error(1)
}

func (m *MockBatchRepository) ListDueForMaturity(ctx context.Context, cutoff time.Time) ([]*domain.DepositBatch, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DepositBatch), args.Error(1)
}

func (m *MockBatchRepository) Update(ctx context.Context, batch *domain.DepositBatch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

// mockTx exposes only the batch repository
type mockTx struct {
	batches *MockBatchRepository
}

func (t mockTx) Accounts() domain.AccountRepository { return nil }
func (t mockTx) Batches() domain.BatchRepository    { return t.batches }
func (t mockTx) Ledger() domain.LedgerRepository    { return nil }

var now = time.Date(2026, 5, 20, 16, 0, 0, 0, time.UTC)

func maturedBatch(t *testing.T, owner *domain.Account, amount string, age time.Duration, seq int64) *domain.DepositBatch {
	t.Helper()
	b, err := domain.NewDepositBatch(owner.ID, decimal.RequireFromString(amount), now.Add(-age))
	require.NoError(t, err)
	b.Seq = seq
	b.MarkMatured(now)
	return b
}

func TestCreateBatch(t *testing.T) {
	ctx := context.Background()
	repo := new(MockBatchRepository)
	ledger := NewLedger(func() time.Time { return now })
	owner := domain.NewAccount(uuid.New(), now)

	repo.On("Create", ctx, mock.MatchedBy(func(b *domain.DepositBatch) bool {
		return b.OwnerID == owner.ID &&
			b.OriginalAmount.Equal(decimal.RequireFromString("75.25")) &&
			b.RemainingAmount.Equal(b.OriginalAmount) &&
			!b.Matured &&
			b.MaturityDeadline.Equal(now.Add(domain.MaturityWindow))
	})).Return(nil)

	batch, err := ledger.CreateBatch(ctx, mockTx{batches: repo}, owner, decimal.RequireFromString("75.25"))

	require.NoError(t, err)
	assert.Equal(t, now, batch.CreatedAt)
	repo.AssertExpectations(t)
}

func TestCreateBatch_InvalidAmount(t *testing.T) {
	ctx := context.Background()
	repo := new(MockBatchRepository)
	ledger := NewLedger(func() time.Time { return now })
	owner := domain.NewAccount(uuid.New(), now)

	_, err := ledger.CreateBatch(ctx, mockTx{batches: repo}, owner, decimal.RequireFromString("-5"))

	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestConsumeFIFO_ScenarioFromThreeBatches(t *testing.T) {
	// Matured batches of 500, 300, 200 created in that order; withdraw 650
	// Expected: 500 then 150, leaving 0, 150, 200
	ctx := context.Background()
	repo := new(MockBatchRepository)
	ledger := NewLedger(func() time.Time { return now })
	owner := domain.NewAccount(uuid.New(), now)

	first := maturedBatch(t, owner, "500", 3*time.Hour, 1)
	second := maturedBatch(t, owner, "300", 2*time.Hour, 2)
	third := maturedBatch(t, owner, "200", time.Hour, 3)

	repo.On("ListConsumable", ctx, owner.ID).Return([]*domain.DepositBatch{first, second, third}, nil)
	var updated []uuid.UUID
	repo.On("Update", ctx, mock.AnythingOfType("*domain.DepositBatch")).
		Run(func(args mock.Arguments) { updated = append(updated, args.Get(1).(*domain.DepositBatch).ID) }).
		Return(nil)

	consumption, err := ledger.ConsumeFIFO(ctx, mockTx{batches: repo}, owner, decimal.NewFromInt(650))

	require.NoError(t, err)
	require.Len(t, consumption, 2)
	assert.Equal(t, first.ID, consumption[0].BatchID)
	assert.Equal(t, "500.00", domain.FormatAmount(consumption[0].Consumed))
	assert.Equal(t, second.ID, consumption[1].BatchID)
	assert.Equal(t, "150.00", domain.FormatAmount(consumption[1].Consumed))

	assert.Equal(t, "0.00", domain.FormatAmount(first.RemainingAmount))
	assert.Equal(t, "150.00", domain.FormatAmount(second.RemainingAmount))
	assert.Equal(t, "200.00", domain.FormatAmount(third.RemainingAmount))
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, updated, "batches are written in FIFO order")
}

func TestConsumeFIFO_ShortfallWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := new(MockBatchRepository)
	ledger := NewLedger(func() time.Time { return now })
	owner := domain.NewAccount(uuid.New(), now)

	only := maturedBatch(t, owner, "100", time.Hour, 1)
	repo.On("ListConsumable", ctx, owner.ID).Return([]*domain.DepositBatch{only}, nil)

	consumption, err := ledger.ConsumeFIFO(ctx, mockTx{batches: repo}, owner, decimal.NewFromInt(150))

	assert.ErrorIs(t, err, domain.ErrInsufficientMaturedFunds)
	assert.Nil(t, consumption)
	assert.Equal(t, "100.00", domain.FormatAmount(only.RemainingAmount))
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestConsumeFIFO_StorageErrorPropagates(t *testing.T) {
	ctx := context.Background()
	repo := new(MockBatchRepository)
	ledger := NewLedger(func() time.Time { return now })
	owner := domain.NewAccount(uuid.New(), now)

	repo.On("ListConsumable", ctx, owner.ID).Return(nil, domain.ErrContention)

	_, err := ledger.ConsumeFIFO(ctx, mockTx{batches: repo}, owner, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrContention)
}
