package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundledger-backend/internal/domain"
)

// MockLedgerRepository is a mock implementation of LedgerRepository for testing
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.LedgerEntry, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

type mockTx struct {
	ledger *MockLedgerRepository
}

func (t mockTx) Accounts() domain.AccountRepository { return nil }
func (t mockTx) Batches() domain.BatchRepository    { return nil }
func (t mockTx) Ledger() domain.LedgerRepository    { return t.ledger }

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func TestAppend_WritesTransferLeg(t *testing.T) {
	ctx := context.Background()
	repo := new(MockLedgerRepository)
	rec := NewRecorder(func() time.Time { return now })

	account := domain.NewAccount(uuid.New(), now)
	counterparty := uuid.New()

	var written *domain.LedgerEntry
	repo.On("Append", ctx, mock.AnythingOfType("*domain.LedgerEntry")).
		Run(func(args mock.Arguments) { written = args.Get(1).(*domain.LedgerEntry) }).
		Return(nil)

	id, err := rec.Append(ctx, mockTx{ledger: repo}, AppendInput{
		Account: account,
		Kind:    domain.EntryKindTransferOut,
		Amount:  decimal.RequireFromString("-12.345"),
		Bucket:  domain.BucketLiquid.Ptr(),
		Detail:  domain.TransferDetail{CounterpartyUserID: counterparty},
	})

	require.NoError(t, err)
	require.NotNil(t, written)
	assert.Equal(t, id, written.ID)
	assert.Equal(t, account.ID, written.AccountID)
	assert.Equal(t, "12.34", domain.FormatAmount(written.Amount), "stored as a quantized absolute value")
	assert.Equal(t, now, written.Timestamp)
	assert.Equal(t, domain.TransferDetail{CounterpartyUserID: counterparty}, written.Detail)
}

func TestAppend_RejectsMismatchedDetail(t *testing.T) {
	ctx := context.Background()
	repo := new(MockLedgerRepository)
	rec := NewRecorder(func() time.Time { return now })

	_, err := rec.Append(ctx, mockTx{ledger: repo}, AppendInput{
		Account: domain.NewAccount(uuid.New(), now),
		Kind:    domain.EntryKindWithdraw,
		Amount:  decimal.NewFromInt(1),
		Detail:  domain.DepositDetail{},
	})

	assert.Error(t, err)
	repo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestAppend_StorageFailure(t *testing.T) {
	ctx := context.Background()
	repo := new(MockLedgerRepository)
	rec := NewRecorder(func() time.Time { return now })
	unavailable := errors.New("connection refused")

	repo.On("Append", ctx, mock.Anything).Return(unavailable)

	id, err := rec.Append(ctx, mockTx{ledger: repo}, AppendInput{
		Account: domain.NewAccount(uuid.New(), now),
		Kind:    domain.EntryKindInterest,
		Amount:  decimal.NewFromInt(3),
		Detail:  domain.AdjustmentDetail{Reason: "quarterly"},
	})

	assert.ErrorIs(t, err, unavailable)
	assert.Equal(t, uuid.Nil, id)
}
