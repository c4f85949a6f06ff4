//go:build integration

package sqlstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/simaogato/fundledger-backend/internal/adapter/repository/sqlstore"
	"github.com/simaogato/fundledger-backend/internal/domain"
	"github.com/simaogato/fundledger-backend/internal/usecase/funds"
	"github.com/simaogato/fundledger-backend/internal/usecase/maturation"
	"github.com/simaogato/fundledger-backend/internal/usecase/statement"
)

// getDBConnectionString returns the PostgreSQL DSN from environment or default
func getDBConnectionString() string {
	if connStr := os.Getenv("DB_CONN_STR"); connStr != "" {
		return connStr
	}
	return "host=localhost port=5432 user=postgres password=postgres dbname=fundledger sslmode=disable"
}

func getDBDriver() string {
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		return driver
	}
	return sqlstore.DriverPgx
}

func newPostgresHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := sqlstore.Open(ctx, getDBDriver(), getDBConnectionString())
	if err != nil {
		t.Skipf("PostgreSQL not reachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	logger := zaptest.NewLogger(t)
	uow := sqlstore.NewUnitOfWork(db)

	return &harness{
		db:        db,
		engine:    funds.NewEngine(uow, funds.WithLogger(logger)),
		statement: statement.NewStatementService(uow, nil, logger),
		maturity:  maturation.NewMaturationService(uow, time.Now, logger),
	}
}

func TestPostgres_WithdrawConsumesOldestFirst(t *testing.T) {
	h := newPostgresHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	batches := h.depositMatured(t, userID, "500", "300", "200")

	consumption, err := h.engine.WithdrawReserveFIFO(ctx, userID, amount("650"))
	require.NoError(t, err)
	require.Len(t, consumption, 2)
	assert.Equal(t, batches[0].ID, consumption[0].BatchID)
	assert.Equal(t, batches[1].ID, consumption[1].BatchID)
	assert.Equal(t, "150.00", domain.FormatAmount(consumption[1].Consumed))

	reserve, _ := h.balances(t, userID)
	assert.Equal(t, "350.00", reserve)

	report, err := h.statement.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "drift %s", report.Drift)
}

func TestPostgres_FailedWithdrawRollsBack(t *testing.T) {
	h := newPostgresHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.depositMatured(t, userID, "100")

	_, err := h.engine.WithdrawReserveFIFO(ctx, userID, amount("100.01"))
	require.ErrorIs(t, err, domain.ErrInsufficientMaturedFunds)

	reserve, _ := h.balances(t, userID)
	assert.Equal(t, "100.00", reserve)

	page, err := h.statement.ListLedger(ctx, userID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

func TestPostgres_OppositeTransfersNeverDeadlock(t *testing.T) {
	h := newPostgresHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	alice, bob := uuid.New(), uuid.New()

	for _, user := range []uuid.UUID{alice, bob} {
		_, err := h.engine.Deposit(ctx, funds.DepositInput{UserID: user, Amount: amount("1000"), Bucket: domain.BucketLiquid})
		require.NoError(t, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			if err := h.engine.TransferLiquid(gctx, alice, bob, amount("2")); err != nil {
				return fmt.Errorf("alice to bob: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			if err := h.engine.TransferLiquid(gctx, bob, alice, amount("1")); err != nil {
				return fmt.Errorf("bob to alice: %w", err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	_, aliceLiquid := h.balances(t, alice)
	_, bobLiquid := h.balances(t, bob)
	assert.Equal(t, "900.00", aliceLiquid)
	assert.Equal(t, "1100.00", bobLiquid)
}
