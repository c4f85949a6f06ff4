package statement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/fundledger-backend/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// LedgerPage represents one page of an account's ledger, newest first
type LedgerPage struct {
	Entries    []*domain.LedgerEntry
	TotalCount int
}

// ReconcileReport compares the reserve balance with the batches backing it
type ReconcileReport struct {
	UserID     uuid.UUID
	Reserve    decimal.Decimal
	BatchTotal decimal.Decimal // Sum of remaining amounts over every reserve batch
	Drift      decimal.Decimal // Reserve - BatchTotal
	Consistent bool
}

// StatementService handles read-only views of a user's funds
type StatementService struct {
	UOW    domain.UnitOfWork
	Cache  domain.BalanceCache // Optional
	Logger *zap.Logger
}

// NewStatementService creates a new StatementService instance
func NewStatementService(uow domain.UnitOfWork, cache domain.BalanceCache, logger *zap.Logger) *StatementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatementService{
		UOW:    uow,
		Cache:  cache,
		Logger: logger,
	}
}

// GetBalances returns the reserve and liquid balances of a user
// Logic:
//  1. Serve from the cache when a snapshot is present
//  2. Otherwise take the cache version, read the committed account, and fill the cache
//     at that version; a commit that invalidated in between makes the fill a no-op
//
// Cache failures are logged and fall through to storage.
func (s *StatementService) GetBalances(ctx context.Context, userID uuid.UUID) (*domain.BalanceSnapshot, error) {
	cacheable := false
	var version int64
	if s.Cache != nil {
		snapshot, ok, err := s.Cache.Get(ctx, userID)
		if err != nil {
			s.Logger.Warn("balance cache read failed", zap.String("user_id", userID.String()), zap.Error(err))
		} else if ok {
			return snapshot, nil
		}

		if version, err = s.Cache.Version(ctx, userID); err != nil {
			s.Logger.Warn("balance cache version read failed", zap.String("user_id", userID.String()), zap.Error(err))
		} else {
			cacheable = true
		}
	}

	var snapshot *domain.BalanceSnapshot
	err := s.UOW.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		account, err := findAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		snapshot = account.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		stored, err := s.Cache.Set(ctx, snapshot, version)
		if err != nil {
			s.Logger.Warn("balance cache write failed", zap.String("user_id", userID.String()), zap.Error(err))
		} else if !stored {
			s.Logger.Debug("balance cache fill skipped, balances changed during read", zap.String("user_id", userID.String()))
		}
	}
	return snapshot, nil
}

// ListBatches returns every reserve batch of a user, oldest first, including exhausted ones
func (s *StatementService) ListBatches(ctx context.Context, userID uuid.UUID) ([]*domain.DepositBatch, error) {
	var batches []*domain.DepositBatch
	err := s.UOW.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		account, err := findAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		batches, err = tx.Batches().ListByOwner(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("failed to list batches: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// ListLedger returns one page of a user's ledger entries, newest first
// A non-positive limit selects DefaultPageSize; limits above MaxPageSize are clamped.
func (s *StatementService) ListLedger(ctx context.Context, userID uuid.UUID, limit, offset int) (*LedgerPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	page := &LedgerPage{}
	err := s.UOW.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		account, err := findAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if page.Entries, err = tx.Ledger().ListByAccount(ctx, account.ID, limit, offset); err != nil {
			return fmt.Errorf("failed to list ledger entries: %w", err)
		}
		if page.TotalCount, err = tx.Ledger().CountByAccount(ctx, account.ID); err != nil {
			return fmt.Errorf("failed to count ledger entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Reconcile checks that a user's reserve balance equals the remaining amount of their batches
// The account is locked so the comparison sees one consistent state.
func (s *StatementService) Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := s.UOW.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		account, err := findAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if account, err = tx.Accounts().LockForUpdate(ctx, account.ID); err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}

		batches, err := tx.Batches().ListByOwner(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("failed to list batches: %w", err)
		}

		total := decimal.Zero
		for _, b := range batches {
			if b.Bucket == domain.BucketReserve {
				total = total.Add(b.RemainingAmount)
			}
		}
		total = domain.Quantize(total)
		drift := domain.Quantize(account.ReserveBalance.Sub(total))

		report = &ReconcileReport{
			UserID:     userID,
			Reserve:    account.ReserveBalance,
			BatchTotal: total,
			Drift:      drift,
			Consistent: drift.IsZero(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent {
		s.Logger.Error("reserve balance drifted from batches",
			zap.String("user_id", userID.String()),
			zap.String("reserve", domain.FormatAmount(report.Reserve)),
			zap.String("batch_total", domain.FormatAmount(report.BatchTotal)),
		)
	}
	return report, nil
}

func findAccount(ctx context.Context, tx domain.Tx, userID uuid.UUID) (*domain.Account, error) {
	account, err := tx.Accounts().GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, &domain.Error{Kind: domain.ErrAccountNotFound, Op: "statement", UserID: userID, Err: err}
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}
