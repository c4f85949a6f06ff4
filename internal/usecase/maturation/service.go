package maturation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/simaogato/fundledger-backend/internal/domain"
	"go.uber.org/zap"
)

// MaturationService sets the administrative maturity flag on reserve batches
// Nothing in the fund engine calls it: maturity is decided by whoever invokes it,
// never derived from the deadline on its own.
type MaturationService struct {
	uow    domain.UnitOfWork
	now    func() time.Time
	logger *zap.Logger
}

// NewMaturationService creates a new MaturationService instance
func NewMaturationService(uow domain.UnitOfWork, now func() time.Time, logger *zap.Logger) *MaturationService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaturationService{
		uow:    uow,
		now:    now,
		logger: logger,
	}
}

// MarkMatured flags one batch as matured
// Already matured batches are returned unchanged.
func (s *MaturationService) MarkMatured(ctx context.Context, batchID uuid.UUID) (*domain.DepositBatch, error) {
	var batch *domain.DepositBatch
	err := s.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		found, err := tx.Batches().GetByID(ctx, batchID)
		if err != nil {
			if errors.Is(err, domain.ErrBatchNotFound) {
				return &domain.Error{Kind: domain.ErrBatchNotFound, Op: "mark_matured", Err: err}
			}
			return fmt.Errorf("failed to get batch: %w", err)
		}

		// Batches are guarded by their owner's lock; re-read once it is held
		if _, err := tx.Accounts().LockForUpdate(ctx, found.OwnerID); err != nil {
			return fmt.Errorf("failed to lock batch owner: %w", err)
		}
		if batch, err = tx.Batches().GetByID(ctx, batchID); err != nil {
			return fmt.Errorf("failed to reload batch: %w", err)
		}

		if !batch.MarkMatured(s.now().UTC()) {
			return nil
		}
		if err := tx.Batches().Update(ctx, batch); err != nil {
			return fmt.Errorf("failed to update batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("batch matured", zap.String("batch_id", batchID.String()))
	return batch, nil
}

// MatureDue flags every unmatured batch whose deadline is at or before cutoff
// Owners are locked in ascending account ID order. Returns the number of batches flagged.
func (s *MaturationService) MatureDue(ctx context.Context, cutoff time.Time) (int, error) {
	var flagged int
	err := s.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		flagged = 0

		due, err := tx.Batches().ListDueForMaturity(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to list due batches: %w", err)
		}

		owners := make([]uuid.UUID, 0, len(due))
		for _, b := range due {
			owners = append(owners, b.OwnerID)
		}
		for _, owner := range domain.LockOrder(owners...) {
			if _, err := tx.Accounts().LockForUpdate(ctx, owner); err != nil {
				return fmt.Errorf("failed to lock batch owner %s: %w", owner, err)
			}
		}

		at := s.now().UTC()
		for _, b := range due {
			// Re-read under the owner lock
			current, err := tx.Batches().GetByID(ctx, b.ID)
			if err != nil {
				return fmt.Errorf("failed to reload batch %s: %w", b.ID, err)
			}
			if !current.MarkMatured(at) {
				continue
			}
			if err := tx.Batches().Update(ctx, current); err != nil {
				return fmt.Errorf("failed to update batch %s: %w", b.ID, err)
			}
			flagged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("due batches matured", zap.Time("cutoff", cutoff), zap.Int("count", flagged))
	return flagged, nil
}
