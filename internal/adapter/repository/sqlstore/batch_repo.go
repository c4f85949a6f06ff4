package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// batchRepository implements domain.BatchRepository
type batchRepository struct {
	q runner
}

const batchColumns = `id, seq, owner_id, bucket, original_amount, remaining_amount,
	created_at, maturity_deadline, matured, matured_at`

// Create inserts a new batch; its Seq is the next sequence number of the owner
func (r *batchRepository) Create(ctx context.Context, batch *domain.DepositBatch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	batch.CreatedAt = timeArg(batch.CreatedAt)
	batch.MaturityDeadline = timeArg(batch.MaturityDeadline)

	query := `
		INSERT INTO deposit_batches (
			id, seq, owner_id, bucket, original_amount, remaining_amount,
			created_at, maturity_deadline, matured, matured_at
		)
		VALUES (
			?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM deposit_batches WHERE owner_id = ?), ?, ?, ?, ?,
			?, ?, ?, ?
		)
		RETURNING seq
	`
	err := r.q.queryRow(ctx, query,
		batch.ID,
		batch.OwnerID,
		batch.OwnerID,
		string(batch.Bucket),
		amountArg(batch.OriginalAmount),
		amountArg(batch.RemainingAmount),
		batch.CreatedAt,
		batch.MaturityDeadline,
		batch.Matured,
		nullTime(batch.MaturedAt),
	).Scan(&batch.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// GetByID retrieves a batch by its ID
func (r *batchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DepositBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM deposit_batches WHERE id = ?`

	batch, err := scanBatch(r.q.queryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", id, domain.ErrBatchNotFound)
		}
		return nil, fmt.Errorf("failed to get batch by ID: %w", err)
	}
	return batch, nil
}

// ListConsumable returns the owner's matured batches with a positive remainder, oldest first, locked
func (r *batchRepository) ListConsumable(ctx context.Context, ownerID uuid.UUID) ([]*domain.DepositBatch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM deposit_batches
		WHERE owner_id = ? AND bucket = ? AND matured = ? AND CAST(remaining_amount AS NUMERIC) > 0
		ORDER BY created_at ASC, seq ASC, id ASC` + r.q.dialect.ForUpdate()

	return r.list(ctx, query, ownerID, string(domain.BucketReserve), true)
}

// ListByOwner returns every batch of an owner, oldest first
func (r *batchRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.DepositBatch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM deposit_batches
		WHERE owner_id = ?
		ORDER BY created_at ASC, seq ASC, id ASC
	`
	return r.list(ctx, query, ownerID)
}

// ListDueForMaturity returns unmatured batches whose deadline is at or before cutoff
func (r *batchRepository) ListDueForMaturity(ctx context.Context, cutoff time.Time) ([]*domain.DepositBatch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM deposit_batches
		WHERE matured = ? AND maturity_deadline <= ?
		ORDER BY created_at ASC, seq ASC, id ASC
	`
	return r.list(ctx, query, false, timeArg(cutoff))
}

// Update persists the remaining amount and maturity flag of a batch
func (r *batchRepository) Update(ctx context.Context, batch *domain.DepositBatch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("failed to update batch %s: %w", batch.ID, err)
	}

	query := `
		UPDATE deposit_batches
		SET remaining_amount = ?, matured = ?, matured_at = ?
		WHERE id = ?
	`
	result, err := r.q.exec(ctx, query,
		amountArg(batch.RemainingAmount),
		batch.Matured,
		nullTime(batch.MaturedAt),
		batch.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("batch %s: %w", batch.ID, domain.ErrBatchNotFound)
	}
	return nil
}

func (r *batchRepository) list(ctx context.Context, query string, args ...any) ([]*domain.DepositBatch, error) {
	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	batches := make([]*domain.DepositBatch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}

	// Text-encoded timestamps do not always sort like instants
	domain.SortFIFO(batches)
	return batches, nil
}

func scanBatch(row interface{ Scan(...any) error }) (*domain.DepositBatch, error) {
	var (
		batch                     domain.DepositBatch
		bucket                    string
		originalStr, remainingStr string
		maturedAt                 sql.NullTime
	)
	err := row.Scan(
		&batch.ID,
		&batch.Seq,
		&batch.OwnerID,
		&bucket,
		&originalStr,
		&remainingStr,
		&batch.CreatedAt,
		&batch.MaturityDeadline,
		&batch.Matured,
		&maturedAt,
	)
	if err != nil {
		return nil, err
	}

	batch.Bucket = domain.Bucket(bucket)
	if batch.OriginalAmount, err = parseAmount("original_amount", originalStr); err != nil {
		return nil, err
	}
	if batch.RemainingAmount, err = parseAmount("remaining_amount", remainingStr); err != nil {
		return nil, err
	}
	batch.CreatedAt = batch.CreatedAt.UTC()
	batch.MaturityDeadline = batch.MaturityDeadline.UTC()
	if maturedAt.Valid {
		at := maturedAt.Time.UTC()
		batch.MaturedAt = &at
	}
	return &batch, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: timeArg(*t), Valid: true}
}
