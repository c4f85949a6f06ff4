package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

// ledgerRepository implements domain.LedgerRepository
type ledgerRepository struct {
	q runner
}

// Append inserts an entry; the database assigns its Seq
func (r *ledgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Timestamp = timeArg(entry.Timestamp)

	detail, err := domain.EncodeDetail(entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry detail: %w", err)
	}

	var bucket sql.NullString
	if entry.Bucket != nil {
		bucket = sql.NullString{String: string(*entry.Bucket), Valid: true}
	}
	var related uuid.NullUUID
	if entry.RelatedBatchID != nil {
		related = uuid.NullUUID{UUID: *entry.RelatedBatchID, Valid: true}
	}

	query := `
		INSERT INTO ledger_entries (id, account_id, kind, amount, bucket, detail, related_batch_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`
	err = r.q.queryRow(ctx, query,
		entry.ID,
		entry.AccountID,
		string(entry.Kind),
		amountArg(entry.Amount),
		bucket,
		string(detail),
		related,
		entry.Timestamp,
	).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// ListByAccount retrieves a page of an account's entries, newest first
// A non-positive limit returns every entry from offset on.
func (r *ledgerRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT seq, id, account_id, kind, amount, bucket, detail, related_batch_id, created_at
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.q.query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.LedgerEntry, 0)
	for rows.Next() {
		var (
			entry     domain.LedgerEntry
			kind      string
			amountStr string
			bucket    sql.NullString
			detail    string
			related   uuid.NullUUID
		)
		err := rows.Scan(
			&entry.Seq,
			&entry.ID,
			&entry.AccountID,
			&kind,
			&amountStr,
			&bucket,
			&detail,
			&related,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		entry.Kind = domain.EntryKind(kind)
		if entry.Amount, err = parseAmount("amount", amountStr); err != nil {
			return nil, err
		}
		if bucket.Valid {
			entry.Bucket = domain.Bucket(bucket.String).Ptr()
		}
		if entry.Detail, err = domain.DecodeDetail(entry.Kind, []byte(detail)); err != nil {
			return nil, err
		}
		if related.Valid {
			id := related.UUID
			entry.RelatedBatchID = &id
		}
		entry.Timestamp = entry.Timestamp.UTC()

		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

// CountByAccount returns the number of entries recorded against an account
func (r *ledgerRepository) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := r.q.queryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE account_id = ?`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return count, nil
}
