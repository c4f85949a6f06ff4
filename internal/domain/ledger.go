package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind represents the kind of balance-affecting event a ledger entry records
type EntryKind string

const (
	EntryKindDeposit         EntryKind = "deposit"
	EntryKindWithdraw        EntryKind = "withdraw"
	EntryKindTransferOut     EntryKind = "transfer_out"
	EntryKindTransferIn      EntryKind = "transfer_in"
	EntryKindReserveToLiquid EntryKind = "reserve_to_liquid"
	EntryKindFee             EntryKind = "fee"
	EntryKindInterest        EntryKind = "interest"
)

// LedgerEntry is an immutable audit record of one balance-affecting event
// Entries are append-only: never updated, never deleted
type LedgerEntry struct {
	ID             uuid.UUID
	Seq            int64 // Assigned by storage at commit; preserves causal order within an operation
	AccountID      uuid.UUID
	Kind           EntryKind
	Amount         decimal.Decimal // ABSOLUTE VALUE (Always Positive); sign is implied by Kind
	Bucket         *Bucket         // NULL when the event is not tied to a bucket
	Timestamp      time.Time
	Detail         EntryDetail
	RelatedBatchID *uuid.UUID // Weak reference, lookup only
}

// EntryDetail is the per-kind annotation of a ledger entry
type EntryDetail interface {
	entryDetail()
}

// DepositDetail annotates deposit entries
type DepositDetail struct {
	Source  string     `json:"source,omitempty"`
	BatchID *uuid.UUID `json:"batch_id,omitempty"`
}

// WithdrawDetail annotates one consumed segment of a FIFO withdrawal
type WithdrawDetail struct {
	BatchID  uuid.UUID       `json:"batch_id"`
	Consumed decimal.Decimal `json:"consumed"`
}

// TransferDetail annotates both legs of a liquid transfer with the counter-party
type TransferDetail struct {
	CounterpartyUserID uuid.UUID `json:"counterparty_user_id"`
}

// ConversionDetail annotates a reserve to liquid conversion with its FIFO breakdown
type ConversionDetail struct {
	Consumption []Consumption `json:"consumption"`
}

// AdjustmentDetail annotates fee and interest entries
type AdjustmentDetail struct {
	Reason string `json:"reason,omitempty"`
}

func (DepositDetail) entryDetail()    {}
func (WithdrawDetail) entryDetail()   {}
func (TransferDetail) entryDetail()   {}
func (ConversionDetail) entryDetail() {}
func (AdjustmentDetail) entryDetail() {}

// Validate ensures the entry adheres to domain rules
func (e *LedgerEntry) Validate() error {
	if e.AccountID == uuid.Nil {
		return errors.New("ledger entry must reference an account")
	}

	// Validate entry amount is positive (absolute value)
	if !e.Amount.IsPositive() {
		return errors.New("ledger entry amount must be positive (absolute value)")
	}

	if e.Bucket != nil {
		if err := e.Bucket.Validate(); err != nil {
			return err
		}
	}

	if !detailMatchesKind(e.Kind, e.Detail) {
		return fmt.Errorf("ledger entry detail %T does not match kind %q", e.Detail, e.Kind)
	}

	return nil
}

func detailMatchesKind(kind EntryKind, detail EntryDetail) bool {
	switch kind {
	case EntryKindDeposit:
		_, ok := detail.(DepositDetail)
		return ok
	case EntryKindWithdraw:
		_, ok := detail.(WithdrawDetail)
		return ok
	case EntryKindTransferOut, EntryKindTransferIn:
		_, ok := detail.(TransferDetail)
		return ok
	case EntryKindReserveToLiquid:
		_, ok := detail.(ConversionDetail)
		return ok
	case EntryKindFee, EntryKindInterest:
		_, ok := detail.(AdjustmentDetail)
		return ok
	default:
		return false
	}
}

// EncodeDetail serializes an entry detail for storage
func EncodeDetail(detail EntryDetail) ([]byte, error) {
	if detail == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(detail)
}

// DecodeDetail deserializes a stored entry detail into the variant matching kind
func DecodeDetail(kind EntryKind, data []byte) (EntryDetail, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}

	var (
		detail EntryDetail
		err    error
	)
	switch kind {
	case EntryKindDeposit:
		var d DepositDetail
		err = json.Unmarshal(data, &d)
		detail = d
	case EntryKindWithdraw:
		var d WithdrawDetail
		err = json.Unmarshal(data, &d)
		detail = d
	case EntryKindTransferOut, EntryKindTransferIn:
		var d TransferDetail
		err = json.Unmarshal(data, &d)
		detail = d
	case EntryKindReserveToLiquid:
		var d ConversionDetail
		err = json.Unmarshal(data, &d)
		detail = d
	case EntryKindFee, EntryKindInterest:
		var d AdjustmentDetail
		err = json.Unmarshal(data, &d)
		detail = d
	default:
		return nil, fmt.Errorf("unknown ledger entry kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s entry detail: %w", kind, err)
	}
	return detail, nil
}

// Clone returns an independent copy of the entry
func (e *LedgerEntry) Clone() *LedgerEntry {
	c := *e
	if e.Bucket != nil {
		c.Bucket = e.Bucket.Ptr()
	}
	if e.RelatedBatchID != nil {
		id := *e.RelatedBatchID
		c.RelatedBatchID = &id
	}
	return &c
}
