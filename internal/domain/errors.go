package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Error kinds returned by the fund accounting core.
// Callers match them with errors.Is; the boundary layer maps them to transport responses.
var (
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidBucket            = errors.New("invalid bucket")
	ErrAccountNotFound          = errors.New("account not found")
	ErrSameAccount              = errors.New("sender and recipient are the same account")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInsufficientMaturedFunds = errors.New("insufficient matured reserve funds")
	ErrBatchNotFound            = errors.New("deposit batch not found")
	ErrInconsistentState        = errors.New("inconsistent fund state")

	// ErrContention marks a transient storage conflict (lock timeout, serialization failure).
	// It is the only kind the engine retries.
	ErrContention = errors.New("storage contention")
)

// Error carries an error kind plus the context needed to render a message for it
type Error struct {
	Kind   error
	Op     string
	UserID uuid.UUID
	Amount decimal.Decimal
	Err    error // optional underlying cause
}

// NewError builds an Error for the given kind, operation, account owner and amount
func NewError(kind error, op string, userID uuid.UUID, amount decimal.Decimal) *Error {
	return &Error{Kind: kind, Op: op, UserID: userID, Amount: amount}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())

	details := make([]string, 0, 2)
	if e.UserID != uuid.Nil {
		details = append(details, "user="+e.UserID.String())
	}
	if !e.Amount.IsZero() {
		details = append(details, "amount="+FormatAmount(e.Amount))
	}
	if len(details) > 0 {
		b.WriteString(" (" + strings.Join(details, ", ") + ")")
	}
	if e.Err != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return b.String()
}

// Is reports whether target is the kind of this error
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind carried by err, or nil when err is not a domain error
func KindOf(err error) error {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	for _, kind := range []error{
		ErrInvalidAmount, ErrInvalidBucket, ErrAccountNotFound, ErrSameAccount,
		ErrInsufficientFunds, ErrInsufficientMaturedFunds, ErrBatchNotFound,
		ErrInconsistentState, ErrContention,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
