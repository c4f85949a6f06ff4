package funds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/fundledger-backend/internal/domain"
	"github.com/simaogato/fundledger-backend/internal/usecase/balances"
	"github.com/simaogato/fundledger-backend/internal/usecase/batches"
	"github.com/simaogato/fundledger-backend/internal/usecase/recorder"
	"go.uber.org/zap"
)

// DepositInput represents the input for a deposit
type DepositInput struct {
	UserID uuid.UUID
	Amount decimal.Decimal
	Bucket domain.Bucket
	Source string // Free-form origin of the funds, kept in the ledger detail
}

// Engine runs the fund operations, each inside exactly one atomic scope
type Engine struct {
	uow      domain.UnitOfWork
	balances *balances.Store
	batches  *batches.Ledger
	recorder *recorder.Recorder

	cache  domain.BalanceCache
	logger *zap.Logger
	now    func() time.Time
	retry  RetryPolicy
}

// NewEngine creates a new Engine over the given unit of work
func NewEngine(uow domain.UnitOfWork, opts ...Option) *Engine {
	e := &Engine{
		uow:    uow,
		logger: zap.NewNop(),
		now:    time.Now,
		retry:  DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.balances = balances.NewStore()
	e.batches = batches.NewLedger(e.now)
	e.recorder = recorder.NewRecorder(e.now)
	return e
}

// Deposit credits amount to one bucket of the target user
// Logic:
//  1. Validate amount (> 0 after quantization) and bucket before opening a scope
//  2. Get or create the target account and lock it
//  3. Reserve: create a batch, credit reserve, append a deposit entry referencing the batch
//  4. Liquid: credit liquid, append a deposit entry
//
// Returns the new batch for reserve deposits and nil for liquid deposits.
func (e *Engine) Deposit(ctx context.Context, input DepositInput) (*domain.DepositBatch, error) {
	const op = "deposit"

	amount, err := validAmount(op, input.UserID, input.Amount)
	if err != nil {
		return nil, e.rejected(op, err)
	}
	if err := input.Bucket.Validate(); err != nil {
		return nil, e.rejected(op, &domain.Error{Kind: domain.ErrInvalidBucket, Op: op, UserID: input.UserID, Amount: amount, Err: err})
	}

	var batch *domain.DepositBatch
	err = e.run(ctx, op, func(ctx context.Context, tx domain.Tx) error {
		batch = nil

		account, err := e.balances.GetOrCreate(ctx, tx, input.UserID)
		if err != nil {
			return err
		}
		locked, err := e.balances.Lock(ctx, tx, account)
		if err != nil {
			return err
		}
		account = locked[0]

		detail := domain.DepositDetail{Source: input.Source}
		var related *uuid.UUID
		if input.Bucket == domain.BucketReserve {
			created, err := e.batches.CreateBatch(ctx, tx, account, amount)
			if err != nil {
				return err
			}
			detail.BatchID = &created.ID
			related = &created.ID
			batch = created
		}

		if err := e.balances.Credit(ctx, tx, account, input.Bucket, amount); err != nil {
			return err
		}

		_, err = e.recorder.Append(ctx, tx, recorder.AppendInput{
			Account:        account,
			Kind:           domain.EntryKindDeposit,
			Amount:         amount,
			Bucket:         input.Bucket.Ptr(),
			Detail:         detail,
			RelatedBatchID: related,
		})
		return err
	})
	if err != nil {
		return nil, e.rejected(op, err)
	}

	e.committed(ctx, op, amount, []uuid.UUID{input.UserID}, zap.String("bucket", string(input.Bucket)))
	return batch, nil
}

// WithdrawReserveFIFO removes amount from the user's matured reserve batches, oldest first
// Returns the per-batch consumption in FIFO order.
func (e *Engine) WithdrawReserveFIFO(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) ([]domain.Consumption, error) {
	const op = "withdraw_reserve_fifo"

	amount, err := validAmount(op, userID, amount)
	if err != nil {
		return nil, e.rejected(op, err)
	}

	var consumption []domain.Consumption
	err = e.run(ctx, op, func(ctx context.Context, tx domain.Tx) error {
		account, err := e.lockOwner(ctx, tx, userID)
		if err != nil {
			return err
		}
		consumption, err = e.withdrawReserve(ctx, tx, op, account, amount)
		return err
	})
	if err != nil {
		return nil, e.rejected(op, err)
	}

	e.committed(ctx, op, amount, []uuid.UUID{userID}, zap.Int("batches", len(consumption)))
	return consumption, nil
}

// TransferLiquid moves amount from the sender's liquid balance to the recipient's
// Logic:
//  1. Reject non-positive amounts, then self-transfers
//  2. The sender must already have an account; the recipient's is created on first use
//  3. Lock both accounts in ascending account ID order, whatever the argument order
//  4. Debit sender, credit recipient, append transfer_out then transfer_in
func (e *Engine) TransferLiquid(ctx context.Context, senderID, recipientID uuid.UUID, amount decimal.Decimal) error {
	const op = "transfer_liquid"

	amount, err := validAmount(op, senderID, amount)
	if err != nil {
		return e.rejected(op, err)
	}
	if senderID == recipientID {
		return e.rejected(op, domain.NewError(domain.ErrSameAccount, op, senderID, amount))
	}

	err = e.run(ctx, op, func(ctx context.Context, tx domain.Tx) error {
		sender, err := e.balances.Find(ctx, tx, senderID)
		if err != nil {
			return err
		}
		recipient, err := e.balances.GetOrCreate(ctx, tx, recipientID)
		if err != nil {
			return err
		}

		locked, err := e.balances.Lock(ctx, tx, sender, recipient)
		if err != nil {
			return err
		}
		sender, recipient = locked[0], locked[1]

		if err := e.balances.Debit(ctx, tx, sender, domain.BucketLiquid, amount); err != nil {
			return err
		}
		if err := e.balances.Credit(ctx, tx, recipient, domain.BucketLiquid, amount); err != nil {
			return err
		}

		if _, err := e.recorder.Append(ctx, tx, recorder.AppendInput{
			Account: sender,
			Kind:    domain.EntryKindTransferOut,
			Amount:  amount,
			Bucket:  domain.BucketLiquid.Ptr(),
			Detail:  domain.TransferDetail{CounterpartyUserID: recipientID},
		}); err != nil {
			return err
		}
		_, err = e.recorder.Append(ctx, tx, recorder.AppendInput{
			Account: recipient,
			Kind:    domain.EntryKindTransferIn,
			Amount:  amount,
			Bucket:  domain.BucketLiquid.Ptr(),
			Detail:  domain.TransferDetail{CounterpartyUserID: senderID},
		})
		return err
	})
	if err != nil {
		return e.rejected(op, err)
	}

	e.committed(ctx, op, amount, []uuid.UUID{senderID, recipientID}, zap.String("recipient_id", recipientID.String()))
	return nil
}

// ReserveToLiquid withdraws amount FIFO from the reserve and credits it to the same user's liquid balance
// The FIFO withdrawal, the liquid credit and the conversion entry commit together or not at all.
func (e *Engine) ReserveToLiquid(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) ([]domain.Consumption, error) {
	const op = "reserve_to_liquid"

	amount, err := validAmount(op, userID, amount)
	if err != nil {
		return nil, e.rejected(op, err)
	}

	var consumption []domain.Consumption
	err = e.run(ctx, op, func(ctx context.Context, tx domain.Tx) error {
		account, err := e.lockOwner(ctx, tx, userID)
		if err != nil {
			return err
		}

		consumption, err = e.withdrawReserve(ctx, tx, op, account, amount)
		if err != nil {
			return err
		}

		if err := e.balances.Credit(ctx, tx, account, domain.BucketLiquid, amount); err != nil {
			return err
		}
		_, err = e.recorder.Append(ctx, tx, recorder.AppendInput{
			Account: account,
			Kind:    domain.EntryKindReserveToLiquid,
			Amount:  amount,
			Bucket:  domain.BucketLiquid.Ptr(),
			Detail:  domain.ConversionDetail{Consumption: consumption},
		})
		return err
	})
	if err != nil {
		return nil, e.rejected(op, err)
	}

	e.committed(ctx, op, amount, []uuid.UUID{userID}, zap.Int("batches", len(consumption)))
	return consumption, nil
}

// ChargeFee debits a fee from the user's liquid balance
func (e *Engine) ChargeFee(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reason string) error {
	return e.adjustLiquid(ctx, "charge_fee", domain.EntryKindFee, userID, amount, reason)
}

// CreditInterest credits interest to the user's liquid balance
func (e *Engine) CreditInterest(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reason string) error {
	return e.adjustLiquid(ctx, "credit_interest", domain.EntryKindInterest, userID, amount, reason)
}

func (e *Engine) adjustLiquid(ctx context.Context, op string, kind domain.EntryKind, userID uuid.UUID, amount decimal.Decimal, reason string) error {
	amount, err := validAmount(op, userID, amount)
	if err != nil {
		return e.rejected(op, err)
	}

	err = e.run(ctx, op, func(ctx context.Context, tx domain.Tx) error {
		account, err := e.balances.Find(ctx, tx, userID)
		if err != nil {
			return err
		}
		locked, err := e.balances.Lock(ctx, tx, account)
		if err != nil {
			return err
		}
		account = locked[0]

		if kind == domain.EntryKindFee {
			err = e.balances.Debit(ctx, tx, account, domain.BucketLiquid, amount)
		} else {
			err = e.balances.Credit(ctx, tx, account, domain.BucketLiquid, amount)
		}
		if err != nil {
			return err
		}

		_, err = e.recorder.Append(ctx, tx, recorder.AppendInput{
			Account: account,
			Kind:    kind,
			Amount:  amount,
			Bucket:  domain.BucketLiquid.Ptr(),
			Detail:  domain.AdjustmentDetail{Reason: reason},
		})
		return err
	})
	if err != nil {
		return e.rejected(op, err)
	}

	e.committed(ctx, op, amount, []uuid.UUID{userID}, zap.String("reason", reason))
	return nil
}

// lockOwner gets or creates the user's account and locks it
func (e *Engine) lockOwner(ctx context.Context, tx domain.Tx, userID uuid.UUID) (*domain.Account, error) {
	account, err := e.balances.GetOrCreate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	locked, err := e.balances.Lock(ctx, tx, account)
	if err != nil {
		return nil, err
	}
	return locked[0], nil
}

// withdrawReserve is the FIFO withdrawal shared by WithdrawReserveFIFO and ReserveToLiquid
// Logic:
//  1. Pre-check the reserve balance
//  2. Consume matured batches FIFO (all-or-nothing)
//  3. Append one withdraw entry per consumed segment, in batch order
//  4. Debit the reserve by the requested amount, which must equal the consumed total
func (e *Engine) withdrawReserve(ctx context.Context, tx domain.Tx, op string, account *domain.Account, amount decimal.Decimal) ([]domain.Consumption, error) {
	if account.ReserveBalance.LessThan(amount) {
		return nil, domain.NewError(domain.ErrInsufficientFunds, op, account.UserID, amount)
	}

	consumption, err := e.batches.ConsumeFIFO(ctx, tx, account, amount)
	if err != nil {
		return nil, err
	}

	for _, segment := range consumption {
		batchID := segment.BatchID
		if _, err := e.recorder.Append(ctx, tx, recorder.AppendInput{
			Account:        account,
			Kind:           domain.EntryKindWithdraw,
			Amount:         segment.Consumed,
			Bucket:         domain.BucketReserve.Ptr(),
			Detail:         domain.WithdrawDetail{BatchID: batchID, Consumed: segment.Consumed},
			RelatedBatchID: &batchID,
		}); err != nil {
			return nil, err
		}
	}

	if consumed := domain.SumConsumed(consumption); !consumed.Equal(amount) {
		return nil, &domain.Error{
			Kind:   domain.ErrInconsistentState,
			Op:     op,
			UserID: account.UserID,
			Amount: amount,
			Err:    fmt.Errorf("consumed %s from batches", domain.FormatAmount(consumed)),
		}
	}

	if err := e.balances.Debit(ctx, tx, account, domain.BucketReserve, amount); err != nil {
		return nil, err
	}
	return consumption, nil
}

// run executes fn in a fresh scope, retrying on storage contention
// Only ErrContention is retried; every other error is returned as is.
func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context, tx domain.Tx) error) error {
	var err error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		err = e.uow.Within(ctx, fn)
		if err == nil || !errors.Is(err, domain.ErrContention) || attempt == e.retry.MaxAttempts {
			return err
		}

		delay := time.Duration(attempt) * e.retry.BaseDelay
		e.logger.Warn("retrying after storage contention",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
	}
	return err
}

func (e *Engine) rejected(op string, err error) error {
	e.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
	return err
}

func (e *Engine) committed(ctx context.Context, op string, amount decimal.Decimal, users []uuid.UUID, fields ...zap.Field) {
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, users...); err != nil {
			e.logger.Warn("failed to invalidate balance cache", zap.String("op", op), zap.Error(err))
		}
	}

	e.logger.Info("operation committed", append([]zap.Field{
		zap.String("op", op),
		zap.String("user_id", users[0].String()),
		zap.String("amount", domain.FormatAmount(amount)),
	}, fields...)...)
}

// validAmount quantizes amount and rejects it unless it is positive
func validAmount(op string, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	q := domain.Quantize(amount)
	if !q.IsPositive() {
		return decimal.Zero, domain.NewError(domain.ErrInvalidAmount, op, userID, amount)
	}
	return q, nil
}
