package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/fundledger-backend/internal/domain"
	"github.com/simaogato/fundledger-backend/internal/usecase/funds"
	"github.com/simaogato/fundledger-backend/internal/usecase/maturation"
	"github.com/simaogato/fundledger-backend/internal/usecase/statement"
)

// Server implements the FundService gRPC server
type Server struct {
	Funds      *funds.Engine
	Statement  *statement.StatementService
	Maturation *maturation.MaturationService

	validate *validator.Validate
}

var _ FundServiceServer = (*Server)(nil)

// NewServer creates a new gRPC server instance
func NewServer(
	fundsEngine *funds.Engine,
	statementService *statement.StatementService,
	maturationService *maturation.MaturationService,
) *Server {
	return &Server{
		Funds:      fundsEngine,
		Statement:  statementService,
		Maturation: maturationService,
		validate:   validator.New(),
	}
}

type depositRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Amount string `json:"amount" validate:"required,numeric"`
	Bucket string `json:"bucket" validate:"required,oneof=reserve liquid"`
	Source string `json:"source" validate:"max=128"`
}

type amountRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Amount string `json:"amount" validate:"required,numeric"`
}

type transferRequest struct {
	SenderID    string `json:"sender_id" validate:"required,uuid"`
	RecipientID string `json:"recipient_id" validate:"required,uuid"`
	Amount      string `json:"amount" validate:"required,numeric"`
}

type adjustmentRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Amount string `json:"amount" validate:"required,numeric"`
	Reason string `json:"reason" validate:"max=256"`
}

type userRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

type ledgerRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Limit  int    `json:"limit" validate:"min=0,max=500"`
	Offset int    `json:"offset" validate:"min=0"`
}

type batchRequest struct {
	BatchID string `json:"batch_id" validate:"required,uuid"`
}

// Deposit handles the Deposit RPC
func (s *Server) Deposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in depositRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	batch, err := s.Funds.Deposit(ctx, funds.DepositInput{
		UserID: uuid.MustParse(in.UserID),
		Amount: amount,
		Bucket: domain.Bucket(in.Bucket),
		Source: in.Source,
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := map[string]any{}
	if batch != nil {
		out["batch_id"] = batch.ID.String()
		out["maturity_deadline"] = batch.MaturityDeadline.Format(time.RFC3339Nano)
	}
	return respond(out)
}

// WithdrawReserve handles the WithdrawReserve RPC
func (s *Server) WithdrawReserve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in amountRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	consumption, err := s.Funds.WithdrawReserveFIFO(ctx, uuid.MustParse(in.UserID), amount)
	if err != nil {
		return nil, mapError(err)
	}
	return respond(map[string]any{"consumption": consumptionToList(consumption)})
}

// TransferLiquid handles the TransferLiquid RPC
func (s *Server) TransferLiquid(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in transferRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	if err := s.Funds.TransferLiquid(ctx, uuid.MustParse(in.SenderID), uuid.MustParse(in.RecipientID), amount); err != nil {
		return nil, mapError(err)
	}
	return respond(map[string]any{})
}

// ReserveToLiquid handles the ReserveToLiquid RPC
func (s *Server) ReserveToLiquid(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in amountRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	consumption, err := s.Funds.ReserveToLiquid(ctx, uuid.MustParse(in.UserID), amount)
	if err != nil {
		return nil, mapError(err)
	}
	return respond(map[string]any{"consumption": consumptionToList(consumption)})
}

// ChargeFee handles the ChargeFee RPC
func (s *Server) ChargeFee(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in adjustmentRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	if err := s.Funds.ChargeFee(ctx, uuid.MustParse(in.UserID), amount, in.Reason); err != nil {
		return nil, mapError(err)
	}
	return respond(map[string]any{})
}

// CreditInterest handles the CreditInterest RPC
func (s *Server) CreditInterest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in adjustmentRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	if err := s.Funds.CreditInterest(ctx, uuid.MustParse(in.UserID), amount, in.Reason); err != nil {
		return nil, mapError(err)
	}
	return respond(map[string]any{})
}

// GetBalances handles the GetBalances RPC
func (s *Server) GetBalances(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in userRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	snapshot, err := s.Statement.GetBalances(ctx, uuid.MustParse(in.UserID))
	if err != nil {
		return nil, mapError(err)
	}
	return respond(map[string]any{
		"reserve_balance": domain.FormatAmount(snapshot.ReserveBalance),
		"liquid_balance":  domain.FormatAmount(snapshot.LiquidBalance),
	})
}

// ListBatches handles the ListBatches RPC
func (s *Server) ListBatches(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in userRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	batches, err := s.Statement.ListBatches(ctx, uuid.MustParse(in.UserID))
	if err != nil {
		return nil, mapError(err)
	}

	list := make([]any, 0, len(batches))
	for _, b := range batches {
		list = append(list, batchToMap(b))
	}
	return respond(map[string]any{"batches": list})
}

// ListLedger handles the ListLedger RPC
func (s *Server) ListLedger(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in ledgerRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	page, err := s.Statement.ListLedger(ctx, uuid.MustParse(in.UserID), in.Limit, in.Offset)
	if err != nil {
		return nil, mapError(err)
	}

	entries := make([]any, 0, len(page.Entries))
	for _, e := range page.Entries {
		entry, err := entryToMap(e)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to render ledger entry: %v", err)
		}
		entries = append(entries, entry)
	}
	return respond(map[string]any{
		"entries":     entries,
		"total_count": page.TotalCount,
	})
}

// Reconcile handles the Reconcile RPC
func (s *Server) Reconcile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in userRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	report, err := s.Statement.Reconcile(ctx, uuid.MustParse(in.UserID))
	if err != nil {
		return nil, mapError(err)
	}
	return respond(map[string]any{
		"reserve_balance": domain.FormatAmount(report.Reserve),
		"batch_total":     domain.FormatAmount(report.BatchTotal),
		"drift":           domain.FormatAmount(report.Drift),
		"consistent":      report.Consistent,
	})
}

// MarkMatured handles the MarkMatured RPC
func (s *Server) MarkMatured(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in batchRequest
	if err := s.decode(req, &in); err != nil {
		return nil, err
	}

	batch, err := s.Maturation.MarkMatured(ctx, uuid.MustParse(in.BatchID))
	if err != nil {
		return nil, mapError(err)
	}

	out := map[string]any{"batch_id": batch.ID.String()}
	if batch.MaturedAt != nil {
		out["matured_at"] = batch.MaturedAt.Format(time.RFC3339Nano)
	}
	return respond(out)
}

// decode copies a Struct payload into a request DTO and validates it
func (s *Server) decode(req *structpb.Struct, dst any) error {
	data, err := protojson.Marshal(req)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request payload: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request payload: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := domain.ParseAmount(s)
	if err != nil {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "invalid amount format: %v", err)
	}
	return amount, nil
}

func respond(out map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to build response: %v", err)
	}
	return resp, nil
}

func consumptionToList(consumption []domain.Consumption) []any {
	list := make([]any, 0, len(consumption))
	for _, c := range consumption {
		list = append(list, map[string]any{
			"batch_id": c.BatchID.String(),
			"consumed": domain.FormatAmount(c.Consumed),
		})
	}
	return list
}

func batchToMap(b *domain.DepositBatch) map[string]any {
	m := map[string]any{
		"batch_id":          b.ID.String(),
		"seq":               b.Seq,
		"original_amount":   domain.FormatAmount(b.OriginalAmount),
		"remaining_amount":  domain.FormatAmount(b.RemainingAmount),
		"created_at":        b.CreatedAt.Format(time.RFC3339Nano),
		"maturity_deadline": b.MaturityDeadline.Format(time.RFC3339Nano),
		"matured":           b.Matured,
	}
	if b.MaturedAt != nil {
		m["matured_at"] = b.MaturedAt.Format(time.RFC3339Nano)
	}
	return m
}

func entryToMap(e *domain.LedgerEntry) (map[string]any, error) {
	raw, err := domain.EncodeDetail(e.Detail)
	if err != nil {
		return nil, err
	}
	var detail map[string]any
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, err
	}

	m := map[string]any{
		"id":        e.ID.String(),
		"seq":       e.Seq,
		"kind":      string(e.Kind),
		"amount":    domain.FormatAmount(e.Amount),
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"detail":    detail,
	}
	if e.Bucket != nil {
		m["bucket"] = string(*e.Bucket)
	}
	if e.RelatedBatchID != nil {
		m["related_batch_id"] = e.RelatedBatchID.String()
	}
	return m, nil
}

// mapError converts domain errors to gRPC status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidBucket),
		errors.Is(err, domain.ErrSameAccount):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrBatchNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientMaturedFunds):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrContention):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
