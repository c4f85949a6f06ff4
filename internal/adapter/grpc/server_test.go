package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/fundledger-backend/internal/adapter/repository/memory"
	"github.com/simaogato/fundledger-backend/internal/domain"
	"github.com/simaogato/fundledger-backend/internal/usecase/funds"
	"github.com/simaogato/fundledger-backend/internal/usecase/maturation"
	"github.com/simaogato/fundledger-backend/internal/usecase/statement"
)

const testToken = "test-token-123"

func newTestClient(t *testing.T) *FundServiceClient {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.NewStore()

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingInterceptor(logger),
		AuthInterceptor(testToken),
	))
	RegisterFundServiceServer(grpcServer, NewServer(
		funds.NewEngine(store, funds.WithLogger(logger)),
		statement.NewStatementService(store, nil, logger),
		maturation.NewMaturationService(store, nil, logger),
	))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewFundServiceClient(conn)
}

func authed() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", testToken)
}

func payload(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func call(t *testing.T, client *FundServiceClient, method string, fields map[string]any) *structpb.Struct {
	t.Helper()
	resp, err := client.Call(authed(), method, payload(t, fields))
	require.NoError(t, err, "%s failed", method)
	return resp
}

func TestServer_DepositMatureWithdraw(t *testing.T) {
	client := newTestClient(t)
	userID := uuid.New().String()

	batchIDs := make([]string, 0, 3)
	for _, amount := range []string{"500", "300", "200"} {
		resp := call(t, client, MethodDeposit, map[string]any{
			"user_id": userID,
			"amount":  amount,
			"bucket":  "reserve",
			"source":  "grpc-test",
		})
		batchID := resp.Fields["batch_id"].GetStringValue()
		require.NotEmpty(t, batchID)
		batchIDs = append(batchIDs, batchID)

		matured := call(t, client, MethodMarkMatured, map[string]any{"batch_id": batchID})
		assert.NotEmpty(t, matured.Fields["matured_at"].GetStringValue())
	}

	resp := call(t, client, MethodWithdrawReserve, map[string]any{"user_id": userID, "amount": "650"})
	consumption := resp.Fields["consumption"].GetListValue().GetValues()
	require.Len(t, consumption, 2)
	first := consumption[0].GetStructValue().Fields
	second := consumption[1].GetStructValue().Fields
	assert.Equal(t, batchIDs[0], first["batch_id"].GetStringValue())
	assert.Equal(t, "500.00", first["consumed"].GetStringValue())
	assert.Equal(t, batchIDs[1], second["batch_id"].GetStringValue())
	assert.Equal(t, "150.00", second["consumed"].GetStringValue())

	balances := call(t, client, MethodGetBalances, map[string]any{"user_id": userID})
	assert.Equal(t, "350.00", balances.Fields["reserve_balance"].GetStringValue())
	assert.Equal(t, "0.00", balances.Fields["liquid_balance"].GetStringValue())

	batches := call(t, client, MethodListBatches, map[string]any{"user_id": userID})
	assert.Len(t, batches.Fields["batches"].GetListValue().GetValues(), 3)

	report := call(t, client, MethodReconcile, map[string]any{"user_id": userID})
	assert.True(t, report.Fields["consistent"].GetBoolValue())
	assert.Equal(t, "0.00", report.Fields["drift"].GetStringValue())
}

func TestServer_TransferAndLedger(t *testing.T) {
	client := newTestClient(t)
	alice, bob := uuid.New().String(), uuid.New().String()

	call(t, client, MethodDeposit, map[string]any{"user_id": alice, "amount": "100", "bucket": "liquid"})
	call(t, client, MethodTransferLiquid, map[string]any{"sender_id": alice, "recipient_id": bob, "amount": "40.25"})
	call(t, client, MethodChargeFee, map[string]any{"user_id": alice, "amount": "0.75", "reason": "monthly"})
	call(t, client, MethodCreditInterest, map[string]any{"user_id": bob, "amount": "0.10"})

	balances := call(t, client, MethodGetBalances, map[string]any{"user_id": alice})
	assert.Equal(t, "59.00", balances.Fields["liquid_balance"].GetStringValue())
	balances = call(t, client, MethodGetBalances, map[string]any{"user_id": bob})
	assert.Equal(t, "40.35", balances.Fields["liquid_balance"].GetStringValue())

	page := call(t, client, MethodListLedger, map[string]any{"user_id": alice, "limit": 2, "offset": 0})
	assert.Equal(t, float64(3), page.Fields["total_count"].GetNumberValue())
	entries := page.Fields["entries"].GetListValue().GetValues()
	require.Len(t, entries, 2)

	fee := entries[0].GetStructValue().Fields
	assert.Equal(t, "fee", fee["kind"].GetStringValue())
	assert.Equal(t, "0.75", fee["amount"].GetStringValue())
	assert.Equal(t, "monthly", fee["detail"].GetStructValue().Fields["reason"].GetStringValue())

	out := entries[1].GetStructValue().Fields
	assert.Equal(t, "transfer_out", out["kind"].GetStringValue())
	assert.Equal(t, "liquid", out["bucket"].GetStringValue())
	assert.Equal(t, bob, out["detail"].GetStructValue().Fields["counterparty_user_id"].GetStringValue())
}

func TestServer_ErrorCodes(t *testing.T) {
	client := newTestClient(t)
	funded := uuid.New().String()
	call(t, client, MethodDeposit, map[string]any{"user_id": funded, "amount": "10", "bucket": "reserve"})

	tests := []struct {
		name   string
		method string
		fields map[string]any
		code   codes.Code
	}{
		{"malformed user id", MethodDeposit, map[string]any{"user_id": "nope", "amount": "1", "bucket": "liquid"}, codes.InvalidArgument},
		{"malformed amount", MethodDeposit, map[string]any{"user_id": funded, "amount": "abc", "bucket": "liquid"}, codes.InvalidArgument},
		{"zero amount", MethodDeposit, map[string]any{"user_id": funded, "amount": "0", "bucket": "liquid"}, codes.InvalidArgument},
		{"unknown bucket", MethodDeposit, map[string]any{"user_id": funded, "amount": "1", "bucket": "savings"}, codes.InvalidArgument},
		{"unmatured reserve", MethodWithdrawReserve, map[string]any{"user_id": funded, "amount": "5"}, codes.FailedPrecondition},
		{"reserve too small", MethodReserveToLiquid, map[string]any{"user_id": funded, "amount": "50"}, codes.FailedPrecondition},
		{"same account", MethodTransferLiquid, map[string]any{"sender_id": funded, "recipient_id": funded, "amount": "1"}, codes.InvalidArgument},
		{"unknown sender", MethodTransferLiquid, map[string]any{"sender_id": uuid.New().String(), "recipient_id": funded, "amount": "1"}, codes.NotFound},
		{"unknown user", MethodGetBalances, map[string]any{"user_id": uuid.New().String()}, codes.NotFound},
		{"unknown batch", MethodMarkMatured, map[string]any{"batch_id": uuid.New().String()}, codes.NotFound},
		{"page too large", MethodListLedger, map[string]any{"user_id": funded, "limit": 501}, codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Call(authed(), tt.method, payload(t, tt.fields))
			assert.Equal(t, tt.code, status.Code(err), "error: %v", err)
		})
	}
}

func TestServer_RequiresToken(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Call(context.Background(), MethodGetBalances, payload(t, map[string]any{"user_id": uuid.New().String()}))

	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestMapError(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"invalid amount", &domain.Error{Kind: domain.ErrInvalidAmount, Op: "deposit", UserID: userID}, codes.InvalidArgument},
		{"invalid bucket", &domain.Error{Kind: domain.ErrInvalidBucket, Op: "deposit"}, codes.InvalidArgument},
		{"account not found", fmt.Errorf("lookup: %w", domain.ErrAccountNotFound), codes.NotFound},
		{"insufficient funds", &domain.Error{Kind: domain.ErrInsufficientFunds}, codes.FailedPrecondition},
		{"insufficient matured", &domain.Error{Kind: domain.ErrInsufficientMaturedFunds}, codes.FailedPrecondition},
		{"contention", errors.Join(domain.ErrContention, errors.New("40001")), codes.Aborted},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"inconsistent state", &domain.Error{Kind: domain.ErrInconsistentState}, codes.Internal},
		{"unknown", errors.New("disk on fire"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(mapError(tt.err)))
		})
	}
	assert.NoError(t, mapError(nil))
}
