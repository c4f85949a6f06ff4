package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified name of the fund service
const ServiceName = "fundledger.v1.FundService"

// Method names of the fund service
const (
	MethodDeposit         = "Deposit"
	MethodWithdrawReserve = "WithdrawReserve"
	MethodTransferLiquid  = "TransferLiquid"
	MethodReserveToLiquid = "ReserveToLiquid"
	MethodChargeFee       = "ChargeFee"
	MethodCreditInterest  = "CreditInterest"
	MethodGetBalances     = "GetBalances"
	MethodListBatches     = "ListBatches"
	MethodListLedger      = "ListLedger"
	MethodReconcile       = "Reconcile"
	MethodMarkMatured     = "MarkMatured"
)

// FundServiceServer is the server API for the fund service
// Every method takes and returns a google.protobuf.Struct.
type FundServiceServer interface {
	Deposit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WithdrawReserve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransferLiquid(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReserveToLiquid(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChargeFee(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreditInterest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalances(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBatches(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListLedger(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconcile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkMatured(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(FundServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var fundMethods = []struct {
	name string
	call structMethod
}{
	{MethodDeposit, FundServiceServer.Deposit},
	{MethodWithdrawReserve, FundServiceServer.WithdrawReserve},
	{MethodTransferLiquid, FundServiceServer.TransferLiquid},
	{MethodReserveToLiquid, FundServiceServer.ReserveToLiquid},
	{MethodChargeFee, FundServiceServer.ChargeFee},
	{MethodCreditInterest, FundServiceServer.CreditInterest},
	{MethodGetBalances, FundServiceServer.GetBalances},
	{MethodListBatches, FundServiceServer.ListBatches},
	{MethodListLedger, FundServiceServer.ListLedger},
	{MethodReconcile, FundServiceServer.Reconcile},
	{MethodMarkMatured, FundServiceServer.MarkMatured},
}

// FundServiceDesc is the grpc.ServiceDesc for the fund service
var FundServiceDesc = newFundServiceDesc()

func newFundServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(fundMethods))
	for _, m := range fundMethods {
		methods = append(methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    unaryHandler(m.name, m.call),
		})
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*FundServiceServer)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "fundledger/v1/fund.proto",
	}
}

func unaryHandler(method string, call structMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := FullMethod(method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FundServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(FundServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// FullMethod returns the "/service/method" path of a fund service method
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// RegisterFundServiceServer registers srv on a gRPC server
func RegisterFundServiceServer(s grpc.ServiceRegistrar, srv FundServiceServer) {
	s.RegisterService(&FundServiceDesc, srv)
}

// FundServiceClient is the client API for the fund service
type FundServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewFundServiceClient creates a client on an established connection
func NewFundServiceClient(cc grpc.ClientConnInterface) *FundServiceClient {
	return &FundServiceClient{cc: cc}
}

// Call invokes one fund service method with a Struct payload
func (c *FundServiceClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
