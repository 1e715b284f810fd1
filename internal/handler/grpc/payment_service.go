package grpc

import (
	"context"

	grpclib "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// 服务描述手写, 消息使用 well-known types, 不依赖 protoc 生成代码
const (
	ServiceName          = "payments.v1.PaymentService"
	MethodGetIntent      = "/" + ServiceName + "/GetIntent"
	MethodCreateIntent   = "/" + ServiceName + "/CreateIntent"
	MethodListTransfers  = "/" + ServiceName + "/ListTransfers"
	paymentProtoMetadata = "payments/v1/payment.proto"
)

// PaymentServiceServer gRPC 服务端接口
type PaymentServiceServer interface {
	// GetIntent 按 ID 查询意图
	GetIntent(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	// CreateIntent 字段与 HTTP 接口一致: blockchain, toAddress, coinName, clientId, amount, contract
	CreateIntent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// ListTransfers 字段: address, limit, offset
	ListTransfers(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error)
}

// PaymentServiceDesc 注册到 grpc.Server
var PaymentServiceDesc = grpclib.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentServiceServer)(nil),
	Methods: []grpclib.MethodDesc{
		{MethodName: "GetIntent", Handler: getIntentHandler},
		{MethodName: "CreateIntent", Handler: createIntentHandler},
		{MethodName: "ListTransfers", Handler: listTransfersHandler},
	},
	Streams:  []grpclib.StreamDesc{},
	Metadata: paymentProtoMetadata,
}

// RegisterPaymentServiceServer 注册服务实现
func RegisterPaymentServiceServer(s grpclib.ServiceRegistrar, srv PaymentServiceServer) {
	s.RegisterService(&PaymentServiceDesc, srv)
}

func getIntentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpclib.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).GetIntent(ctx, in)
	}
	info := &grpclib.UnaryServerInfo{Server: srv, FullMethod: MethodGetIntent}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PaymentServiceServer).GetIntent(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func createIntentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpclib.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).CreateIntent(ctx, in)
	}
	info := &grpclib.UnaryServerInfo{Server: srv, FullMethod: MethodCreateIntent}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PaymentServiceServer).CreateIntent(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listTransfersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpclib.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).ListTransfers(ctx, in)
	}
	info := &grpclib.UnaryServerInfo{Server: srv, FullMethod: MethodListTransfers}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PaymentServiceServer).ListTransfers(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// PaymentServiceClient 客户端
type PaymentServiceClient struct {
	cc grpclib.ClientConnInterface
}

func NewPaymentServiceClient(cc grpclib.ClientConnInterface) *PaymentServiceClient {
	return &PaymentServiceClient{cc: cc}
}

func (c *PaymentServiceClient) GetIntent(ctx context.Context, id string, opts ...grpclib.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetIntent, wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PaymentServiceClient) CreateIntent(ctx context.Context, req *structpb.Struct, opts ...grpclib.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodCreateIntent, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PaymentServiceClient) ListTransfers(ctx context.Context, req *structpb.Struct, opts ...grpclib.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, MethodListTransfers, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
