package routes

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"

	handler_grpc "github.com/mubaid99/payments/internal/handler/grpc"
)

// RegisterPaymentGRPC 注册 PaymentService gRPC 服务
func RegisterPaymentGRPC(s *grpc.Server, payments handler_grpc.PaymentAPI) {
	handler_grpc.RegisterPaymentServiceServer(s, handler_grpc.NewPaymentHandler(payments, zap.L()))
}
