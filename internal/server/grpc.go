package server

import (
	"google.golang.org/grpc"

	handler_grpc "github.com/mubaid99/payments/internal/handler/grpc"
	"github.com/mubaid99/payments/internal/server/routes"
	"github.com/mubaid99/payments/pkg/monitor"
)

// NewGRPCServer 初始化并注册 gRPC 服务
func NewGRPCServer(payments handler_grpc.PaymentAPI) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(monitor.UnaryServerInterceptor()))
	routes.RegisterPaymentGRPC(s, payments)
	return s
}
