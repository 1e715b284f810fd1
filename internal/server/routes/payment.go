package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/mubaid99/payments/internal/handler"
)

// RegisterPaymentRoutes 收款二维码 / 意图查询 / 入账列表
func RegisterPaymentRoutes(rg *gin.RouterGroup, h *handler.PaymentHandler) {
	payments := rg.Group("/payments")
	{
		payments.POST("/qr", h.CreateQRPayment)
		payments.POST("/createQR", h.CreateQRPayment) // 兼容旧版前端
		payments.GET("/transfers", h.ListTransfers)
		payments.GET("/:id", h.GetPayment)
	}
}

// RegisterRealtimeRoutes WebSocket 推送
func RegisterRealtimeRoutes(r *gin.Engine, h *handler.WSHandler) {
	r.GET("/ws", h.Connect)
}
