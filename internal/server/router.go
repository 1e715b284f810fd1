package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/mubaid99/payments/internal/handler"
	"github.com/mubaid99/payments/internal/handler/response"
	"github.com/mubaid99/payments/internal/server/routes"
	"github.com/mubaid99/payments/pkg/monitor"
	"github.com/mubaid99/payments/pkg/validator"
)

// Handlers HTTP 层依赖
type Handlers struct {
	Health   *handler.HealthHandler
	Payments *handler.PaymentHandler
	Realtime *handler.WSHandler
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h Handlers) *gin.Engine {
	// 0. 初始化监控指标和自定义校验规则
	monitor.Init()
	validator.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", h.Health.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	routes.RegisterRealtimeRoutes(r, h.Realtime)

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})
		routes.RegisterPaymentRoutes(api, h.Payments)
	}

	return r
}
