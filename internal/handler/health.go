package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mubaid99/payments/internal/handler/response"
	"github.com/mubaid99/payments/internal/service"
	"github.com/mubaid99/payments/pkg/errno"
)

// WatchReporter 链上监听状态
type WatchReporter interface {
	Snapshot() []service.WatchStatus
	Healthy() bool
}

type HealthHandler struct {
	service string
	version string
	watches WatchReporter
}

func NewHealthHandler(serviceName, version string, watches WatchReporter) *HealthHandler {
	return &HealthHandler{service: serviceName, version: version, watches: watches}
}

// Check godoc
// @Summary Check system health
// @Description Server status plus the health of every running chain watch
// @Tags system
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	data := gin.H{
		"status":  "UP",
		"version": h.version,
		"service": h.service,
	}
	if h.watches == nil {
		response.Success(c, data)
		return
	}

	data["watches"] = h.watches.Snapshot()
	if h.watches.Healthy() {
		response.Success(c, data)
		return
	}
	data["status"] = "DEGRADED"
	c.JSON(http.StatusServiceUnavailable, response.Response{
		Code:    errno.InternalServerError.Code,
		Message: "one or more chain watches are unhealthy",
		Data:    data,
	})
}
