package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/handler/request"
	"github.com/mubaid99/payments/internal/handler/response"
	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/internal/service"
	"github.com/mubaid99/payments/pkg/errno"
	"github.com/mubaid99/payments/pkg/qrcode"
	"github.com/mubaid99/payments/pkg/validator"
)

// PaymentAPI HTTP / WebSocket 依赖的业务接口
type PaymentAPI interface {
	CreateIntent(ctx context.Context, in service.CreateIntentInput) (*model.PaymentIntent, error)
	GetIntent(ctx context.Context, id string) (*model.PaymentIntent, error)
	ListTransfers(ctx context.Context, address string, limit, offset int) ([]model.DetectedTransfer, error)
}

type PaymentHandler struct {
	payments PaymentAPI
	log      *zap.Logger
}

func NewPaymentHandler(payments PaymentAPI, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log.Named("http")}
}

// CreateQRPayment 创建收款二维码
// @Summary 创建收款二维码
// @Description 创建 pending 收款意图, 返回支付 URI 和 PNG 二维码, 并立即开始监听收款地址
// @Tags Payment
// @Accept json
// @Produce json
// @Param request body request.CreateQRPaymentRequest true "QR Payment"
// @Success 200 {object} response.Response{data=response.QRPaymentResponse}
// @Router /api/v1/payments/qr [post]
func (h *PaymentHandler) CreateQRPayment(c *gin.Context) {
	// 1. 绑定参数
	var req request.CreateQRPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	// 2. 创建意图 (地址/合约/金额的语法校验在 registry 中)
	intent, err := h.payments.CreateIntent(c.Request.Context(), service.CreateIntentInput{
		Network:         req.Blockchain,
		Address:         strings.TrimSpace(req.ToAddress),
		TokenContract:   strings.TrimSpace(req.Contract),
		CoinName:        req.CoinName,
		ExpectedAmount:  strings.TrimSpace(string(req.Amount)),
		ClientReference: req.ClientID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// 3. 生成二维码
	image, err := qrcode.DataURL(intent.URI())
	if err != nil {
		h.log.Error("render qr failed", zap.String("intent_id", intent.ID), zap.Error(err))
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewQRPaymentResponse(intent, image))
}

// GetPayment 查询收款意图状态
// @Summary 查询收款意图
// @Tags Payment
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} response.Response{data=model.PaymentIntent}
// @Router /api/v1/payments/{id} [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	intent, err := h.payments.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, intent)
}

// ListTransfers 按收款地址查询最近的入账
// @Summary 收款地址的入账列表
// @Tags Payment
// @Produce json
// @Param address query string true "Destination address"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Response{data=response.TransferList}
// @Router /api/v1/payments/transfers [get]
func (h *PaymentHandler) ListTransfers(c *gin.Context) {
	var req request.ListTransfersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	list, err := h.payments.ListTransfers(c.Request.Context(), req.Address, req.Limit, req.Offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, response.TransferList{
		Address:   req.Address,
		Transfers: list,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
}
