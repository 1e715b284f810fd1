package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/event"
	"github.com/mubaid99/payments/internal/handler/response"
	"github.com/mubaid99/payments/internal/realtime"
	"github.com/mubaid99/payments/pkg/errno"
)

const defaultTxListLimit = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 收款页面由各商户域名嵌入
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSHandler struct {
	hub      *realtime.Hub
	payments PaymentAPI
	log      *zap.Logger
}

func NewWSHandler(hub *realtime.Hub, payments PaymentAPI, log *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, payments: payments, log: log.Named("ws")}
}

// Connect 订阅某个收款地址的确认推送
// @Summary 收款实时推送 (WebSocket)
// @Description 加入房间 lower(wallet), 之后收到 paymentConfirmed; type=list 时先推送一次 txList
// @Tags Payment
// @Param wallet query string true "Destination address"
// @Param type query string false "list"
// @Param limit query int false "txList page size"
// @Param offset query int false "txList offset"
// @Router /ws [get]
func (h *WSHandler) Connect(c *gin.Context) {
	wallet := strings.TrimSpace(c.Query("wallet"))
	if wallet == "" {
		response.Error(c, errno.ErrBind.WithMessage("wallet is required"))
		return
	}
	limit, offset := pageParams(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// 先入房间再发 txList, 中间产生的推送在发送缓冲里排队
	client := h.hub.Join(wallet, conn)

	if c.Query("type") == "list" {
		list, err := h.payments.ListTransfers(c.Request.Context(), wallet, limit, offset)
		if err != nil {
			h.log.Error("load tx list failed", zap.String("wallet", wallet), zap.Error(err))
		} else if err := realtime.WriteEvent(conn, event.NameTxList, event.TxListEvent{
			Wallet:    client.Room,
			Transfers: list,
			Limit:     limit,
			Offset:    offset,
		}); err != nil {
			h.hub.Leave(client)
			_ = conn.Close()
			return
		}
	}

	client.Serve()
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = defaultTxListLimit
	}
	offset, err = strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
