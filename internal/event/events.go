package event

import "github.com/mubaid99/payments/internal/model"

// Realtime 事件名 (WebSocket)
const (
	NamePaymentConfirmed = "paymentConfirmed"
	NameTxList           = "txList"
)

// MQ Topic
const (
	TopicPaymentConfirmed = "payment_events_confirmed"
)

// PaymentConfirmedEvent 收款确认事件
// 同时用于 WebSocket 推送 (paymentConfirmed) 和 Outbox -> MQ
type PaymentConfirmedEvent struct {
	OrderID string `json:"orderId"` // 关联的 PaymentIntent ID, 未匹配时为空
	TxHash  string `json:"txHash"`
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  string `json:"amount"` // Decimal string
	Chain   string `json:"chain"`
	Type    string `json:"type"` // native / token
}

// TxListEvent 客户端连接时 (type=list) 返回的最近收款列表
type TxListEvent struct {
	Wallet    string      `json:"wallet"`
	Transfers interface{} `json:"transfers"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
}

// NewPaymentConfirmed 由确认后的意图和对应转账构造事件
func NewPaymentConfirmed(intent *model.PaymentIntent, t *model.DetectedTransfer) PaymentConfirmedEvent {
	ev := FromTransfer(t)
	if intent != nil {
		ev.OrderID = intent.ID
	}
	return ev
}

// FromTransfer 未关联意图的转账同样推送, orderId 为空
func FromTransfer(t *model.DetectedTransfer) PaymentConfirmedEvent {
	ev := PaymentConfirmedEvent{
		TxHash: t.TxHash,
		From:   t.FromAddress,
		To:     t.ToAddress,
		Amount: t.Amount,
		Chain:  t.Network,
		Type:   string(t.AssetKind),
	}
	if t.RelatedIntentID != nil {
		ev.OrderID = *t.RelatedIntentID
	}
	return ev
}
