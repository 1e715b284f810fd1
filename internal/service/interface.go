package service

import (
	"context"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/internal/model"
)

// CreateIntentInput 创建收款意图的参数
type CreateIntentInput struct {
	Network         string
	Address         string
	TokenContract   string // 为空表示原生币
	CoinName        string
	ExpectedAmount  string // 为空表示不限金额
	ClientReference string
}

// SettlementOutcome AttachTransfer / RecordUnmatched 的结果类型
type SettlementOutcome string

const (
	// OutcomeSettled 意图 pending -> confirmed
	OutcomeSettled SettlementOutcome = "settled"
	// OutcomeDuplicate txHash 已存在, 本次调用为空操作
	OutcomeDuplicate SettlementOutcome = "duplicate"
	// OutcomeAlreadySettled 意图已被其他交易确认, 本笔转账只做记录
	OutcomeAlreadySettled SettlementOutcome = "already_settled"
	// OutcomeUnmatched 没有可关联的意图, 转账落库待对账
	OutcomeUnmatched SettlementOutcome = "unmatched"
)

// Settlement 一次结算的结果
type Settlement struct {
	Outcome  SettlementOutcome
	Intent   *model.PaymentIntent // unmatched 时为 nil
	Transfer *model.DetectedTransfer
}

// PaymentRegistry 收款意图和链上转账的持久化
type PaymentRegistry interface {
	// CreateIntent 校验地址语法后创建 pending 意图
	CreateIntent(ctx context.Context, in CreateIntentInput) (*model.PaymentIntent, error)
	// FindPendingIntents 所有 pending 意图, 按创建时间升序
	FindPendingIntents(ctx context.Context) ([]model.PaymentIntent, error)
	// FindPendingByAddress 按 (network, 地址, 代币) 精确匹配 pending 意图, 按创建时间升序
	FindPendingByAddress(ctx context.Context, network, address, tokenContract string) ([]model.PaymentIntent, error)
	// AttachTransfer 原子地写入转账并确认意图, 对同一 txHash 幂等
	AttachTransfer(ctx context.Context, intentID string, transfer *model.DetectedTransfer) (*Settlement, error)
	// RecordUnmatched 记录无法关联的转账 (relatedIntentId = null), 对同一 txHash 幂等
	RecordUnmatched(ctx context.Context, transfer *model.DetectedTransfer) (*Settlement, error)
	GetIntent(ctx context.Context, id string) (*model.PaymentIntent, error)
	ListTransfersByAddress(ctx context.Context, address string, limit, offset int) ([]model.DetectedTransfer, error)
}

// Publisher 实时推送, 只负责发布, 不管理订阅关系
type Publisher interface {
	Publish(room string, event string, payload interface{})
}

// TransferHandler 消费适配器事件 (结算引擎)
type TransferHandler interface {
	HandleTransfer(ctx context.Context, ev chain.TransferDetected) (*Settlement, error)
}

// Dispatcher 把适配器事件交给结算引擎: 进程内 worker 池或 asynq 队列
type Dispatcher interface {
	Dispatch(ctx context.Context, ev chain.TransferDetected) error
}

// AdapterProvider 按网络名取适配器
type AdapterProvider interface {
	Adapter(network string) (chain.Adapter, error)
}
