package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/logger"
)

// 任务类型常量
const (
	TypeTransferDetected = "transfer:detected"
	QueueCritical        = "critical"
)

// TransferDetectedPayload 适配器事件的持久化形式
type TransferDetectedPayload struct {
	Network       string `json:"network"`
	TxHash        string `json:"tx_hash"`
	From          string `json:"from"`
	To            string `json:"to"`
	Amount        string `json:"amount"`
	AssetKind     string `json:"asset_kind"`
	TokenContract string `json:"token_contract,omitempty"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	IntentID      string `json:"intent_id,omitempty"`
}

func payloadOf(ev chain.TransferDetected) TransferDetectedPayload {
	return TransferDetectedPayload{
		Network:       ev.Network,
		TxHash:        ev.TxHash,
		From:          ev.From,
		To:            ev.To,
		Amount:        ev.Amount,
		AssetKind:     string(ev.AssetKind),
		TokenContract: ev.TokenContract,
		BlockNumber:   ev.BlockNumber,
		IntentID:      ev.IntentID,
	}
}

// Event 还原为适配器事件
func (p TransferDetectedPayload) Event() chain.TransferDetected {
	return chain.TransferDetected{
		Network:       p.Network,
		TxHash:        p.TxHash,
		From:          p.From,
		To:            p.To,
		Amount:        p.Amount,
		AssetKind:     model.AssetKind(p.AssetKind),
		TokenContract: p.TokenContract,
		BlockNumber:   p.BlockNumber,
		IntentID:      p.IntentID,
	}
}

// TransferTaskID 同一笔交易只排队一次
func TransferTaskID(ev chain.TransferDetected) string {
	return ev.Network + ":" + ev.TxHash
}

// ---------------------------------------------------------------------
// 1. Producer (Client) Code
// ---------------------------------------------------------------------

// NewTransferDetectedTask 创建结算任务, 最多重试 10 次
func NewTransferDetectedTask(ev chain.TransferDetected) (*asynq.Task, error) {
	payload, err := json.Marshal(payloadOf(ev))
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeTransferDetected, payload,
		asynq.TaskID(TransferTaskID(ev)),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.Timeout(time.Minute),
		asynq.Retention(time.Hour),
	), nil
}

// ---------------------------------------------------------------------
// 2. Consumer (Server) Code
// ---------------------------------------------------------------------

// Settler 结算引擎
type Settler interface {
	HandleTransfer(ctx context.Context, ev chain.TransferDetected) error
}

// SettlerFunc 适配函数
type SettlerFunc func(ctx context.Context, ev chain.TransferDetected) error

func (f SettlerFunc) HandleTransfer(ctx context.Context, ev chain.TransferDetected) error {
	return f(ctx, ev)
}

// NewTransferDetectedHandler 返回 asynq 处理函数, 返回 error 时由 asynq 重试
func NewTransferDetectedHandler(settler Settler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p TransferDetectedPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			// JSON 解析失败，重试也没用，直接进入 Archived 队列
			return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
		}
		if p.TxHash == "" || p.Network == "" {
			return fmt.Errorf("incomplete transfer payload: %w", asynq.SkipRetry)
		}

		logger.Debug("处理转账结算任务",
			zap.String("network", p.Network),
			zap.String("tx_hash", p.TxHash),
		)
		return settler.HandleTransfer(ctx, p.Event())
	}
}
