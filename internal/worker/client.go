package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/internal/worker/tasks"
	"github.com/mubaid99/payments/pkg/logger"
)

// Enqueuer asynq.Client 中用到的部分
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client 封装 Asynq Client, 同时作为结算事件的 Dispatcher
type Client struct {
	client Enqueuer
}

// NewClient 初始化 Client
// addr: "localhost:6379"
func NewClient(addr string, password string, db int) *Client {
	c := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Client{client: c}
}

// NewClientWith 使用自定义 Enqueuer
func NewClientWith(e Enqueuer) *Client {
	return &Client{client: e}
}

// Dispatch 投递 transfer:detected 任务; 同一笔交易已在队列中视为成功
func (c *Client) Dispatch(ctx context.Context, ev chain.TransferDetected) error {
	task, err := tasks.NewTransferDetectedTask(ev)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Debug("transfer task already queued", zap.String("task_id", tasks.TransferTaskID(ev)))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Debug("transfer task enqueued", zap.String("id", info.ID), zap.String("queue", info.Queue))
	return nil
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}
