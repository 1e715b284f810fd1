package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/internal/service/mq"
	"github.com/mubaid99/payments/pkg/monitor"
)

const (
	relayBatchSize   = 50
	relayMaxAttempts = 20
)

// RelayService 负责将本地消息表的消息搬运到 MQ
type RelayService struct {
	db       *gorm.DB
	producer mq.Producer
	interval time.Duration
	log      *zap.Logger
}

func NewRelayService(db *gorm.DB, producer mq.Producer, log *zap.Logger) *RelayService {
	return &RelayService{
		db:       db,
		producer: producer,
		interval: 500 * time.Millisecond, // 500ms 轮询一次
		log:      log.Named("relay"),
	}
}

func (s *RelayService) Start(ctx context.Context) {
	s.log.Info("outbox relay started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

// ProcessPending 投递一批 PENDING 消息, 返回成功条数
// 发送成功后才标记 SENT => At-least-once, 消费方按 txHash 幂等
func (s *RelayService) ProcessPending(ctx context.Context) int {
	// 1. 获取一批 Pending 消息, 超过重试上限的留给人工处理
	var messages []model.OutboxMessage
	if err := s.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", model.OutboxPending, relayMaxAttempts).
		Order("id asc").
		Limit(relayBatchSize).
		Find(&messages).Error; err != nil {
		s.log.Error("load outbox failed", zap.Error(err))
		return 0
	}

	sent := 0
	for i := range messages {
		msg := &messages[i]
		// 2. 发送 MQ
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			monitor.OutboxRelayed(msg.Topic, false)
			s.log.Warn("publish outbox message failed", zap.Uint64("id", msg.ID), zap.Error(err))
			s.db.WithContext(ctx).Model(msg).UpdateColumn("attempts", gorm.Expr("attempts + 1"))
			continue
		}
		monitor.OutboxRelayed(msg.Topic, true)

		// 3. 更新状态为 SENT, 失败则下次重发
		if err := s.db.WithContext(ctx).Model(msg).Updates(map[string]interface{}{
			"status":   model.OutboxSent,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error; err != nil {
			s.log.Error("mark outbox sent failed", zap.Uint64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		s.log.Debug("outbox relayed", zap.Int("sent", sent), zap.Int("batch", len(messages)))
	}
	return sent
}
