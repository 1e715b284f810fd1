package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/logger"
	"github.com/mubaid99/payments/pkg/utils/lock"
)

const (
	// reconcileSpec 定时对账, 补上启动后新建的意图
	reconcileSpec = "@every 1m"
	purgeSpec     = "@every 1h"
	// outboxRetention 已投递的 outbox 消息保留时长
	outboxRetention = 7 * 24 * time.Hour
)

// Reconciler Supervisor 的定时入口
type Reconciler interface {
	Trigger()
}

type CronService struct {
	cron       *cron.Cron
	redis      *redis.Client
	db         *gorm.DB
	reconciler Reconciler
}

func NewCronService(rdb *redis.Client, db *gorm.DB, reconciler Reconciler) *CronService {
	// 标准配置 (分级), @every 写法不受影响
	c := cron.New()
	return &CronService{
		cron:       c,
		redis:      rdb,
		db:         db,
		reconciler: reconciler,
	}
}

func (s *CronService) Start() {
	// 注册任务
	_, _ = s.cron.AddFunc(reconcileSpec, s.reconciler.Trigger) // 每分钟 reconcile 一次监听
	if s.db != nil {
		_, _ = s.cron.AddFunc(purgeSpec, s.PurgeOutbox)
	}

	s.cron.Start()
	logger.Info("Cron Service started")
}

func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Cron Service stopped")
}

// PurgeOutbox 清理已投递的 outbox 消息, 多实例时只有拿到锁的节点执行
func (s *CronService) PurgeOutbox() {
	ctx := context.Background()
	lockKey := "cron:lock:purge_outbox"

	// 1. 获取分布式锁 (TTL 1m)
	if s.redis != nil {
		locker := lock.NewRedisLock(s.redis)
		locked, err := locker.Acquire(ctx, lockKey, time.Minute)
		if err != nil || !locked {
			logger.Debug("PurgeOutbox: 获取锁失败或已有实例在运行")
			return
		}
		defer locker.Release(ctx, lockKey)
	}

	// 2. 删除过期的 SENT 消息
	res := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.OutboxSent, time.Now().Add(-outboxRetention)).
		Delete(&model.OutboxMessage{})
	if res.Error != nil {
		logger.Error("清理 outbox 失败", zap.Error(res.Error))
		return
	}
	if res.RowsAffected > 0 {
		logger.Info("outbox 清理完成", zap.Int64("deleted", res.RowsAffected))
	}
}
