package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/internal/realtime"
	"github.com/mubaid99/payments/internal/service"
	"github.com/mubaid99/payments/internal/worker"
	"github.com/mubaid99/payments/internal/worker/tasks"
	"github.com/mubaid99/payments/pkg/cache"
	"github.com/mubaid99/payments/pkg/config"
	"github.com/mubaid99/payments/pkg/database"
	"github.com/mubaid99/payments/pkg/logger"
	"github.com/mubaid99/payments/pkg/monitor"
	"github.com/mubaid99/payments/pkg/utils/lock"
)

// payment-worker 独立消费 asynq 的 transfer:detected 任务 (dispatch_mode=asynq 且 worker.embedded=false)
// 本进程没有 WebSocket 连接, 确认推送经 NATS 转发给 payment-server 实例
func main() {
	// 1. 初始化配置与日志
	config.Init()
	cfg := config.Global
	logger.Init(cfg.App.Env)
	defer logger.Sync()
	monitor.Init()

	logger.Info("启动结算 Worker...", zap.String("env", cfg.App.Env), zap.Int("concurrency", cfg.Worker.Concurrency))

	// 2. 数据库与 Redis
	db, err := database.ConnectPostgres(cfg.DB.DSN(), false)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}
	defer rdb.Close()

	// 3. 推送只能走 NATS
	hub := realtime.NewHub(logger.Log)
	if cfg.NATS.URL == "" {
		logger.Warn("未配置 nats.url, 确认事件不会推送到 WebSocket 客户端")
	} else {
		bridge, err := realtime.NewNATSBridge(cfg.NATS.URL, cfg.NATS.Subject, hub, logger.Log)
		if err != nil {
			logger.Fatal("NATS 连接失败", zap.Error(err))
		}
		defer bridge.Close()
	}

	// 4. 结算引擎
	registry := service.NewRegistryService(db, cfg.Chain("bitcoin").Net, logger.Log).WithTopic(cfg.MQ.Topic)
	engine := service.NewSettlementService(registry, hub, logger.Log).
		WithLock(lock.NewRedisLock(rdb)).
		WithCache(cache.NewRedisCache(rdb))

	srv := worker.NewServer(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Worker.Concurrency,
		tasks.SettlerFunc(func(ctx context.Context, ev chain.TransferDetected) error {
			_, err := engine.HandleTransfer(ctx, ev)
			return err
		}))
	srv.Start()

	// 5. 等待退出信号
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("⚠️  正在停止 Worker...")
	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("Worker 停止超时")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Worker 已退出")
}
