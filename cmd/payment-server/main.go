package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/internal/handler"
	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/internal/realtime"
	"github.com/mubaid99/payments/internal/server"
	"github.com/mubaid99/payments/internal/service"
	"github.com/mubaid99/payments/internal/service/mq"
	"github.com/mubaid99/payments/internal/worker"
	"github.com/mubaid99/payments/internal/worker/tasks"
	"github.com/mubaid99/payments/pkg/cache"
	"github.com/mubaid99/payments/pkg/config"
	"github.com/mubaid99/payments/pkg/database"
	"github.com/mubaid99/payments/pkg/logger"
	"github.com/mubaid99/payments/pkg/utils/lock"

	_ "github.com/mubaid99/payments/docs/swagger"
)

const (
	version = "1.0.0"
	// streamMaxLen Redis Stream 近似保留的消息数
	streamMaxLen = 100000
)

// @title Payment Gateway API
// @version 1.0
// @description Crypto payment QR codes with on-chain settlement

// @host localhost:8080
// @BasePath /api/v1
func main() {
	// 0. 初始化 Config
	config.Init()
	cfg := config.Global

	// 1. 初始化 Logger
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	// 2. 连接数据库
	db, err := database.ConnectPostgres(cfg.DB.DSN(), cfg.App.Env == "development")
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	// 3. 连接 Redis
	rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	// 4. 开发环境自动迁移, 生产环境使用 cmd/migrate
	if cfg.App.Env == "development" {
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("数据库自动迁移失败", zap.Error(err))
		}
		logger.Info("数据库自动迁移完成 (Dev Mode)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 链适配器 / 注册表 / 实时推送
	factory := chain.NewFactory(cfg.Chains, logger.Log)
	registry := service.NewRegistryService(db, cfg.Chain("bitcoin").Net, logger.Log).WithTopic(cfg.MQ.Topic)

	hub := realtime.NewHub(logger.Log)
	var bridge *realtime.NATSBridge
	if cfg.NATS.URL != "" {
		bridge, err = realtime.NewNATSBridge(cfg.NATS.URL, cfg.NATS.Subject, hub, logger.Log)
		if err != nil {
			logger.Fatal("NATS 连接失败", zap.Error(err))
		}
	}

	// 6. 结算引擎: 交易锁 + 已确认意图缓存 (L1 内存, L2 Redis)
	intentCache := cache.NewMultiLevelCache(
		cache.NewMemoryCache(5*time.Minute, 10*time.Minute),
		cache.NewRedisCache(rdb),
	)
	engine := service.NewSettlementService(registry, hub, logger.Log).
		WithLock(lock.NewRedisLock(rdb)).
		WithCache(intentCache)

	// 7. 事件分发: 进程内 worker 池或 asynq 持久化队列
	var (
		dispatcher   service.Dispatcher
		stopDispatch func()
	)
	switch cfg.App.DispatchMode {
	case "asynq":
		client := worker.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		dispatcher = client
		stopDispatch = func() { _ = client.Close() }

		if cfg.Worker.Embedded {
			srv := worker.NewServer(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Worker.Concurrency,
				tasks.SettlerFunc(func(ctx context.Context, ev chain.TransferDetected) error {
					_, err := engine.HandleTransfer(ctx, ev)
					return err
				}))
			srv.Start()
			closeClient := stopDispatch
			stopDispatch = func() {
				closeClient()
				srv.Stop()
			}
		}
		logger.Info("事件分发模式: asynq", zap.Bool("embedded_worker", cfg.Worker.Embedded))
	default:
		inline := service.NewInlineDispatcher(engine, cfg.App.EventWorkers, cfg.App.EventBuffer, logger.Log)
		inline.Start(ctx)
		dispatcher = inline
		stopDispatch = inline.Stop
		logger.Info("事件分发模式: inline", zap.Int("workers", cfg.App.EventWorkers))
	}

	// 8. 监听管理: 启动时同步 reconcile 一次
	supervisor := service.NewSupervisor(registry, factory, dispatcher, logger.Log)
	if err := supervisor.Start(ctx); err != nil {
		logger.Fatal("监听启动失败", zap.Error(err))
	}

	cronService := service.NewCronService(rdb, db, supervisor)
	cronService.Start()

	// 9. Outbox -> MQ
	producer := newProducer(cfg, rdb)
	relay := service.NewRelayService(db, producer, logger.Log)
	go relay.Start(ctx)

	// 10. HTTP / gRPC
	payments := service.NewPaymentService(registry, supervisor, intentCache, logger.Log)
	router := server.NewHTTPRouter(server.Handlers{
		Health:   handler.NewHealthHandler(cfg.App.Name, version, supervisor),
		Payments: handler.NewPaymentHandler(payments, logger.Log),
		Realtime: handler.NewWSHandler(hub, payments, logger.Log),
	})
	grpcServer := server.NewGRPCServer(payments)

	app, err := server.New(server.Config{
		HttpPort: cfg.App.HttpPort,
		GrpcPort: cfg.App.GrpcPort,
	}, router, grpcServer)
	if err != nil {
		logger.Fatal("应用启动失败", zap.Error(err))
	}

	// 退出顺序与注册相反: 先停监听, 再排空分发, 最后关闭连接
	app.OnShutdown(func(context.Context) { closeConnections(db, rdb) })
	app.OnShutdown(func(context.Context) {
		factory.Close()
		if bridge != nil {
			bridge.Close()
		}
		if c, ok := producer.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	})
	app.OnShutdown(func(context.Context) { cancel() })
	app.OnShutdown(func(context.Context) { stopDispatch() })
	app.OnShutdown(func(context.Context) { cronService.Stop() })
	app.OnShutdown(supervisor.Stop)

	app.Run(ctx)
	logger.Info("系统已退出")
}

// newProducer 按配置选择 Redis Streams 或 Kafka
func newProducer(cfg config.Config, rdb *redis.Client) mq.Producer {
	if cfg.MQ.Driver == "kafka" {
		logger.Info("使用 Kafka 作为消息队列...", zap.Strings("brokers", cfg.Kafka.Brokers))
		return mq.NewKafkaProducer(cfg.Kafka.Brokers)
	}
	logger.Info("使用 Redis Streams 作为消息队列...")
	return mq.NewRedisProducer(rdb, streamMaxLen)
}

func closeConnections(db *gorm.DB, rdb *redis.Client) {
	logger.Info("正在关闭数据库连接...")
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = rdb.Close()
}
