package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/cache"
)

// PaymentService HTTP / gRPC 使用的门面: 创建意图后立即触发监听, 读路径走缓存
type PaymentService struct {
	registry   PaymentRegistry
	reconciler Reconciler
	cache      cache.Cache
	log        *zap.Logger
}

func NewPaymentService(registry PaymentRegistry, reconciler Reconciler, c cache.Cache, log *zap.Logger) *PaymentService {
	return &PaymentService{registry: registry, reconciler: reconciler, cache: c, log: log.Named("payment")}
}

func (s *PaymentService) CreateIntent(ctx context.Context, in CreateIntentInput) (*model.PaymentIntent, error) {
	intent, err := s.registry.CreateIntent(ctx, in)
	if err != nil {
		return nil, err
	}
	// 不等下一次定时任务, 新意图马上开始监听
	if s.reconciler != nil {
		s.reconciler.Trigger()
	}
	return intent, nil
}

// GetIntent 已确认的意图不可变, 可以放心缓存; pending 的每次查库
func (s *PaymentService) GetIntent(ctx context.Context, id string) (*model.PaymentIntent, error) {
	if s.cache != nil {
		var cached model.PaymentIntent
		if err := s.cache.Get(ctx, IntentCacheKey(id), &cached); err == nil {
			return &cached, nil
		}
	}

	intent, err := s.registry.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && !intent.IsPending() {
		if err := s.cache.Set(ctx, IntentCacheKey(id), intent, intentCacheTTL); err != nil {
			s.log.Warn("cache intent failed", zap.String("intent_id", id), zap.Error(err))
		}
	}
	return intent, nil
}

func (s *PaymentService) ListTransfers(ctx context.Context, address string, limit, offset int) ([]model.DetectedTransfer, error) {
	return s.registry.ListTransfersByAddress(ctx, address, limit, offset)
}

func (s *PaymentService) PendingIntents(ctx context.Context) ([]model.PaymentIntent, error) {
	return s.registry.FindPendingIntents(ctx)
}
