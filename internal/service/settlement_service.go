package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/internal/event"
	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/cache"
	"github.com/mubaid99/payments/pkg/errno"
	"github.com/mubaid99/payments/pkg/monitor"
	"github.com/mubaid99/payments/pkg/units"
	"github.com/mubaid99/payments/pkg/utils/lock"
)

const (
	txLockTTL      = 30 * time.Second
	intentCacheTTL = 10 * time.Minute
)

// IntentCacheKey 已确认意图的缓存 key
func IntentCacheKey(id string) string {
	return "payment:intent:" + id
}

// SettlementService 关联与结算引擎
// 去重由 registry 的唯一约束保证, 这里只负责找到意图并调用 AttachTransfer
type SettlementService struct {
	registry  PaymentRegistry
	publisher Publisher
	locker    lock.DistributedLock
	cache     cache.Cache
	log       *zap.Logger
}

func NewSettlementService(registry PaymentRegistry, publisher Publisher, log *zap.Logger) *SettlementService {
	return &SettlementService{registry: registry, publisher: publisher, log: log.Named("settlement")}
}

// WithLock 多实例部署时按 txHash 加锁, 并发的重复事件直接跳过
func (s *SettlementService) WithLock(l lock.DistributedLock) *SettlementService {
	s.locker = l
	return s
}

// WithCache 确认后写入意图缓存
func (s *SettlementService) WithCache(c cache.Cache) *SettlementService {
	s.cache = c
	return s
}

func (s *SettlementService) HandleTransfer(ctx context.Context, ev chain.TransferDetected) (*Settlement, error) {
	if ev.TxHash == "" || ev.To == "" {
		return nil, fmt.Errorf("malformed transfer event: tx=%q to=%q", ev.TxHash, ev.To)
	}
	if _, ok := chain.Lookup(ev.Network); !ok {
		return nil, errno.ErrUnsupportedNetwork
	}
	monitor.TransferDetected(ev.Network, string(ev.AssetKind))

	// 1. 尽力而为的分布式锁, Redis 不可用时退化为仅依赖唯一约束
	if s.locker != nil {
		key := "payment:tx:" + ev.Network + ":" + ev.TxHash
		locked, err := s.locker.Acquire(ctx, key, txLockTTL)
		switch {
		case err != nil:
			s.log.Warn("tx lock unavailable", zap.String("tx_hash", ev.TxHash), zap.Error(err))
		case !locked:
			s.log.Debug("tx already being settled", zap.String("tx_hash", ev.TxHash))
			return &Settlement{Outcome: OutcomeDuplicate}, nil
		default:
			defer s.locker.Release(context.WithoutCancel(ctx), key)
		}
	}

	// 2. 结算
	res, err := s.settle(ctx, ev)
	if err != nil {
		s.log.Error("settlement failed", zap.String("tx_hash", ev.TxHash), zap.String("network", ev.Network), zap.Error(err))
		return nil, err
	}
	monitor.Settlement(ev.Network, string(res.Outcome))

	fields := []zap.Field{
		zap.String("tx_hash", ev.TxHash),
		zap.String("network", ev.Network),
		zap.String("amount", ev.Amount),
		zap.String("outcome", string(res.Outcome)),
	}
	if res.Intent != nil {
		fields = append(fields, zap.String("intent_id", res.Intent.ID))
	}
	s.log.Info("transfer settled", fields...)

	// 3. 重复事件不推送, 其余情况推送到 lower(to) 房间
	if res.Outcome == OutcomeDuplicate {
		return res, nil
	}
	if res.Outcome == OutcomeSettled && s.cache != nil {
		if err := s.cache.Set(ctx, IntentCacheKey(res.Intent.ID), res.Intent, intentCacheTTL); err != nil {
			s.log.Warn("cache confirmed intent failed", zap.Error(err))
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(chain.RoomKey(ev.To), event.NamePaymentConfirmed, event.NewPaymentConfirmed(res.Intent, res.Transfer))
	}
	return res, nil
}

func (s *SettlementService) settle(ctx context.Context, ev chain.TransferDetected) (*Settlement, error) {
	transfer := toDetectedTransfer(ev)

	if ev.IntentID != "" {
		res, err := s.registry.AttachTransfer(ctx, ev.IntentID, transfer)
		if !errors.Is(err, errno.ErrIntentNotFound) {
			return res, err
		}
		s.log.Warn("intent from event not found, resolving by address",
			zap.String("intent_id", ev.IntentID), zap.String("tx_hash", ev.TxHash))
	}

	candidates, err := s.registry.FindPendingByAddress(ctx, ev.Network, ev.To, ev.TokenContract)
	if err != nil {
		return nil, err
	}
	intent := pickIntent(candidates, ev.Amount)
	if intent == nil {
		return s.registry.RecordUnmatched(ctx, transfer)
	}
	return s.registry.AttachTransfer(ctx, intent.ID, transfer)
}

// pickIntent 多个 pending 意图共享地址时: 优先金额精确相等的, 否则取最早创建的
// candidates 已按 createdAt 升序
func pickIntent(candidates []model.PaymentIntent, amount string) *model.PaymentIntent {
	if len(candidates) == 0 {
		return nil
	}
	for i := range candidates {
		if candidates[i].ExpectedAmount != "" && units.Equal(candidates[i].ExpectedAmount, amount) {
			return &candidates[i]
		}
	}
	return &candidates[0]
}

func toDetectedTransfer(ev chain.TransferDetected) *model.DetectedTransfer {
	info, _ := chain.Lookup(ev.Network)
	from := ev.From
	if from == "" {
		from = chain.UnknownSender
	}
	return &model.DetectedTransfer{
		TxHash:        ev.TxHash,
		Network:       info.Name,
		FromAddress:   from,
		ToAddress:     ev.To,
		AddressKey:    chain.AddressKey(info.Family, ev.To),
		Amount:        ev.Amount,
		AssetKind:     ev.AssetKind,
		TokenContract: ev.TokenContract,
		BlockNumber:   ev.BlockNumber,
		Status:        model.TransferConfirmed,
		DetectedAt:    time.Now(),
	}
}
