package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/internal/event"
	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/errno"
	"github.com/mubaid99/payments/pkg/monitor"
	"github.com/mubaid99/payments/pkg/units"
)

// RegistryService PaymentRegistry 的 gorm 实现
type RegistryService struct {
	db     *gorm.DB
	btcNet string
	topic  string
	log    *zap.Logger
}

func NewRegistryService(db *gorm.DB, btcNet string, log *zap.Logger) *RegistryService {
	return &RegistryService{db: db, btcNet: btcNet, topic: event.TopicPaymentConfirmed, log: log.Named("registry")}
}

// WithTopic 设置确认事件写入 outbox 的主题 (mq.topic), 空值保持默认
func (s *RegistryService) WithTopic(topic string) *RegistryService {
	if topic != "" {
		s.topic = topic
	}
	return s
}

func (s *RegistryService) CreateIntent(ctx context.Context, in CreateIntentInput) (*model.PaymentIntent, error) {
	info, ok := chain.Lookup(in.Network)
	if !ok {
		return nil, errno.ErrUnsupportedNetwork
	}
	addr := strings.TrimSpace(in.Address)
	if err := chain.ValidateAddress(info.Name, addr, s.btcNet); err != nil {
		return nil, err
	}
	token := strings.TrimSpace(in.TokenContract)
	if token != "" {
		if err := chain.ValidateToken(info.Name, token); err != nil {
			return nil, err
		}
	}
	expected := strings.TrimSpace(in.ExpectedAmount)
	if expected != "" {
		amount, err := units.ParseAmount(expected)
		if err != nil || !amount.IsPositive() {
			return nil, errno.ErrInvalidAmount
		}
	}

	intent := &model.PaymentIntent{
		ID:                 uuid.NewString(),
		Network:            info.Name,
		DestinationAddress: addr,
		AddressKey:         chain.AddressKey(info.Family, addr),
		TokenContract:      token,
		CoinName:           in.CoinName,
		ExpectedAmount:     expected,
		ClientReference:    in.ClientReference,
		Status:             model.IntentPending,
	}
	if err := s.db.WithContext(ctx).Create(intent).Error; err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	monitor.IntentCreated(intent.Network)
	s.log.Info("intent created",
		zap.String("intent_id", intent.ID),
		zap.String("network", intent.Network),
		zap.String("address", intent.DestinationAddress),
		zap.String("token", intent.TokenContract),
	)
	return intent, nil
}

func (s *RegistryService) FindPendingIntents(ctx context.Context) ([]model.PaymentIntent, error) {
	var list []model.PaymentIntent
	err := s.db.WithContext(ctx).
		Where("status = ?", model.IntentPending).
		Order("created_at asc").
		Find(&list).Error
	return list, err
}

func (s *RegistryService) FindPendingByAddress(ctx context.Context, network, address, tokenContract string) ([]model.PaymentIntent, error) {
	info, ok := chain.Lookup(network)
	if !ok {
		return nil, errno.ErrUnsupportedNetwork
	}
	q := s.db.WithContext(ctx).
		Where("network = ? AND address_key = ? AND status = ?", info.Name, chain.AddressKey(info.Family, address), model.IntentPending)
	if tokenContract == "" {
		q = q.Where("token_contract = ''")
	} else {
		// 合约地址在 EVM 上大小写不敏感
		q = q.Where("LOWER(token_contract) = ?", strings.ToLower(tokenContract))
	}

	var list []model.PaymentIntent
	err := q.Order("created_at asc").Find(&list).Error
	return list, err
}

// AttachTransfer 在一个事务中:
// 1. 锁定意图行
// 2. 按 txHash 插入转账, 冲突说明已处理过, 直接返回
// 3. 意图仍为 pending 时确认并写入 outbox
func (s *RegistryService) AttachTransfer(ctx context.Context, intentID string, transfer *model.DetectedTransfer) (*Settlement, error) {
	var result *Settlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var intent model.PaymentIntent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", intentID).
			First(&intent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errno.ErrIntentNotFound
			}
			return err
		}

		id := intent.ID
		transfer.RelatedIntentID = &id
		inserted, err := insertTransfer(tx, transfer)
		if err != nil {
			return err
		}
		if !inserted {
			result = &Settlement{Outcome: OutcomeDuplicate, Intent: &intent, Transfer: transfer}
			return nil
		}

		if !intent.IsPending() {
			result = &Settlement{Outcome: OutcomeAlreadySettled, Intent: &intent, Transfer: transfer}
			return nil
		}

		now := time.Now()
		if err := tx.Model(&intent).
			Where("status = ?", model.IntentPending).
			Updates(map[string]interface{}{
				"status":       model.IntentConfirmed,
				"tx_hash":      transfer.TxHash,
				"from_address": transfer.FromAddress,
				"paid_amount":  transfer.Amount,
				"confirmed_at": now,
			}).Error; err != nil {
			return err
		}
		intent.Status = model.IntentConfirmed
		intent.TxHash = transfer.TxHash
		intent.FromAddress = transfer.FromAddress
		intent.PaidAmount = transfer.Amount
		intent.ConfirmedAt = &now

		if err := model.CreateOutboxMessage(tx, s.topic, chain.RoomKey(intent.DestinationAddress),
			event.NewPaymentConfirmed(&intent, transfer)); err != nil {
			return err
		}

		result = &Settlement{Outcome: OutcomeSettled, Intent: &intent, Transfer: transfer}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RegistryService) RecordUnmatched(ctx context.Context, transfer *model.DetectedTransfer) (*Settlement, error) {
	transfer.RelatedIntentID = nil
	inserted, err := insertTransfer(s.db.WithContext(ctx), transfer)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &Settlement{Outcome: OutcomeDuplicate, Transfer: transfer}, nil
	}
	return &Settlement{Outcome: OutcomeUnmatched, Transfer: transfer}, nil
}

func (s *RegistryService) GetIntent(ctx context.Context, id string) (*model.PaymentIntent, error) {
	var intent model.PaymentIntent
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// ListTransfersByAddress 按收款地址倒序分页; 地址按小写比较, EVM 与 base58 共用
func (s *RegistryService) ListTransfersByAddress(ctx context.Context, address string, limit, offset int) ([]model.DetectedTransfer, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var list []model.DetectedTransfer
	err := s.db.WithContext(ctx).
		Where("LOWER(to_address) = ?", chain.RoomKey(address)).
		Order("detected_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&list).Error
	return list, err
}

// insertTransfer 插入转账, txHash 已存在时返回 false
func insertTransfer(tx *gorm.DB, transfer *model.DetectedTransfer) (bool, error) {
	if transfer.Status == "" {
		transfer.Status = model.TransferConfirmed
	}
	if transfer.DetectedAt.IsZero() {
		transfer.DetectedAt = time.Now()
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Create(transfer)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
