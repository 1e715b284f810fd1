package model

import (
	"time"
)

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
)

type AssetKind string

const (
	AssetNative AssetKind = "native"
	AssetToken  AssetKind = "token"
)

// TransferConfirmed DetectedTransfer 只在满足确认条件后落库, 状态恒为 confirmed
const TransferConfirmed = "confirmed"

// PaymentIntent 收款意图 (二维码订单)
// 状态机: pending -> confirmed, 只变更一次, 永不删除
type PaymentIntent struct {
	ID                 string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Network            string `gorm:"type:varchar(32);not null;index:idx_intent_watch,priority:1" json:"network"`
	DestinationAddress string `gorm:"type:varchar(128);not null" json:"destination_address"`
	// AddressKey 归一化后的地址 (EVM 小写, base58 原样), 用于按地址反查
	AddressKey      string       `gorm:"type:varchar(128);not null;index:idx_intent_watch,priority:2" json:"-"`
	TokenContract   string       `gorm:"type:varchar(128);not null;default:''" json:"token_contract,omitempty"`
	CoinName        string       `gorm:"type:varchar(32);not null;default:''" json:"coin_name,omitempty"`
	ExpectedAmount  string       `gorm:"type:varchar(80);not null;default:''" json:"expected_amount,omitempty"` // Decimal string, 空表示不限金额
	ClientReference string       `gorm:"type:varchar(128);not null;index" json:"client_reference"`
	Status          IntentStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_intent_watch,priority:3" json:"status"`

	// 确认后回填
	TxHash      string     `gorm:"type:varchar(128);not null;default:''" json:"tx_hash,omitempty"`
	FromAddress string     `gorm:"type:varchar(128);not null;default:''" json:"from_address,omitempty"`
	PaidAmount  string     `gorm:"type:varchar(80);not null;default:''" json:"paid_amount,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// IsPending 是否仍在等待链上付款
func (p *PaymentIntent) IsPending() bool {
	return p.Status == IntentPending
}

// DetectedTransfer 链上已确认的一笔入账
// TxHash 全局唯一, 是去重的唯一依据
type DetectedTransfer struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash          string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"tx_hash"`
	Network         string    `gorm:"type:varchar(32);not null" json:"network"`
	FromAddress     string    `gorm:"type:varchar(128);not null" json:"from_address"`
	ToAddress       string    `gorm:"type:varchar(128);not null" json:"to_address"`
	AddressKey      string    `gorm:"type:varchar(128);not null;index" json:"-"`
	Amount          string    `gorm:"type:varchar(80);not null" json:"amount"` // 展示单位 (ETH 而不是 wei)
	AssetKind       AssetKind `gorm:"type:varchar(16);not null" json:"asset_kind"`
	TokenContract   string    `gorm:"type:varchar(128);not null;default:''" json:"token_contract,omitempty"`
	BlockNumber     uint64    `gorm:"not null;default:0" json:"block_number,omitempty"`
	RelatedIntentID *string   `gorm:"type:varchar(36);index" json:"related_intent_id"`
	Status          string    `gorm:"type:varchar(16);not null;default:'confirmed'" json:"status"`
	DetectedAt      time.Time `gorm:"not null" json:"detected_at"`
}

func (DetectedTransfer) TableName() string {
	return "detected_transfers"
}

// URI 钱包可识别的收款链接: <network>:<address>?orderId=<id>[&token=<contract>][&amount=<amount>]
func (p *PaymentIntent) URI() string {
	uri := p.Network + ":" + p.DestinationAddress + "?orderId=" + p.ID
	if p.TokenContract != "" {
		uri += "&token=" + p.TokenContract
	}
	if p.ExpectedAmount != "" {
		uri += "&amount=" + p.ExpectedAmount
	}
	return uri
}
