package service

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/internal/model"
)

const (
	testAddress = "0xAbC1230000000000000000000000000000000099"
	testRoom    = "0xabc1230000000000000000000000000000000099"
	testTxHash  = "0xdead00000000000000000000000000000000000000000000000000000000beef"
	testSender  = "0x1111111111111111111111111111111111111111"
	testUSDT    = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

// newTestDB 每个测试独立的内存 SQLite
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return db
}

func newTestRegistry(t *testing.T) (*RegistryService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewRegistryService(db, "mainnet", zap.NewNop()), db
}

type published struct {
	room    string
	event   string
	payload interface{}
}

// fakePublisher 记录所有推送
type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(room string, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{room: room, event: event, payload: payload})
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func nativeTransfer(txHash, amount string) chain.TransferDetected {
	return chain.TransferDetected{
		Network:     "ethereum",
		TxHash:      txHash,
		From:        testSender,
		To:          testAddress,
		Amount:      amount,
		AssetKind:   model.AssetNative,
		BlockNumber: 100,
	}
}

func mustCreateIntent(t *testing.T, r *RegistryService, expected string) *model.PaymentIntent {
	t.Helper()
	intent, err := r.CreateIntent(context.Background(), CreateIntentInput{
		Network:         "ethereum",
		Address:         testAddress,
		CoinName:        "ETH",
		ExpectedAmount:  expected,
		ClientReference: "client-1",
	})
	require.NoError(t, err)
	return intent
}
