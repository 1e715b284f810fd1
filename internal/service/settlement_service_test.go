package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/event"
	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/cache"
)

func newTestEngine(t *testing.T) (*SettlementService, *RegistryService, *fakePublisher) {
	t.Helper()
	r, _ := newTestRegistry(t)
	pub := &fakePublisher{}
	return NewSettlementService(r, pub, zap.NewNop()), r, pub
}

func TestSettlementEndToEnd(t *testing.T) {
	engine, r, pub := newTestEngine(t)
	ctx := context.Background()
	intent := mustCreateIntent(t, r, "5")

	ev := nativeTransfer(testTxHash, "5.0")
	ev.IntentID = intent.ID
	res, err := engine.HandleTransfer(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)

	got, err := r.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentConfirmed, got.Status)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, testRoom, msgs[0].room)
	assert.Equal(t, event.NamePaymentConfirmed, msgs[0].event)
	payload, ok := msgs[0].payload.(event.PaymentConfirmedEvent)
	require.True(t, ok)
	assert.Equal(t, event.PaymentConfirmedEvent{
		OrderID: intent.ID,
		TxHash:  testTxHash,
		From:    testSender,
		To:      testAddress,
		Amount:  "5.0",
		Chain:   "ethereum",
		Type:    "native",
	}, payload)
}

func TestSettlementDuplicateDeliveries(t *testing.T) {
	engine, r, pub := newTestEngine(t)
	ctx := context.Background()
	intent := mustCreateIntent(t, r, "")

	for i := 0; i < 5; i++ {
		ev := nativeTransfer(testTxHash, "1.0")
		ev.IntentID = intent.ID
		res, err := engine.HandleTransfer(ctx, ev)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeSettled, res.Outcome)
		} else {
			assert.Equal(t, OutcomeDuplicate, res.Outcome)
		}
	}
	assert.Len(t, pub.all(), 1)
}

func TestSettlementTieBreak(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   int // 期望匹配的意图下标
	}{
		{"exact amount wins over older intent", "20", 1},
		{"numeric equality", "20.0", 1},
		{"first intent exact", "10", 0},
		{"no exact match falls back to oldest", "15", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, r, _ := newTestEngine(t)
			ctx := context.Background()

			first := mustCreateIntent(t, r, "10")
			require.NoError(t, r.db.Model(first).Update("created_at", time.Now().Add(-time.Minute)).Error)
			second := mustCreateIntent(t, r, "20")
			intents := []*model.PaymentIntent{first, second}

			res, err := engine.HandleTransfer(ctx, nativeTransfer(testTxHash, tt.amount))
			require.NoError(t, err)
			assert.Equal(t, OutcomeSettled, res.Outcome)
			assert.Equal(t, intents[tt.want].ID, res.Intent.ID)

			other, err := r.GetIntent(ctx, intents[1-tt.want].ID)
			require.NoError(t, err)
			assert.True(t, other.IsPending())
		})
	}
}

func TestSettlementUnmatchedTransfer(t *testing.T) {
	engine, r, pub := newTestEngine(t)
	ctx := context.Background()

	res, err := engine.HandleTransfer(ctx, nativeTransfer(testTxHash, "3.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)
	assert.Nil(t, res.Transfer.RelatedIntentID)

	list, err := r.ListTransfersByAddress(ctx, testAddress, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].RelatedIntentID)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].payload.(event.PaymentConfirmedEvent).OrderID)
}

func TestSettlementTokenMustMatch(t *testing.T) {
	engine, r, _ := newTestEngine(t)
	ctx := context.Background()
	_ = mustCreateIntent(t, r, "") // 原生币意图不应被代币转账匹配

	ev := nativeTransfer(testTxHash, "20.0")
	ev.AssetKind = model.AssetToken
	ev.TokenContract = testUSDT
	res, err := engine.HandleTransfer(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)
}

func TestSettlementMissingIntentFallsBackToAddress(t *testing.T) {
	engine, r, _ := newTestEngine(t)
	intent := mustCreateIntent(t, r, "")

	ev := nativeTransfer(testTxHash, "1.0")
	ev.IntentID = "deleted-intent"
	res, err := engine.HandleTransfer(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.Equal(t, intent.ID, res.Intent.ID)
}

func TestSettlementRejectsMalformedEvents(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.HandleTransfer(context.Background(), nativeTransfer("", "1.0"))
	assert.Error(t, err)

	ev := nativeTransfer(testTxHash, "1.0")
	ev.Network = "dogecoin"
	_, err = engine.HandleTransfer(context.Background(), ev)
	assert.Error(t, err)
}

// fakeLock 内存锁
type fakeLock struct {
	held map[string]bool
	err  error
}

func (l *fakeLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context, key string) error {
	delete(l.held, key)
	return nil
}

func TestSettlementLock(t *testing.T) {
	engine, r, pub := newTestEngine(t)
	ctx := context.Background()
	intent := mustCreateIntent(t, r, "")

	locker := &fakeLock{held: map[string]bool{"payment:tx:ethereum:" + testTxHash: true}}
	engine.WithLock(locker)

	res, err := engine.HandleTransfer(ctx, nativeTransfer(testTxHash, "1.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Empty(t, pub.all())

	// 锁释放后正常结算, 结束后锁被归还
	delete(locker.held, "payment:tx:ethereum:"+testTxHash)
	res, err = engine.HandleTransfer(ctx, nativeTransfer(testTxHash, "1.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.Equal(t, intent.ID, res.Intent.ID)
	assert.Empty(t, locker.held)

	// Redis 不可用时仍然结算
	locker.err = errors.New("connection refused")
	res, err = engine.HandleTransfer(ctx, nativeTransfer("0xbeef", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)
}

func TestSettlementCachesConfirmedIntent(t *testing.T) {
	engine, r, _ := newTestEngine(t)
	ctx := context.Background()
	mem := cache.NewMemoryCache(time.Minute, time.Minute)
	engine.WithCache(mem)
	intent := mustCreateIntent(t, r, "")

	_, err := engine.HandleTransfer(ctx, nativeTransfer(testTxHash, "1.0"))
	require.NoError(t, err)

	var cached model.PaymentIntent
	require.NoError(t, mem.Get(ctx, IntentCacheKey(intent.ID), &cached))
	assert.Equal(t, model.IntentConfirmed, cached.Status)
	assert.Equal(t, testTxHash, cached.TxHash)
}

func TestPickIntent(t *testing.T) {
	assert.Nil(t, pickIntent(nil, "1"))

	list := []model.PaymentIntent{{ID: "a"}, {ID: "b", ExpectedAmount: "2"}, {ID: "c", ExpectedAmount: "2"}}
	assert.Equal(t, "b", pickIntent(list, "2.00").ID)
	assert.Equal(t, "a", pickIntent(list, "3").ID)
}
