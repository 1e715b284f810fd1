package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/cache"
	"github.com/mubaid99/payments/pkg/errno"
)

type countingReconciler struct{ n int }

func (c *countingReconciler) Trigger() { c.n++ }

func TestPaymentServiceCreateTriggersReconcile(t *testing.T) {
	r, _ := newTestRegistry(t)
	rec := &countingReconciler{}
	svc := NewPaymentService(r, rec, nil, zap.NewNop())

	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{Network: "ethereum", Address: "bad"})
	assert.ErrorIs(t, err, errno.ErrInvalidAddress)
	assert.Equal(t, 0, rec.n)

	_, err = svc.CreateIntent(context.Background(), CreateIntentInput{Network: "ethereum", Address: testAddress})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.n)
}

func TestPaymentServiceCachesOnlyConfirmedIntents(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()
	mem := cache.NewMemoryCache(time.Minute, time.Minute)
	svc := NewPaymentService(r, nil, mem, zap.NewNop())
	intent := mustCreateIntent(t, r, "")

	got, err := svc.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPending())
	var cached model.PaymentIntent
	assert.Error(t, mem.Get(ctx, IntentCacheKey(intent.ID), &cached))

	_, err = r.AttachTransfer(ctx, intent.ID, toDetectedTransfer(nativeTransfer(testTxHash, "1.0")))
	require.NoError(t, err)
	got, err = svc.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentConfirmed, got.Status)

	// 之后即使数据库不可用也能读到缓存
	sqlDB, _ := db.DB()
	require.NoError(t, sqlDB.Close())
	got, err = svc.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, testTxHash, got.TxHash)

	_, err = svc.GetIntent(ctx, "missing")
	assert.Error(t, err)
}
