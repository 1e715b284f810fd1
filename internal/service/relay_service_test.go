package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/event"
	"github.com/mubaid99/payments/internal/model"
)

type producedMessage struct {
	topic, key string
	payload    []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []producedMessage
	err  error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, producedMessage{topic: topic, key: key, payload: payload})
	return nil
}

func TestRelayPublishesSettlementOutbox(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()
	intent := mustCreateIntent(t, r, "")
	_, err := r.AttachTransfer(ctx, intent.ID, toDetectedTransfer(nativeTransfer(testTxHash, "1.0")))
	require.NoError(t, err)

	producer := &fakeProducer{}
	relay := NewRelayService(db, producer, zap.NewNop())

	assert.Equal(t, 1, relay.ProcessPending(ctx))
	require.Len(t, producer.sent, 1)
	assert.Equal(t, event.TopicPaymentConfirmed, producer.sent[0].topic)
	assert.Equal(t, testRoom, producer.sent[0].key)
	assert.Contains(t, string(producer.sent[0].payload), `"txHash":"`+testTxHash+`"`)

	// 已投递的不会重发
	assert.Equal(t, 0, relay.ProcessPending(ctx))
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg).Error)
	assert.Equal(t, model.OutboxSent, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
}

func TestRelayCountsFailedAttempts(t *testing.T) {
	_, db := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, model.CreateOutboxMessage(db, event.TopicPaymentConfirmed, testRoom, map[string]string{"txHash": testTxHash}))

	producer := &fakeProducer{err: errors.New("broker unavailable")}
	relay := NewRelayService(db, producer, zap.NewNop())
	assert.Equal(t, 0, relay.ProcessPending(ctx))
	assert.Equal(t, 0, relay.ProcessPending(ctx))

	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg).Error)
	assert.Equal(t, model.OutboxPending, msg.Status)
	assert.Equal(t, 2, msg.Attempts)

	producer.err = nil
	assert.Equal(t, 1, relay.ProcessPending(ctx))
}
