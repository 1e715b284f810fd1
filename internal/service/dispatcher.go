package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/chain"
)

const (
	defaultEventWorkers = 4
	defaultEventBuffer  = 256
	handleAttempts      = 3
)

// ErrDispatcherClosed Stop 之后的 Dispatch
var ErrDispatcherClosed = errors.New("dispatcher closed")

// InlineDispatcher 进程内 worker 池: 带缓冲的 channel + N 个 goroutine
// 事件只在内存中, 进程退出时未处理的事件由下一次检测重新产生
type InlineDispatcher struct {
	handler TransferHandler
	workers int
	events  chan chain.TransferDetected
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewInlineDispatcher(handler TransferHandler, workers, buffer int, log *zap.Logger) *InlineDispatcher {
	if workers <= 0 {
		workers = defaultEventWorkers
	}
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &InlineDispatcher{
		handler: handler,
		workers: workers,
		events:  make(chan chain.TransferDetected, buffer),
		log:     log.Named("dispatcher"),
	}
}

func (d *InlineDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range d.events {
				d.handle(ctx, ev)
			}
		}()
	}
	d.log.Info("dispatcher started", zap.Int("workers", d.workers))
}

// Dispatch 缓冲区满时阻塞, 直到 ctx 取消
func (d *InlineDispatcher) Dispatch(ctx context.Context, ev chain.TransferDetected) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 不再接收新事件, 等待缓冲区中的事件处理完
func (d *InlineDispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("dispatcher stopped")
}

// handle 数据库等瞬时错误重试几次, 仍失败则放弃 (重复检测时会再次尝试)
func (d *InlineDispatcher) handle(ctx context.Context, ev chain.TransferDetected) {
	backoff := 200 * time.Millisecond
	for attempt := 1; ; attempt++ {
		_, err := d.handler.HandleTransfer(context.WithoutCancel(ctx), ev)
		if err == nil {
			return
		}
		if attempt >= handleAttempts {
			d.log.Error("drop transfer after retries",
				zap.String("tx_hash", ev.TxHash), zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return
		}
	}
}
