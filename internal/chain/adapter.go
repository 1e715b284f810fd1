package chain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/model"
)

// UnknownSender 无法从链上数据确定付款方时使用 (比如比特币多输入)
const UnknownSender = "unknown"

// degradedAfter 连续失败多少次后上报为不健康
const degradedAfter = 3

// defaultRetryDelay 连接失败后的重试间隔
const defaultRetryDelay = 5 * time.Second

// Target 一个被监听的 (网络, 地址, 代币) 组合
type Target struct {
	Network       string
	Address       string
	TokenContract string // 空表示原生币
	IntentID      string // 可选, 仅当该组合只对应一个收款意图时由上层填入
	// Since 为轮询类适配器提供初始高水位, 零值表示从当前时刻开始
	Since time.Time
}

// IsToken 是否监听代币转账
func (t Target) IsToken() bool {
	return t.TokenContract != ""
}

// TransferDetected 适配器发现的一笔入账 (已归一化)
type TransferDetected struct {
	Network       string
	TxHash        string
	From          string
	To            string
	Amount        string // 展示单位
	AssetKind     model.AssetKind
	TokenContract string
	BlockNumber   uint64
	IntentID      string
}

// Sink 接收适配器事件, 由 Supervisor 提供
type Sink func(ctx context.Context, ev TransferDetected)

// Adapter 一个链家族的监听实现
type Adapter interface {
	// Start 开始监听目标地址, 立即返回, 监听在后台 goroutine 中进行
	Start(ctx context.Context, target Target, sink Sink) (Handle, error)
}

// Handle 单个监听的生命周期句柄
type Handle interface {
	// Stop 取消订阅/定时器, 可重复调用, 不等待进行中的请求
	Stop()
	// Done 监听 goroutine 退出后关闭
	Done() <-chan struct{}
	// Healthy 连续失败超过阈值时返回 false
	Healthy() bool
	Target() Target
}

// watch Handle 的通用实现, 各适配器只负责 run 函数
type watch struct {
	target   Target
	sink     Sink
	log      *zap.Logger
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
	failures atomic.Int32
}

func startWatch(parent context.Context, target Target, sink Sink, log *zap.Logger, run func(ctx context.Context, w *watch)) *watch {
	ctx, cancel := context.WithCancel(parent)
	w := &watch{
		target: target,
		sink:   sink,
		log: log.With(
			zap.String("network", target.Network),
			zap.String("address", target.Address),
			zap.String("token", target.TokenContract),
		),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		defer cancel()
		w.log.Info("watch started")
		run(ctx, w)
		w.log.Info("watch stopped")
	}()
	return w
}

func (w *watch) Stop() {
	w.stopOnce.Do(w.cancel)
}

func (w *watch) Done() <-chan struct{} {
	return w.done
}

func (w *watch) Healthy() bool {
	return w.failures.Load() < degradedAfter
}

func (w *watch) Target() Target {
	return w.target
}

// fail 记录一次可恢复的错误 (AdapterTransient), 不终止监听
func (w *watch) fail(err error) {
	n := w.failures.Add(1)
	if n == degradedAfter {
		w.log.Error("adapter degraded", zap.Error(err), zap.Int32("failures", n))
		return
	}
	w.log.Warn("adapter transient error", zap.Error(err), zap.Int32("failures", n))
}

// ok 成功一次即恢复健康
func (w *watch) ok() {
	if w.failures.Swap(0) >= degradedAfter {
		w.log.Info("adapter recovered")
	}
}

func (w *watch) emit(ctx context.Context, ev TransferDetected) {
	if ctx.Err() != nil {
		return
	}
	ev.Network = w.target.Network
	ev.IntentID = w.target.IntentID
	w.log.Info("transfer detected",
		zap.String("tx_hash", ev.TxHash),
		zap.String("from", ev.From),
		zap.String("amount", ev.Amount),
		zap.String("kind", string(ev.AssetKind)),
	)
	w.sink(ctx, ev)
}

// sleepCtx 返回 false 表示 ctx 已取消
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
