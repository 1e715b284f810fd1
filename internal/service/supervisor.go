package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/monitor"
)

// watchKey WatchedAddress 的 key: (network, 归一化地址, 小写合约)
type watchKey struct {
	network string
	address string
	token   string
}

func keyOf(intent *model.PaymentIntent) watchKey {
	return watchKey{
		network: intent.Network,
		address: intent.AddressKey,
		token:   strings.ToLower(intent.TokenContract),
	}
}

type watchEntry struct {
	handle  chain.Handle
	intents map[string]struct{}
}

// WatchStatus 健康检查用的快照
type WatchStatus struct {
	Network       string `json:"network"`
	Address       string `json:"address"`
	TokenContract string `json:"token_contract,omitempty"`
	Intents       int    `json:"intents"`
	Healthy       bool   `json:"healthy"`
}

// Supervisor 维护 "每个 pending 意图的 (network, address, token) 恰好有一个监听"
type Supervisor struct {
	registry   PaymentRegistry
	adapters   AdapterProvider
	dispatcher Dispatcher
	log        *zap.Logger

	mu      sync.Mutex
	watches map[watchKey]*watchEntry

	// reconcileMu 保证同一时间只有一次 reconcile
	reconcileMu sync.Mutex
	trigger     chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewSupervisor(registry PaymentRegistry, adapters AdapterProvider, dispatcher Dispatcher, log *zap.Logger) *Supervisor {
	return &Supervisor{
		registry:   registry,
		adapters:   adapters,
		dispatcher: dispatcher,
		log:        log.Named("supervisor"),
		watches:    make(map[watchKey]*watchEntry),
		trigger:    make(chan struct{}, 1),
	}
}

// Start 同步完成首次 reconcile, 之后由 Trigger 驱动
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	if err := s.Reconcile(ctx); err != nil {
		cancel()
		close(s.done)
		return err
	}

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.trigger:
				if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
					s.log.Error("reconcile failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Trigger 请求一次 reconcile (新建意图后 / 定时任务), 不阻塞, 多次请求会合并
func (s *Supervisor) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop 停止所有监听, 最多等待 ctx 超时
func (s *Supervisor) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	s.mu.Lock()
	handles := make([]chain.Handle, 0, len(s.watches))
	for k, e := range s.watches {
		e.handle.Stop()
		handles = append(handles, e.handle)
		delete(s.watches, k)
	}
	s.mu.Unlock()

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			s.log.Warn("shutdown timed out waiting for watches")
			return
		}
	}
	s.log.Info("supervisor stopped", zap.Int("watches", len(handles)))
}

// Reconcile 加载所有 pending 意图:
// 1. 为没有监听的组合启动适配器 (已退出的监听也会重启)
// 2. 停掉不再被任何 pending 意图引用的监听
func (s *Supervisor) Reconcile(ctx context.Context) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	pending, err := s.registry.FindPendingIntents(ctx)
	if err != nil {
		return err
	}

	type group struct {
		first   *model.PaymentIntent // createdAt 最早的意图
		intents map[string]struct{}
	}
	groups := make(map[watchKey]*group)
	for i := range pending {
		intent := &pending[i]
		k := keyOf(intent)
		g, ok := groups[k]
		if !ok {
			g = &group{first: intent, intents: make(map[string]struct{})}
			groups[k] = g
		}
		g.intents[intent.ID] = struct{}{}
		if intent.CreatedAt.Before(g.first.CreatedAt) {
			g.first = intent
		}
	}

	started, stopped := 0, 0

	s.mu.Lock()
	// 不再需要的监听
	for k, e := range s.watches {
		if _, ok := groups[k]; ok {
			continue
		}
		e.handle.Stop()
		delete(s.watches, k)
		stopped++
	}
	s.mu.Unlock()

	for k, g := range groups {
		s.mu.Lock()
		e, ok := s.watches[k]
		if ok && !isDone(e.handle) {
			e.intents = g.intents
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		h, err := s.startWatch(ctx, k, g.first)
		if err != nil {
			s.log.Error("start watch failed",
				zap.String("network", k.network),
				zap.String("address", g.first.DestinationAddress),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.watches[k] = &watchEntry{handle: h, intents: g.intents}
		s.mu.Unlock()
		started++
	}

	s.publishSnapshot()
	if started > 0 || stopped > 0 {
		s.log.Info("reconciled",
			zap.Int("pending", len(pending)),
			zap.Int("started", started),
			zap.Int("stopped", stopped),
		)
	}
	return nil
}

func (s *Supervisor) startWatch(ctx context.Context, k watchKey, first *model.PaymentIntent) (chain.Handle, error) {
	adapter, err := s.adapters.Adapter(k.network)
	if err != nil {
		return nil, err
	}
	target := chain.Target{
		Network:       first.Network,
		Address:       first.DestinationAddress,
		TokenContract: first.TokenContract,
		Since:         first.CreatedAt,
	}
	return adapter.Start(ctx, target, func(ctx context.Context, ev chain.TransferDetected) {
		s.deliver(ctx, k, ev)
	})
}

// deliver 转发适配器事件; 组合已不再被监听时丢弃 (停止前仍在进行的轮询)
func (s *Supervisor) deliver(ctx context.Context, k watchKey, ev chain.TransferDetected) {
	s.mu.Lock()
	_, ok := s.watches[k]
	s.mu.Unlock()

	if !ok {
		s.log.Debug("discard event for unwatched address",
			zap.String("network", ev.Network), zap.String("tx_hash", ev.TxHash))
		return
	}
	if ev.IntentID == "" {
		ev.IntentID = s.soleIntent(ctx, k)
	}
	if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
		s.log.Error("dispatch transfer failed", zap.String("tx_hash", ev.TxHash), zap.Error(err))
	}
}

// soleIntent 组合当前恰好只有一个 pending 意图时返回其 ID
// 以数据库为准, 新建但尚未 reconcile 的意图也计入; 否则交给引擎按金额解析
func (s *Supervisor) soleIntent(ctx context.Context, k watchKey) string {
	pending, err := s.registry.FindPendingByAddress(ctx, k.network, k.address, k.token)
	if err != nil {
		s.log.Warn("load pending intents failed", zap.String("network", k.network), zap.Error(err))
		return ""
	}
	if len(pending) != 1 {
		return ""
	}
	return pending[0].ID
}

// Snapshot 当前监听状态, 按网络和地址排序
func (s *Supervisor) Snapshot() []WatchStatus {
	s.mu.Lock()
	list := make([]WatchStatus, 0, len(s.watches))
	for _, e := range s.watches {
		t := e.handle.Target()
		list = append(list, WatchStatus{
			Network:       t.Network,
			Address:       t.Address,
			TokenContract: t.TokenContract,
			Intents:       len(e.intents),
			Healthy:       e.handle.Healthy() && !isDone(e.handle),
		})
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Network != list[j].Network {
			return list[i].Network < list[j].Network
		}
		if list[i].Address != list[j].Address {
			return list[i].Address < list[j].Address
		}
		return list[i].TokenContract < list[j].TokenContract
	})
	return list
}

// Healthy 所有监听都健康
func (s *Supervisor) Healthy() bool {
	for _, w := range s.Snapshot() {
		if !w.Healthy {
			return false
		}
	}
	return true
}

func (s *Supervisor) publishSnapshot() {
	type agg struct {
		running int
		healthy bool
	}
	byNetwork := make(map[string]*agg)
	for _, w := range s.Snapshot() {
		a, ok := byNetwork[w.Network]
		if !ok {
			a = &agg{healthy: true}
			byNetwork[w.Network] = a
		}
		a.running++
		a.healthy = a.healthy && w.Healthy
	}
	for _, info := range chain.SupportedNetworks() {
		if a, ok := byNetwork[info.Name]; ok {
			monitor.AdapterSnapshot(info.Name, a.running, a.healthy)
		} else {
			monitor.AdapterSnapshot(info.Name, 0, true)
		}
	}
}

func isDone(h chain.Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}
