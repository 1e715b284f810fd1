package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/model"
)

const (
	testEVMAddress = "0xAbC1230000000000000000000000000000000099"
	testTxHash     = "0xdead00000000000000000000000000000000000000000000000000000000beef"
)

// fakeEVM 内存版节点, 只支持轮询模式
type fakeEVM struct {
	mu        sync.Mutex
	head      uint64
	advance   bool // 每次 BlockNumber 之后 head+1
	blocks    map[uint64]*rpcBlock
	logs      []types.Log
	decimals  []byte
	requested []uint64
}

func (f *fakeEVM) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.head
	if f.advance {
		f.head++
	}
	return n, nil
}

func (f *fakeEVM) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("notifications not supported")
}

func (f *fakeEVM) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("notifications not supported")
}

func (f *fakeEVM) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeEVM) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.decimals == nil {
		return nil, errors.New("execution reverted")
	}
	return f.decimals, nil
}

func (f *fakeEVM) BlockByNumberRaw(ctx context.Context, number uint64) (*rpcBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, number)
	if blk, ok := f.blocks[number]; ok {
		return blk, nil
	}
	return &rpcBlock{Number: hexutil.Uint64(number)}, nil
}

func (f *fakeEVM) SupportsSubscriptions() bool { return false }
func (f *fakeEVM) Close()                      {}

func (f *fakeEVM) requestedBlocks() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.requested...)
}

func ether(n int64) *hexutil.Big {
	v := new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
	return (*hexutil.Big)(v)
}

func nativeBlock(number uint64, to string, value *hexutil.Big) *rpcBlock {
	dest := common.HexToAddress(to)
	other := common.HexToAddress("0x1111111111111111111111111111111111111111")
	return &rpcBlock{
		Number: hexutil.Uint64(number),
		Transactions: []rpcTx{
			{Hash: common.HexToHash("0x01"), From: dest, To: &other, Value: ether(1)},
			{Hash: common.HexToHash(testTxHash), From: other, To: &dest, Value: value},
			{Hash: common.HexToHash("0x02"), From: other, To: nil, Value: ether(0)},
		},
	}
}

func newTestEVMAdapter(t *testing.T, backend evmBackend, maxBackfill uint64) *EVMAdapter {
	t.Helper()
	a, err := NewEVMAdapter(EVMOptions{
		Network:      "ethereum",
		URL:          "http://127.0.0.1:8545",
		PollInterval: 10 * time.Millisecond,
		MaxBackfill:  maxBackfill,
		RetryDelay:   10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	a.dial = func(ctx context.Context, url string) (evmBackend, error) { return backend, nil }
	return a
}

// collector 收集适配器事件
type collector struct {
	mu     sync.Mutex
	events []TransferDetected
	ch     chan TransferDetected
}

func newCollector() *collector {
	return &collector{ch: make(chan TransferDetected, 16)}
}

func (c *collector) sink(ctx context.Context, ev TransferDetected) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	select {
	case c.ch <- ev:
	default:
	}
}

func (c *collector) wait(t *testing.T) TransferDetected {
	t.Helper()
	select {
	case ev := <-c.ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transfer event")
		return TransferDetected{}
	}
}

func testWatch(target Target, sink Sink) *watch {
	return &watch{target: target, sink: sink, log: zap.NewNop(), cancel: func() {}, done: make(chan struct{})}
}

func TestEVMScanBlockEmitsNativeTransfer(t *testing.T) {
	backend := &fakeEVM{blocks: map[uint64]*rpcBlock{100: nativeBlock(100, testEVMAddress, ether(5))}}
	a := newTestEVMAdapter(t, backend, 0)
	c := newCollector()
	w := testWatch(Target{Network: "ethereum", Address: testEVMAddress, IntentID: "intent-1"}, c.sink)

	require.NoError(t, a.scanBlock(context.Background(), backend, w, &evmCursor{decimals: 18}, 100))

	require.Len(t, c.events, 1)
	ev := c.events[0]
	assert.Equal(t, "ethereum", ev.Network)
	assert.Equal(t, testTxHash, ev.TxHash)
	assert.Equal(t, "5.0", ev.Amount)
	assert.Equal(t, testEVMAddress, ev.To)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", ev.From)
	assert.Equal(t, model.AssetNative, ev.AssetKind)
	assert.Equal(t, uint64(100), ev.BlockNumber)
	assert.Equal(t, "intent-1", ev.IntentID)
}

func TestEVMCatchUp(t *testing.T) {
	tests := []struct {
		name        string
		last        uint64
		head        uint64
		maxBackfill uint64
		want        []uint64
	}{
		{"first head scans only head", 0, 50, 64, []uint64{50}},
		{"gap is backfilled", 100, 103, 64, []uint64{101, 102, 103}},
		{"gap beyond window is truncated", 100, 110, 2, []uint64{109, 110}},
		{"stale head is ignored", 100, 99, 64, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeEVM{blocks: map[uint64]*rpcBlock{}}
			a := newTestEVMAdapter(t, backend, tt.maxBackfill)
			w := testWatch(Target{Network: "ethereum", Address: testEVMAddress}, func(context.Context, TransferDetected) {})
			cur := &evmCursor{last: tt.last, decimals: 18}

			require.NoError(t, a.catchUp(context.Background(), backend, w, cur, tt.head))
			assert.Equal(t, tt.want, backend.requestedBlocks())
			if tt.want != nil {
				assert.Equal(t, tt.head, cur.last)
			}
		})
	}
}

func TestDecodeTransferLog(t *testing.T) {
	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := common.HexToAddress(testEVMAddress)
	l := types.Log{
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(big.NewInt(2500000).Bytes(), 32),
		TxHash:      common.HexToHash(testTxHash),
		BlockNumber: 7,
	}

	ev, err := decodeTransferLog(l, 6)
	require.NoError(t, err)
	assert.Equal(t, "2.5", ev.Amount)
	assert.Equal(t, from.Hex(), ev.From)
	assert.Equal(t, model.AssetToken, ev.AssetKind)
	assert.Equal(t, uint64(7), ev.BlockNumber)

	l.Removed = true
	_, err = decodeTransferLog(l, 6)
	assert.Error(t, err)

	l.Removed = false
	l.Topics = l.Topics[:2]
	_, err = decodeTransferLog(l, 6)
	assert.ErrorIs(t, err, errNotTransfer)
}

func TestEVMAdapterPollsNativeTransfers(t *testing.T) {
	backend := &fakeEVM{
		head:    100,
		advance: true,
		blocks:  map[uint64]*rpcBlock{100: nativeBlock(100, testEVMAddress, ether(5))},
	}
	a := newTestEVMAdapter(t, backend, 0)
	c := newCollector()

	h, err := a.Start(context.Background(), Target{Network: "ethereum", Address: testEVMAddress}, c.sink)
	require.NoError(t, err)

	ev := c.wait(t)
	assert.Equal(t, testTxHash, ev.TxHash)
	assert.Equal(t, "5.0", ev.Amount)
	assert.True(t, h.Healthy())

	h.Stop()
	h.Stop() // 幂等
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestEVMAdapterPollsTokenTransfers(t *testing.T) {
	token := "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	backend := &fakeEVM{
		head:     200,
		advance:  true,
		decimals: common.LeftPadBytes(big.NewInt(6).Bytes(), 32),
		logs: []types.Log{{
			Address: common.HexToAddress(token),
			Topics: []common.Hash{
				transferTopic,
				common.BytesToHash(from.Bytes()),
				common.BytesToHash(common.HexToAddress(testEVMAddress).Bytes()),
			},
			Data:        common.LeftPadBytes(big.NewInt(20000000).Bytes(), 32),
			TxHash:      common.HexToHash(testTxHash),
			BlockNumber: 201,
		}},
	}
	a := newTestEVMAdapter(t, backend, 0)
	c := newCollector()

	h, err := a.Start(context.Background(), Target{Network: "ethereum", Address: testEVMAddress, TokenContract: token}, c.sink)
	require.NoError(t, err)
	defer h.Stop()

	ev := c.wait(t)
	assert.Equal(t, "20.0", ev.Amount)
	assert.Equal(t, model.AssetToken, ev.AssetKind)
	assert.Equal(t, token, ev.TokenContract)
	assert.Equal(t, testEVMAddress, ev.To)
}

func TestEVMAdapterRejectsBadTarget(t *testing.T) {
	a := newTestEVMAdapter(t, &fakeEVM{}, 0)
	_, err := a.Start(context.Background(), Target{Network: "ethereum", Address: "nope"}, func(context.Context, TransferDetected) {})
	assert.Error(t, err)

	_, err = NewEVMAdapter(EVMOptions{Network: "tron", URL: "http://x"}, zap.NewNop())
	assert.Error(t, err)
}

type fakeSubscription struct {
	errc chan error
}

func (s *fakeSubscription) Unsubscribe()      {}
func (s *fakeSubscription) Err() <-chan error { return s.errc }

// wsFakeEVM 支持日志订阅的节点, 记录最近一次返回的区块高度
type wsFakeEVM struct {
	*fakeEVM
	sub      *fakeSubscription
	lastSeen atomic.Uint64
}

func (f *wsFakeEVM) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := f.fakeEVM.BlockNumber(ctx)
	f.lastSeen.Store(n)
	return n, err
}

func (f *wsFakeEVM) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return f.sub, nil
}

func (f *wsFakeEVM) SupportsSubscriptions() bool { return true }

func (f *fakeEVM) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

func TestEVMLogSubscriptionAdvancesCursor(t *testing.T) {
	backend := &wsFakeEVM{fakeEVM: &fakeEVM{head: 100}, sub: &fakeSubscription{errc: make(chan error, 1)}}
	a := newTestEVMAdapter(t, backend, 64)
	w := testWatch(Target{Network: "ethereum", Address: testEVMAddress, TokenContract: "0xdAC17F958D2ee523a2206206994597C13D831ec7"}, newCollector().sink)
	cur := &evmCursor{decimals: 6}

	done := make(chan error, 1)
	go func() { done <- a.followLogs(context.Background(), backend, w, cur) }()

	// 订阅期间没有匹配的日志, 链继续出块
	require.Eventually(t, func() bool { return backend.lastSeen.Load() == 100 }, 3*time.Second, 5*time.Millisecond)
	backend.setHead(500)
	require.Eventually(t, func() bool { return backend.lastSeen.Load() == 500 }, 3*time.Second, 5*time.Millisecond)

	backend.sub.errc <- errors.New("websocket closed")
	require.Error(t, <-done)

	assert.Equal(t, uint64(499), cur.last)
	// 重连后从 500 回补, 不触发缺口跳过
	assert.Equal(t, uint64(500), a.backfillFrom(w, cur.last, 510))
}

func TestCheckpoint(t *testing.T) {
	cur := &evmCursor{last: 10}
	checkpoint(cur, 11)
	assert.Equal(t, uint64(10), cur.last)
	checkpoint(cur, 20)
	assert.Equal(t, uint64(19), cur.last)
	checkpoint(cur, 5)
	assert.Equal(t, uint64(19), cur.last)
}
