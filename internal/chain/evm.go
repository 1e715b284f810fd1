package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/units"
)

// transferTopic keccak256("Transfer(address,address,uint256)")
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// decimalsSelector decimals() 的函数选择器
var decimalsSelector = hexutil.MustDecode("0x313ce567")

const (
	defaultEVMPollInterval = 12 * time.Second
	defaultMaxBackfill     = 64
)

// rpcBlock eth_getBlockByNumber(full=true) 的最小解码结构
// 不使用 types.Block, 避免 L2 特有交易类型解码失败
type rpcBlock struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	Transactions []rpcTx        `json:"transactions"`
}

type rpcTx struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
}

// evmBackend 适配器需要的节点能力, 便于测试替换
type evmBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockByNumberRaw(ctx context.Context, number uint64) (*rpcBlock, error)
	SupportsSubscriptions() bool
	Close()
}

// gethBackend ethclient + 原始 rpc 调用
type gethBackend struct {
	*ethclient.Client
	raw       *rpc.Client
	websocket bool
}

func dialGeth(ctx context.Context, url string) (evmBackend, error) {
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	ws := strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
	return &gethBackend{Client: ethclient.NewClient(raw), raw: raw, websocket: ws}, nil
}

func (b *gethBackend) BlockByNumberRaw(ctx context.Context, number uint64) (*rpcBlock, error) {
	var blk *rpcBlock
	if err := b.raw.CallContext(ctx, &blk, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		return nil, err
	}
	if blk == nil {
		return nil, ethereum.NotFound
	}
	return blk, nil
}

func (b *gethBackend) SupportsSubscriptions() bool {
	return b.websocket
}

// EVMOptions EVM 家族单个网络的配置
type EVMOptions struct {
	Network string
	// URL 优先使用 ws 端点 (支持订阅), 只有 http 时退化为轮询
	URL          string
	PollInterval time.Duration
	MaxBackfill  uint64
	Decimals     map[string]int // 小写合约地址 -> 精度
	RetryDelay   time.Duration
}

// EVMAdapter 监听 EVM 链上的原生币 / ERC-20 入账
type EVMAdapter struct {
	opts   EVMOptions
	native int32
	dial   func(ctx context.Context, url string) (evmBackend, error)
	log    *zap.Logger
}

func NewEVMAdapter(opts EVMOptions, log *zap.Logger) (*EVMAdapter, error) {
	info, ok := Lookup(opts.Network)
	if !ok || info.Family != FamilyEVM {
		return nil, fmt.Errorf("%s is not an evm network", opts.Network)
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("%s: rpc url not configured", opts.Network)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultEVMPollInterval
	}
	if opts.MaxBackfill == 0 {
		opts.MaxBackfill = defaultMaxBackfill
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	decimals := make(map[string]int, len(opts.Decimals))
	for k, v := range opts.Decimals {
		decimals[strings.ToLower(k)] = v
	}
	opts.Decimals = decimals

	return &EVMAdapter{
		opts:   opts,
		native: info.Decimals,
		dial:   dialGeth,
		log:    log.Named(opts.Network),
	}, nil
}

func (a *EVMAdapter) Start(ctx context.Context, target Target, sink Sink) (Handle, error) {
	if !common.IsHexAddress(target.Address) {
		return nil, fmt.Errorf("invalid evm address %q", target.Address)
	}
	if target.IsToken() && !common.IsHexAddress(target.TokenContract) {
		return nil, fmt.Errorf("invalid evm token contract %q", target.TokenContract)
	}
	return startWatch(ctx, target, sink, a.log, a.run), nil
}

// evmCursor 单个监听的处理进度 (高水位)
type evmCursor struct {
	last     uint64 // 已处理的最高区块, 0 表示尚未开始
	decimals int32
}

// run 连接 -> 跟随新区块 -> 出错重连, 直到 ctx 取消
func (a *EVMAdapter) run(ctx context.Context, w *watch) {
	cur := &evmCursor{decimals: a.native}
	resolved := !w.target.IsToken()

	for ctx.Err() == nil {
		backend, err := a.dial(ctx, a.opts.URL)
		if err != nil {
			w.fail(fmt.Errorf("dial: %w", err))
			if !sleepCtx(ctx, a.opts.RetryDelay) {
				return
			}
			continue
		}

		if !resolved {
			cur.decimals = a.tokenDecimals(ctx, backend, w.target.TokenContract)
			resolved = true
		}

		if w.target.IsToken() {
			err = a.followLogs(ctx, backend, w, cur)
		} else {
			err = a.followHeads(ctx, backend, w, cur)
		}
		backend.Close()

		if err != nil && ctx.Err() == nil {
			w.fail(err)
			if !sleepCtx(ctx, a.opts.RetryDelay) {
				return
			}
		}
	}
}

// tokenDecimals 配置优先, 其次链上 decimals(), 都失败用 18
func (a *EVMAdapter) tokenDecimals(ctx context.Context, b evmBackend, contract string) int32 {
	if d, ok := a.opts.Decimals[strings.ToLower(contract)]; ok {
		return int32(d)
	}
	to := common.HexToAddress(contract)
	out, err := b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: decimalsSelector}, nil)
	if err != nil || len(out) == 0 {
		a.log.Warn("decimals() unavailable, falling back to 18", zap.String("token", contract), zap.Error(err))
		return 18
	}
	d := new(big.Int).SetBytes(out)
	if !d.IsInt64() || d.Int64() > 77 {
		return 18
	}
	return int32(d.Int64())
}

// nextHeads 把新区块号通过 channel 推出: ws 走订阅, http 走轮询
func (a *EVMAdapter) nextHeads(ctx context.Context, b evmBackend, out chan<- uint64) error {
	if b.SupportsSubscriptions() {
		headers := make(chan *types.Header, 16)
		sub, err := b.SubscribeNewHead(ctx, headers)
		if err != nil {
			return fmt.Errorf("subscribe new heads: %w", err)
		}
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-sub.Err():
				return fmt.Errorf("head subscription: %w", err)
			case h := <-headers:
				if h == nil || h.Number == nil {
					continue
				}
				select {
				case out <- h.Number.Uint64():
				case <-ctx.Done():
					return nil
				}
			}
		}
	}

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		n, err := b.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("block number: %w", err)
		}
		select {
		case out <- n:
		case <-ctx.Done():
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *EVMAdapter) followHeads(ctx context.Context, b evmBackend, w *watch, cur *evmCursor) error {
	heads := make(chan uint64, 16)
	errc := make(chan error, 1)
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { errc <- a.nextHeads(hctx, b, heads) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case head := <-heads:
			if err := a.catchUp(ctx, b, w, cur, head); err != nil {
				w.fail(err)
				continue
			}
			w.ok()
		}
	}
}

// backfillFrom 计算本次需要扫描的起点: 首次只看当前块, 缺口最多回补 MaxBackfill 个块
func (a *EVMAdapter) backfillFrom(w *watch, last, head uint64) uint64 {
	if last == 0 {
		return head
	}
	from := last + 1
	if head >= from && head-from+1 > a.opts.MaxBackfill {
		skipped := head - from + 1 - a.opts.MaxBackfill
		from = head - a.opts.MaxBackfill + 1
		w.log.Warn("block gap exceeds backfill window, skipping",
			zap.Uint64("skipped", skipped), zap.Uint64("from", from), zap.Uint64("head", head))
	}
	return from
}

// catchUp 按顺序扫描 (last, head], 任一块失败即停止, 下一个 head 时从失败处继续
func (a *EVMAdapter) catchUp(ctx context.Context, b evmBackend, w *watch, cur *evmCursor, head uint64) error {
	if cur.last != 0 && head <= cur.last {
		return nil
	}
	for n := a.backfillFrom(w, cur.last, head); n <= head; n++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := a.scanBlock(ctx, b, w, cur, n); err != nil {
			return fmt.Errorf("scan block %d: %w", n, err)
		}
		cur.last = n
	}
	return nil
}

// scanBlock 查找区块内 to == 目标地址且 value > 0 的交易
func (a *EVMAdapter) scanBlock(ctx context.Context, b evmBackend, w *watch, cur *evmCursor, number uint64) error {
	blk, err := b.BlockByNumberRaw(ctx, number)
	if err != nil {
		return err
	}
	dest := common.HexToAddress(w.target.Address)
	for _, tx := range blk.Transactions {
		if tx.To == nil || *tx.To != dest || tx.Value == nil {
			continue
		}
		value := tx.Value.ToInt()
		if value.Sign() <= 0 {
			continue
		}
		w.emit(ctx, TransferDetected{
			TxHash:      tx.Hash.Hex(),
			From:        tx.From.Hex(),
			To:          w.target.Address,
			Amount:      units.FormatUnits(value, cur.decimals),
			AssetKind:   model.AssetNative,
			BlockNumber: number,
		})
	}
	return nil
}

func (a *EVMAdapter) transferQuery(w *watch) ethereum.FilterQuery {
	toTopic := common.BytesToHash(common.HexToAddress(w.target.Address).Bytes())
	return ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(w.target.TokenContract)},
		Topics:    [][]common.Hash{{transferTopic}, nil, {toTopic}},
	}
}

// followLogs 代币监听: 先用 eth_getLogs 回补缺口, 再订阅 (或轮询) 新日志
func (a *EVMAdapter) followLogs(ctx context.Context, b evmBackend, w *watch, cur *evmCursor) error {
	head, err := b.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	if cur.last == 0 {
		cur.last = head
	} else if err := a.replayLogs(ctx, b, w, cur, head); err != nil {
		return err
	}
	w.ok()

	if b.SupportsSubscriptions() {
		logs := make(chan types.Log, 64)
		sub, err := b.SubscribeFilterLogs(ctx, a.transferQuery(w), logs)
		if err != nil {
			return fmt.Errorf("subscribe logs: %w", err)
		}
		defer sub.Unsubscribe()

		// 订阅期间定期推进高水位, 重连后只需回补断开期间的区块
		checkpoints := time.NewTicker(a.opts.PollInterval)
		defer checkpoints.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-sub.Err():
				return fmt.Errorf("log subscription: %w", err)
			case l := <-logs:
				a.handleLog(ctx, w, cur, l)
			case <-checkpoints.C:
				head, err := b.BlockNumber(ctx)
				if err != nil {
					w.fail(fmt.Errorf("block number: %w", err))
					continue
				}
				checkpoint(cur, head)
			}
		}
	}

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		head, err := b.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("block number: %w", err)
		}
		if err := a.replayLogs(ctx, b, w, cur, head); err != nil {
			return err
		}
		w.ok()
	}
}

func (a *EVMAdapter) replayLogs(ctx context.Context, b evmBackend, w *watch, cur *evmCursor, head uint64) error {
	if head <= cur.last {
		return nil
	}
	from := a.backfillFrom(w, cur.last, head)
	q := a.transferQuery(w)
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(head)
	logs, err := b.FilterLogs(ctx, q)
	if err != nil {
		return fmt.Errorf("filter logs %d-%d: %w", from, head, err)
	}
	for _, l := range logs {
		a.handleLog(ctx, w, cur, l)
	}
	cur.last = head
	return nil
}

// checkpoint 把高水位推进到 head-1, 最新一块留给重连后回补 (日志可能晚于区块头到达)
func checkpoint(cur *evmCursor, head uint64) {
	if head > cur.last+1 {
		cur.last = head - 1
	}
}

func (a *EVMAdapter) handleLog(ctx context.Context, w *watch, cur *evmCursor, l types.Log) {
	ev, err := decodeTransferLog(l, cur.decimals)
	if err != nil {
		w.log.Debug("skip log", zap.String("tx_hash", l.TxHash.Hex()), zap.Error(err))
		return
	}
	ev.To = w.target.Address
	ev.TokenContract = w.target.TokenContract
	if l.BlockNumber > cur.last {
		cur.last = l.BlockNumber
	}
	w.emit(ctx, ev)
}

var errNotTransfer = errors.New("not an erc20 transfer log")

// decodeTransferLog 解析 Transfer(address indexed from, address indexed to, uint256 value)
func decodeTransferLog(l types.Log, decimals int32) (TransferDetected, error) {
	if l.Removed {
		return TransferDetected{}, errors.New("log removed by reorg")
	}
	if len(l.Topics) != 3 || l.Topics[0] != transferTopic {
		return TransferDetected{}, errNotTransfer
	}
	value := new(big.Int).SetBytes(l.Data)
	if value.Sign() <= 0 {
		return TransferDetected{}, errors.New("zero value transfer")
	}
	return TransferDetected{
		TxHash:      l.TxHash.Hex(),
		From:        common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		To:          common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
		Amount:      units.FormatUnits(value, decimals),
		AssetKind:   model.AssetToken,
		BlockNumber: l.BlockNumber,
	}, nil
}
