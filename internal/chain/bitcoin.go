package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/units"
)

const (
	defaultBTCPollInterval = 60 * time.Second
	defaultBTCMaxBackfill  = 6
	satoshiDecimals        = 8
)

// btcBackend bitcoind JSON-RPC, *rpcclient.Client 满足该接口
type btcBackend interface {
	GetBlockCount() (int64, error)
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
	Shutdown()
}

// BitcoinOptions bitcoind 接入参数, Host 不带 scheme
type BitcoinOptions struct {
	Network      string
	Host         string
	User         string
	Password     string
	TLS          bool
	PollInterval time.Duration
	MaxBackfill  int64
}

// BitcoinAdapter 按区块高度轮询, 扫描输出中付给目标地址的部分
type BitcoinAdapter struct {
	opts   BitcoinOptions
	client btcBackend
	log    *zap.Logger
}

func NewBitcoinAdapter(opts BitcoinOptions, log *zap.Logger) (*BitcoinAdapter, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%s: rpc host not configured", opts.Network)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultBTCPollInterval
	}
	if opts.MaxBackfill <= 0 {
		opts.MaxBackfill = defaultBTCMaxBackfill
	}
	host := opts.Host
	for _, scheme := range []string{"http://", "https://"} {
		host = strings.TrimPrefix(host, scheme)
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         opts.User,
		Pass:         opts.Password,
		HTTPPostMode: true,
		DisableTLS:   !opts.TLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoin rpc client: %w", err)
	}
	return &BitcoinAdapter{opts: opts, client: client, log: log.Named(opts.Network)}, nil
}

// Close 释放 rpc 连接, 所有监听停止后调用
func (a *BitcoinAdapter) Close() {
	a.client.Shutdown()
}

func (a *BitcoinAdapter) Start(ctx context.Context, target Target, sink Sink) (Handle, error) {
	if target.IsToken() {
		return nil, fmt.Errorf("bitcoin: token transfers are not supported")
	}
	return startWatch(ctx, target, sink, a.log, a.run), nil
}

func (a *BitcoinAdapter) run(ctx context.Context, w *watch) {
	var last int64

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		next, err := a.poll(ctx, w, last)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.fail(err)
		} else {
			w.ok()
		}
		last = next

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll 扫描 (last, tip] 并返回已处理到的高度; 首次只扫当前块
func (a *BitcoinAdapter) poll(ctx context.Context, w *watch, last int64) (int64, error) {
	tip, err := a.client.GetBlockCount()
	if err != nil {
		return last, fmt.Errorf("getblockcount: %w", err)
	}
	if tip <= last {
		return last, nil
	}

	from := last + 1
	if last == 0 {
		from = tip
	}
	if tip-from+1 > a.opts.MaxBackfill {
		w.log.Warn("block gap exceeds backfill window, skipping",
			zap.Int64("from", from), zap.Int64("tip", tip))
		from = tip - a.opts.MaxBackfill + 1
	}

	for h := from; h <= tip; h++ {
		if ctx.Err() != nil {
			return last, nil
		}
		if err := a.scanHeight(ctx, w, h); err != nil {
			return last, err
		}
		last = h
	}
	return last, nil
}

type btcScript struct {
	Address   string   `json:"address"`
	Addresses []string `json:"addresses"`
	Type      string   `json:"type"`
}

type btcVin struct {
	Coinbase string `json:"coinbase"`
	Prevout  *struct {
		ScriptPubKey btcScript `json:"scriptPubKey"`
	} `json:"prevout"`
}

type btcVout struct {
	Value        json.Number `json:"value"`
	N            uint32      `json:"n"`
	ScriptPubKey btcScript   `json:"scriptPubKey"`
}

type btcTx struct {
	Txid string    `json:"txid"`
	Vin  []btcVin  `json:"vin"`
	Vout []btcVout `json:"vout"`
}

type btcBlock struct {
	Hash   string  `json:"hash"`
	Height int64   `json:"height"`
	Tx     []btcTx `json:"tx"`
}

func (a *BitcoinAdapter) scanHeight(ctx context.Context, w *watch, height int64) error {
	hash, err := a.client.GetBlockHash(height)
	if err != nil {
		return fmt.Errorf("getblockhash %d: %w", height, err)
	}
	hashParam, _ := json.Marshal(hash.String())
	raw, err := a.client.RawRequest("getblock", []json.RawMessage{hashParam, json.RawMessage("2")})
	if err != nil {
		return fmt.Errorf("getblock %s: %w", hash, err)
	}
	var blk btcBlock
	if err := json.Unmarshal(raw, &blk); err != nil {
		return fmt.Errorf("decode block %s: %w", hash, err)
	}

	for _, tx := range blk.Tx {
		received, err := paidTo(tx, w.target.Address)
		if err != nil {
			w.log.Warn("skip tx with malformed output", zap.String("txid", tx.Txid), zap.Error(err))
			continue
		}
		if received.Sign() <= 0 {
			continue
		}
		w.emit(ctx, TransferDetected{
			TxHash:      tx.Txid,
			From:        senderOf(tx),
			To:          w.target.Address,
			Amount:      units.FormatUnits(received, satoshiDecimals),
			AssetKind:   model.AssetNative,
			BlockNumber: uint64(height),
		})
	}
	return nil
}

// paidTo 累加同一笔交易中付给目标地址的所有输出 (satoshi)
// 只识别带 address/addresses 字段的脚本, 裸多签不在此列
func paidTo(tx btcTx, dest string) (*big.Int, error) {
	total := new(big.Int)
	for _, out := range tx.Vout {
		if !scriptPays(out.ScriptPubKey, dest) {
			continue
		}
		btc, err := decimal.NewFromString(out.Value.String())
		if err != nil {
			return nil, err
		}
		total.Add(total, btc.Shift(satoshiDecimals).BigInt())
	}
	return total, nil
}

func scriptPays(s btcScript, dest string) bool {
	if sameBTCAddress(s.Address, dest) {
		return true
	}
	for _, addr := range s.Addresses {
		if sameBTCAddress(addr, dest) {
			return true
		}
	}
	return false
}

// sameBTCAddress bech32 不区分大小写, base58 区分
func sameBTCAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	lower := strings.ToLower(b)
	if strings.HasPrefix(lower, "bc1") || strings.HasPrefix(lower, "tb1") || strings.HasPrefix(lower, "bcrt1") {
		return strings.EqualFold(a, b)
	}
	return false
}

// senderOf 只有所有输入来自同一地址时才能确定付款方 (需要 prevout, 即 verbosity 3)
func senderOf(tx btcTx) string {
	sender := ""
	for _, in := range tx.Vin {
		if in.Coinbase != "" || in.Prevout == nil || in.Prevout.ScriptPubKey.Address == "" {
			return UnknownSender
		}
		addr := in.Prevout.ScriptPubKey.Address
		if sender != "" && sender != addr {
			return UnknownSender
		}
		sender = addr
	}
	if sender == "" {
		return UnknownSender
	}
	return sender
}
