package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/units"
)

const (
	// solanaFetchAttempts 日志推送可能早于交易可查询, 单个签名最多查询的次数
	solanaFetchAttempts       = 5
	defaultSolanaFetchBackoff = 500 * time.Millisecond
)

// SolanaOptions RPC 走 http, 订阅走 ws
type SolanaOptions struct {
	Network    string
	RpcURL     string
	WsURL      string
	RetryDelay time.Duration

	// FetchBackoff 签名查询失败后的首次等待, 之后每次翻倍
	FetchBackoff time.Duration
}

// SolanaAdapter 订阅提及目标账户的日志, 再拉取交易比较前后余额
type SolanaAdapter struct {
	opts  SolanaOptions
	rpc   *rpc.Client
	fetch func(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
	log   *zap.Logger
}

func NewSolanaAdapter(opts SolanaOptions, log *zap.Logger) (*SolanaAdapter, error) {
	if opts.RpcURL == "" || opts.WsURL == "" {
		return nil, fmt.Errorf("%s: rpc_url and ws_url are required", opts.Network)
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.FetchBackoff <= 0 {
		opts.FetchBackoff = defaultSolanaFetchBackoff
	}
	a := &SolanaAdapter{
		opts: opts,
		rpc:  rpc.New(opts.RpcURL),
		log:  log.Named(opts.Network),
	}
	a.fetch = a.getTransaction
	return a, nil
}

func (a *SolanaAdapter) Start(ctx context.Context, target Target, sink Sink) (Handle, error) {
	owner, err := solana.PublicKeyFromBase58(target.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid solana address %q: %w", target.Address, err)
	}

	// 代币转账落在关联代币账户 (ATA) 上, 订阅 ATA 而不是钱包本身
	mentioned := owner
	var mint solana.PublicKey
	if target.IsToken() {
		mint, err = solana.PublicKeyFromBase58(target.TokenContract)
		if err != nil {
			return nil, fmt.Errorf("invalid spl mint %q: %w", target.TokenContract, err)
		}
		mentioned, _, err = solana.FindAssociatedTokenAddress(owner, mint)
		if err != nil {
			return nil, fmt.Errorf("derive associated token account: %w", err)
		}
	}

	return startWatch(ctx, target, sink, a.log, func(ctx context.Context, w *watch) {
		a.run(ctx, w, owner, mint, mentioned)
	}), nil
}

func (a *SolanaAdapter) run(ctx context.Context, w *watch, owner, mint, mentioned solana.PublicKey) {
	// 重连不打断仍在重试的签名查询
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for ctx.Err() == nil {
		err := a.subscribe(ctx, w, owner, mint, mentioned, &inflight)
		if err != nil && ctx.Err() == nil {
			w.fail(err)
			if !sleepCtx(ctx, a.opts.RetryDelay) {
				return
			}
		}
	}
}

func (a *SolanaAdapter) subscribe(ctx context.Context, w *watch, owner, mint, mentioned solana.PublicKey, inflight *sync.WaitGroup) error {
	client, err := ws.Connect(ctx, a.opts.WsURL)
	if err != nil {
		return fmt.Errorf("ws connect: %w", err)
	}
	defer client.Close()

	sub, err := client.LogsSubscribeMentions(mentioned, rpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("logs subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	w.ok()

	for {
		got, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("logs recv: %w", err)
		}
		if got == nil || got.Value.Err != nil {
			// 失败的交易也会推送日志
			continue
		}
		inflight.Add(1)
		go func(sig solana.Signature) {
			defer inflight.Done()
			if err := a.resolveSignature(ctx, w, owner, mint, sig); err != nil {
				if ctx.Err() == nil {
					w.fail(err)
				}
				return
			}
			w.ok()
		}(got.Value.Signature)
	}
}

// resolveSignature 查询不到交易或 RPC 出错时按退避重试
// 只有执行失败 (Meta.Err) 的交易被视为最终结果并跳过
func (a *SolanaAdapter) resolveSignature(ctx context.Context, w *watch, owner, mint solana.PublicKey, sig solana.Signature) error {
	delay := a.opts.FetchBackoff
	var err error
	for attempt := 1; attempt <= solanaFetchAttempts; attempt++ {
		if err = a.handleSignature(ctx, w, owner, mint, sig); err == nil {
			return nil
		}
		if attempt == solanaFetchAttempts || !sleepCtx(ctx, delay) {
			break
		}
		w.log.Debug("retry signature", zap.String("signature", sig.String()), zap.Int("attempt", attempt), zap.Error(err))
		delay *= 2
	}
	return fmt.Errorf("give up after %d attempts: %w", solanaFetchAttempts, err)
}

func (a *SolanaAdapter) getTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	return a.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
}

// handleSignature 拉取交易并计算目标账户实际收到的金额
func (a *SolanaAdapter) handleSignature(ctx context.Context, w *watch, owner, mint solana.PublicKey, sig solana.Signature) error {
	res, err := a.fetch(ctx, sig)
	if err != nil {
		return fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return fmt.Errorf("transaction %s not available yet", sig)
	}
	if res.Meta.Err != nil {
		return nil
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return fmt.Errorf("decode transaction %s: %w", sig, err)
	}
	keys := tx.Message.AccountKeys

	from := UnknownSender
	if len(keys) > 0 {
		from = keys[0].String() // fee payer
	}

	ev := TransferDetected{
		TxHash:      sig.String(),
		From:        from,
		To:          w.target.Address,
		BlockNumber: res.Slot,
	}

	if w.target.IsToken() {
		received, decimals, ok := tokenReceived(res.Meta.PreTokenBalances, res.Meta.PostTokenBalances, owner, mint)
		if !ok {
			return nil
		}
		ev.Amount = units.FormatUnits(received, int32(decimals))
		ev.AssetKind = model.AssetToken
		ev.TokenContract = w.target.TokenContract
	} else {
		received, ok := lamportsReceived(keys, res.Meta.PreBalances, res.Meta.PostBalances, owner)
		if !ok {
			return nil
		}
		ev.Amount = units.FormatUint64(received, 9)
		ev.AssetKind = model.AssetNative
	}

	w.emit(ctx, ev)
	return nil
}

// lamportsReceived 目标账户 post - pre, 只统计增加
func lamportsReceived(keys solana.PublicKeySlice, pre, post []uint64, dest solana.PublicKey) (uint64, bool) {
	for i, k := range keys {
		if !k.Equals(dest) {
			continue
		}
		if i >= len(pre) || i >= len(post) {
			return 0, false
		}
		if post[i] <= pre[i] {
			return 0, false
		}
		return post[i] - pre[i], true
	}
	return 0, false
}

// tokenReceived 按 owner + mint 聚合 token balance, 计算增加量
// 交易前不存在的 ATA 视为余额 0
func tokenReceived(pre, post []rpc.TokenBalance, owner, mint solana.PublicKey) (*big.Int, uint8, bool) {
	sum := func(list []rpc.TokenBalance) (*big.Int, uint8, bool) {
		total := new(big.Int)
		var decimals uint8
		found := false
		for _, b := range list {
			if b.Owner == nil || !b.Owner.Equals(owner) || !b.Mint.Equals(mint) || b.UiTokenAmount == nil {
				continue
			}
			v, ok := new(big.Int).SetString(b.UiTokenAmount.Amount, 10)
			if !ok {
				continue
			}
			total.Add(total, v)
			decimals = b.UiTokenAmount.Decimals
			found = true
		}
		return total, decimals, found
	}

	before, _, _ := sum(pre)
	after, decimals, ok := sum(post)
	if !ok {
		return nil, 0, false
	}
	diff := new(big.Int).Sub(after, before)
	if diff.Sign() <= 0 {
		return nil, 0, false
	}
	return diff, decimals, true
}
