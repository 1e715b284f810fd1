package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/model"
	"github.com/mubaid99/payments/pkg/units"
)

const (
	defaultTronPollInterval = 10 * time.Second
	defaultTronAPI          = "https://apilist.tronscanapi.com"
	tronPageSize            = 20
	tronMaxPages            = 500
)

// TronOptions Tronscan REST 接入参数
type TronOptions struct {
	Network      string
	BaseURL      string
	ApiKey       string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// TronAdapter 轮询 Tronscan, 以时间戳作为高水位
type TronAdapter struct {
	opts TronOptions
	log  *zap.Logger
}

func NewTronAdapter(opts TronOptions, log *zap.Logger) *TronAdapter {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultTronAPI
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultTronPollInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TronAdapter{opts: opts, log: log.Named(opts.Network)}
}

func (a *TronAdapter) Start(ctx context.Context, target Target, sink Sink) (Handle, error) {
	if target.Address == "" {
		return nil, fmt.Errorf("tron: empty address")
	}
	return startWatch(ctx, target, sink, a.log, a.run), nil
}

func (a *TronAdapter) run(ctx context.Context, w *watch) {
	var since int64
	if !w.target.Since.IsZero() {
		since = w.target.Since.UnixMilli()
	}

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		next, err := a.poll(ctx, w, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.fail(err)
		} else {
			w.ok()
			since = next
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// amountField Tronscan 的金额有时是数字有时是字符串
type amountField string

func (f *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	*f = amountField(strings.Trim(string(b), `"`))
	return nil
}

func (f amountField) bigInt() (*big.Int, bool) {
	return new(big.Int).SetString(string(f), 10)
}

type trxTransfer struct {
	TransactionHash string      `json:"transactionHash"`
	OwnerAddress    string      `json:"ownerAddress"`
	ToAddress       string      `json:"to_address"`
	Amount          amountField `json:"amount"`
	Timestamp       int64       `json:"timestamp"`
	Block           uint64      `json:"block"`
	Confirmed       *bool       `json:"confirmed"`
}

type trxTransferPage struct {
	Total int           `json:"total"`
	Data  []trxTransfer `json:"data"`
}

type trc20Transfer struct {
	TransactionID string      `json:"transaction_id"`
	FromAddress   string      `json:"from_address"`
	ToAddress     string      `json:"to_address"`
	Quant         amountField `json:"quant"`
	BlockTs       int64       `json:"block_ts"`
	Block         uint64      `json:"block"`
	Confirmed     *bool       `json:"confirmed"`
	TokenInfo     struct {
		TokenDecimal int32 `json:"tokenDecimal"`
	} `json:"tokenInfo"`
}

type trc20TransferPage struct {
	Total          int             `json:"total"`
	TokenTransfers []trc20Transfer `json:"token_transfers"`
}

// lastPage 返回条数不足一页或已达到 total 时停止翻页
func lastPage(start, got, total int) (bool, error) {
	if got < tronPageSize || (total > 0 && start+got >= total) {
		return true, nil
	}
	if start/tronPageSize+1 >= tronMaxPages {
		return true, fmt.Errorf("tronscan: more than %d pages of transfers", tronMaxPages)
	}
	return false, nil
}

// poll 从新到旧翻完 since 之后的所有页, 再返回新的高水位
// 未确认的记录不推进高水位, 下一轮重新拉取; 中途出错时高水位不变
func (a *TronAdapter) poll(ctx context.Context, w *watch, since int64) (int64, error) {
	if w.target.IsToken() {
		return a.pollTRC20(ctx, w, since)
	}
	return a.pollTRX(ctx, w, since)
}

func (a *TronAdapter) pollTRX(ctx context.Context, w *watch, since int64) (int64, error) {
	high := since
	pending := false
	for start := 0; ; start += tronPageSize {
		q := url.Values{}
		q.Set("address", w.target.Address)
		q.Set("start", strconv.Itoa(start))
		q.Set("limit", strconv.Itoa(tronPageSize))
		q.Set("direction", "0")
		q.Set("reverse", "true")
		q.Set("fee", "true")
		q.Set("db_version", "1")
		q.Set("start_timestamp", strconv.FormatInt(since, 10))
		q.Set("end_timestamp", "")

		var page trxTransferPage
		if err := a.get(ctx, "/api/transfer/trx", q, &page); err != nil {
			return since, err
		}

		for _, tx := range page.Data {
			if !strings.EqualFold(tx.ToAddress, w.target.Address) {
				continue
			}
			if tx.Confirmed != nil && !*tx.Confirmed {
				pending = true
				continue
			}
			raw, ok := tx.Amount.bigInt()
			if !ok || raw.Sign() <= 0 {
				continue
			}
			w.emit(ctx, TransferDetected{
				TxHash:      tx.TransactionHash,
				From:        tx.OwnerAddress,
				To:          tx.ToAddress,
				Amount:      units.FormatUnits(raw, 6),
				AssetKind:   model.AssetNative,
				BlockNumber: tx.Block,
			})
			if tx.Timestamp > high {
				high = tx.Timestamp
			}
		}
		last, err := lastPage(start, len(page.Data), page.Total)
		if err != nil {
			return since, err
		}
		if last {
			break
		}
	}
	if pending {
		return since, nil
	}
	return high, nil
}

func (a *TronAdapter) pollTRC20(ctx context.Context, w *watch, since int64) (int64, error) {
	high := since
	pending := false
	for start := 0; ; start += tronPageSize {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(tronPageSize))
		q.Set("start", strconv.Itoa(start))
		q.Set("contract_address", w.target.TokenContract)
		q.Set("toAddress", w.target.Address)
		q.Set("start_timestamp", strconv.FormatInt(since, 10))
		q.Set("filterTokenValue", "0")

		var page trc20TransferPage
		if err := a.get(ctx, "/api/token_trc20/transfers", q, &page); err != nil {
			return since, err
		}

		for _, tx := range page.TokenTransfers {
			if !strings.EqualFold(tx.ToAddress, w.target.Address) {
				continue
			}
			if tx.Confirmed != nil && !*tx.Confirmed {
				pending = true
				continue
			}
			raw, ok := tx.Quant.bigInt()
			if !ok || raw.Sign() <= 0 {
				continue
			}
			decimals := tx.TokenInfo.TokenDecimal
			if decimals == 0 {
				decimals = 6
			}
			w.emit(ctx, TransferDetected{
				TxHash:        tx.TransactionID,
				From:          tx.FromAddress,
				To:            tx.ToAddress,
				Amount:        units.FormatUnits(raw, decimals),
				AssetKind:     model.AssetToken,
				TokenContract: w.target.TokenContract,
				BlockNumber:   tx.Block,
			})
			if tx.BlockTs > high {
				high = tx.BlockTs
			}
		}
		last, err := lastPage(start, len(page.TokenTransfers), page.Total)
		if err != nil {
			return since, err
		}
		if last {
			break
		}
	}
	if pending {
		return since, nil
	}
	return high, nil
}

func (a *TronAdapter) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if a.opts.ApiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", a.opts.ApiKey)
	}

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("tronscan %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tronscan %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tronscan %s: decode: %w", path, err)
	}
	return nil
}
