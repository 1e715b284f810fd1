package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/internal/model"
)

const testTronAddress = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

type tronscanStub struct {
	mu     sync.Mutex
	paths  []string
	starts []string
	body   string
}

func (s *tronscanStub) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.starts = append(s.starts, r.URL.Query().Get("start_timestamp"))
	body := s.body
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (s *tronscanStub) seenStarts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.starts...)
}

func TestTronPollTRX(t *testing.T) {
	stub := &tronscanStub{body: `{"data":[
		{"transactionHash":"aa01","ownerAddress":"TSender1","to_address":"` + testTronAddress + `","amount":5000000,"timestamp":1700000001000,"confirmed":true},
		{"transactionHash":"aa02","ownerAddress":"TSender2","to_address":"` + testTronAddress + `","amount":"1","timestamp":1700000002000},
		{"transactionHash":"aa03","ownerAddress":"` + testTronAddress + `","to_address":"TOther","amount":7,"timestamp":1700000003000}
	]}`}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	a := NewTronAdapter(TronOptions{Network: "tron", BaseURL: srv.URL}, zap.NewNop())
	c := newCollector()
	w := testWatch(Target{Network: "tron", Address: testTronAddress}, c.sink)

	high, err := a.poll(context.Background(), w, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000002000), high)

	require.Len(t, c.events, 2)
	assert.Equal(t, "aa01", c.events[0].TxHash)
	assert.Equal(t, "5.0", c.events[0].Amount)
	assert.Equal(t, "TSender1", c.events[0].From)
	assert.Equal(t, model.AssetNative, c.events[0].AssetKind)
	assert.Equal(t, "0.000001", c.events[1].Amount)
	assert.Equal(t, []string{"/api/transfer/trx"}, stub.paths)
}

func TestTronPollKeepsWatermarkWhileUnconfirmed(t *testing.T) {
	stub := &tronscanStub{body: `{"data":[
		{"transactionHash":"bb01","ownerAddress":"TSender1","to_address":"` + testTronAddress + `","amount":1000000,"timestamp":1700000005000,"confirmed":false}
	]}`}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	a := NewTronAdapter(TronOptions{Network: "tron", BaseURL: srv.URL}, zap.NewNop())
	c := newCollector()
	w := testWatch(Target{Network: "tron", Address: testTronAddress}, c.sink)

	high, err := a.poll(context.Background(), w, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), high)
	assert.Empty(t, c.events)
}

func TestTronPollTRC20(t *testing.T) {
	stub := &tronscanStub{body: `{"token_transfers":[
		{"transaction_id":"cc01","from_address":"TSender1","to_address":"` + testTronAddress + `","quant":"12500000","block_ts":1700000009000,"confirmed":true,"tokenInfo":{"tokenDecimal":6}}
	]}`}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	a := NewTronAdapter(TronOptions{Network: "tron", BaseURL: srv.URL + "/"}, zap.NewNop())
	c := newCollector()
	token := "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	w := testWatch(Target{Network: "tron", Address: testTronAddress, TokenContract: token}, c.sink)

	high, err := a.poll(context.Background(), w, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000009000), high)
	require.Len(t, c.events, 1)
	assert.Equal(t, "12.5", c.events[0].Amount)
	assert.Equal(t, model.AssetToken, c.events[0].AssetKind)
	assert.Equal(t, token, c.events[0].TokenContract)
	assert.Equal(t, []string{"/api/token_trc20/transfers"}, stub.paths)
}

func TestTronAdapterAdvancesWatermark(t *testing.T) {
	stub := &tronscanStub{body: `{"data":[
		{"transactionHash":"dd01","ownerAddress":"TSender1","to_address":"` + testTronAddress + `","amount":2000000,"timestamp":1700000010000}
	]}`}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	a := NewTronAdapter(TronOptions{Network: "tron", BaseURL: srv.URL, PollInterval: 10 * time.Millisecond}, zap.NewNop())
	c := newCollector()
	since := time.UnixMilli(1699999999000)

	h, err := a.Start(context.Background(), Target{Network: "tron", Address: testTronAddress, Since: since}, c.sink)
	require.NoError(t, err)

	ev := c.wait(t)
	assert.Equal(t, "dd01", ev.TxHash)
	assert.Equal(t, "2.0", ev.Amount)

	require.Eventually(t, func() bool { return len(stub.seenStarts()) >= 2 }, 3*time.Second, 10*time.Millisecond)
	h.Stop()
	<-h.Done()

	starts := stub.seenStarts()
	assert.Equal(t, "1699999999000", starts[0])
	assert.Equal(t, "1700000010000", starts[1])
}

func TestTronAdapterReportsDegradedOnErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewTronAdapter(TronOptions{Network: "tron", BaseURL: srv.URL, PollInterval: 5 * time.Millisecond}, zap.NewNop())
	h, err := a.Start(context.Background(), Target{Network: "tron", Address: testTronAddress}, func(context.Context, TransferDetected) {})
	require.NoError(t, err)
	defer h.Stop()

	require.Eventually(t, func() bool { return !h.Healthy() }, 3*time.Second, 5*time.Millisecond)
}

// pagedTronscan 按 start/limit 分页返回, 新的在前, 只返回 start_timestamp 之后的记录
type pagedTronscan struct {
	mu    sync.Mutex
	rows  []map[string]interface{} // 从新到旧
	tsKey string
	list  string
	calls int
}

func (s *pagedTronscan) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	q := r.URL.Query()
	start, _ := strconv.Atoi(q.Get("start"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	since, _ := strconv.ParseInt(q.Get("start_timestamp"), 10, 64)

	var matched []map[string]interface{}
	for _, row := range s.rows {
		if row[s.tsKey].(int64) >= since {
			matched = append(matched, row)
		}
	}
	page := []map[string]interface{}{}
	if start < len(matched) {
		end := start + limit
		if end > len(matched) {
			end = len(matched)
		}
		page = matched[start:end]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"total": len(matched), s.list: page})
}

func TestTronPollReadsEveryPage(t *testing.T) {
	tests := []struct {
		name  string
		token string
		stub  func(i int) map[string]interface{}
		tsKey string
		list  string
	}{
		{
			name:  "trx",
			tsKey: "timestamp",
			list:  "data",
			stub: func(i int) map[string]interface{} {
				return map[string]interface{}{
					"transactionHash": fmt.Sprintf("tx%02d", i),
					"ownerAddress":    "TSender1",
					"to_address":      testTronAddress,
					"amount":          1000000,
					"timestamp":       int64(1700000000000 + i*1000),
					"confirmed":       true,
				}
			},
		},
		{
			name:  "trc20",
			token: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
			tsKey: "block_ts",
			list:  "token_transfers",
			stub: func(i int) map[string]interface{} {
				return map[string]interface{}{
					"transaction_id": fmt.Sprintf("tx%02d", i),
					"from_address":   "TSender1",
					"to_address":     testTronAddress,
					"quant":          "1000000",
					"block_ts":       int64(1700000000000 + i*1000),
					"confirmed":      true,
					"tokenInfo":      map[string]interface{}{"tokenDecimal": 6},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 一个轮询周期内到账 25 笔, 超过一页
			stub := &pagedTronscan{tsKey: tt.tsKey, list: tt.list}
			for i := 25; i >= 1; i-- {
				stub.rows = append(stub.rows, tt.stub(i))
			}
			srv := httptest.NewServer(http.HandlerFunc(stub.handler))
			defer srv.Close()

			a := NewTronAdapter(TronOptions{Network: "tron", BaseURL: srv.URL}, zap.NewNop())
			c := newCollector()
			w := testWatch(Target{Network: "tron", Address: testTronAddress, TokenContract: tt.token}, c.sink)

			since := int64(1700000000000)
			for i := 0; i < 3; i++ {
				next, err := a.poll(context.Background(), w, since)
				require.NoError(t, err)
				since = next
			}
			assert.Equal(t, int64(1700000025000), since)

			seen := map[string]bool{}
			for _, ev := range c.events {
				seen[ev.TxHash] = true
			}
			for i := 1; i <= 25; i++ {
				assert.True(t, seen[fmt.Sprintf("tx%02d", i)], "tx%02d not detected", i)
			}
		})
	}
}

func TestTronPollKeepsWatermarkOnPageError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("start") != "0" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rows := make([]map[string]interface{}, 0, tronPageSize)
		for i := 0; i < tronPageSize; i++ {
			rows = append(rows, map[string]interface{}{
				"transactionHash": fmt.Sprintf("ee%02d", i),
				"to_address":      testTronAddress,
				"amount":          1,
				"timestamp":       int64(1700000100000 - i),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"total": 40, "data": rows})
	}))
	defer srv.Close()

	a := NewTronAdapter(TronOptions{Network: "tron", BaseURL: srv.URL}, zap.NewNop())
	w := testWatch(Target{Network: "tron", Address: testTronAddress}, newCollector().sink)

	high, err := a.poll(context.Background(), w, 7)
	assert.Error(t, err)
	assert.Equal(t, int64(7), high)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLastPage(t *testing.T) {
	last, err := lastPage(0, tronPageSize-1, 0)
	assert.NoError(t, err)
	assert.True(t, last)

	last, err = lastPage(20, tronPageSize, 40)
	assert.NoError(t, err)
	assert.True(t, last)

	last, err = lastPage(0, tronPageSize, 0)
	assert.NoError(t, err)
	assert.False(t, last)

	_, err = lastPage((tronMaxPages-1)*tronPageSize, tronPageSize, 0)
	assert.Error(t, err)
}
