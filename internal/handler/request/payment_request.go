package request

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Amount 兼容 JSON 数字和字符串两种写法 ("amount": 5 / "amount": "5.0")
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// CreateQRPaymentRequest 创建收款二维码
type CreateQRPaymentRequest struct {
	Blockchain string `json:"blockchain" binding:"required,network"`
	CoinName   string `json:"coinName" binding:"required,max=32"`
	ClientID   string `json:"clientId" binding:"required,max=128"`
	ToAddress  string `json:"toAddress" binding:"required,max=128"`
	Amount     Amount `json:"amount" binding:"amount"`
	Contract   string `json:"contract" binding:"max=128"`
}

// ListTransfersRequest 按收款地址分页查询转账
type ListTransfersRequest struct {
	Address string `form:"address" binding:"required"`
	Limit   int    `form:"limit" binding:"min=0,max=100"`
	Offset  int    `form:"offset" binding:"min=0"`
}
