package response

import "github.com/mubaid99/payments/internal/model"

// QRPaymentResponse 创建收款二维码的返回
type QRPaymentResponse struct {
	QRImage    string  `json:"qrImage"` // data:image/png;base64,...
	QRURI      string  `json:"qrURI"`
	OrderID    string  `json:"orderId"`
	Comment    string  `json:"comment"` // 转账备注, 与 orderId 相同
	Amount     *string `json:"amount"`
	Blockchain string  `json:"blockchain"`
	CoinName   string  `json:"coinName"`
	ClientID   string  `json:"clientId"`
	ToAddress  string  `json:"toAddress"`
	Contract   *string `json:"contract"`
}

// NewQRPaymentResponse 空的 amount / contract 输出为 null
func NewQRPaymentResponse(intent *model.PaymentIntent, image string) QRPaymentResponse {
	return QRPaymentResponse{
		QRImage:    image,
		QRURI:      intent.URI(),
		OrderID:    intent.ID,
		Comment:    intent.ID,
		Amount:     nullable(intent.ExpectedAmount),
		Blockchain: intent.Network,
		CoinName:   intent.CoinName,
		ClientID:   intent.ClientReference,
		ToAddress:  intent.DestinationAddress,
		Contract:   nullable(intent.TokenContract),
	}
}

// TransferList 分页结果
type TransferList struct {
	Address   string                   `json:"address"`
	Transfers []model.DetectedTransfer `json:"transfers"`
	Limit     int                      `json:"limit"`
	Offset    int                      `json:"offset"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
