package address

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEVM(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{"mixed case", "0xAbC1230000000000000000000000000000000099", true},
		{"lower case", "0xabc1230000000000000000000000000000000099", true},
		{"missing prefix", "AbC1230000000000000000000000000000000099", false},
		{"too short", "0xAbC12300000000000000000000000000000000", false},
		{"too long", "0xAbC123000000000000000000000000000000009900", false},
		{"non hex", "0xZbC1230000000000000000000000000000000099", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEVM(tt.addr)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEVMAddress)
			}
		})
	}
}

func TestChecksumEVM(t *testing.T) {
	// EIP-55 reference vector
	want := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	assert.Equal(t, want, ChecksumEVM("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.Equal(t, want, ChecksumEVM("0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED"))
}

func TestValidateTron(t *testing.T) {
	// USDT TRC-20 合约地址
	assert.NoError(t, ValidateTron("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"))

	// 改动最后一位, checksum 失败
	assert.ErrorIs(t, ValidateTron("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u"), ErrInvalidTronAddress)
	// 长度不对
	assert.ErrorIs(t, ValidateTron("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6"), ErrInvalidTronAddress)
	// 不是 T 开头
	assert.ErrorIs(t, ValidateTron("AR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"), ErrInvalidTronAddress)
	// 含非法字符 0
	assert.ErrorIs(t, ValidateTron("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj60"), ErrInvalidTronAddress)
}

func TestValidateBTC(t *testing.T) {
	params, err := BTCParams("mainnet")
	require.NoError(t, err)

	assert.NoError(t, ValidateBTC("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", params))
	assert.NoError(t, ValidateBTC("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", params))
	assert.ErrorIs(t, ValidateBTC("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNb", params), ErrInvalidBTCAddress)
	assert.ErrorIs(t, ValidateBTC("tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", params), ErrInvalidBTCAddress)

	_, err = BTCParams("moonnet")
	assert.Error(t, err)
	p, _ := BTCParams("testnet3")
	assert.Equal(t, chaincfg.TestNet3Params.Name, p.Name)
}

func TestValidateSolana(t *testing.T) {
	assert.NoError(t, ValidateSolana("11111111111111111111111111111111"))
	assert.NoError(t, ValidateSolana("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
	assert.ErrorIs(t, ValidateSolana("0xAbC1230000000000000000000000000000000099"), ErrInvalidSolanaAddress)
	assert.ErrorIs(t, ValidateSolana("abc"), ErrInvalidSolanaAddress)
}
