// Package units converts between on-chain smallest units (wei, lamports, sun, satoshi)
// and human display amounts using exact decimal arithmetic.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatUnits 把最小单位整数换算为展示金额
// 1500000000000000000 @18 -> "1.5", 1 @6 -> "0.000001", 5e18 @18 -> "5.0"
func FormatUnits(raw *big.Int, decimals int32) string {
	if raw == nil {
		return "0.0"
	}
	return Display(decimal.NewFromBigInt(raw, -decimals))
}

// FormatUint64 FormatUnits 的 uint64 版本 (lamports / sun / satoshi)
func FormatUint64(raw uint64, decimals int32) string {
	return FormatUnits(new(big.Int).SetUint64(raw), decimals)
}

// Display 去掉末尾多余的 0, 但至少保留一位小数
func Display(d decimal.Decimal) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseUnits 把展示金额换算回最小单位, 超出精度的小数位视为错误
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %q exceeds %d decimals", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// ParseAmount 校验并解析一个非负的展示金额
func ParseAmount(amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q is negative", amount)
	}
	return d, nil
}

// Equal 按数值比较两个金额字符串 ("20" == "20.0"), 任一无法解析时返回 false
func Equal(a, b string) bool {
	da, err := decimal.NewFromString(strings.TrimSpace(a))
	if err != nil {
		return false
	}
	db, err := decimal.NewFromString(strings.TrimSpace(b))
	if err != nil {
		return false
	}
	return da.Equal(db)
}
