package address

import (
	"errors"
	"regexp"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// tronVersion 主网地址版本字节, base58check 编码后以 T 开头
const tronVersion = 0x41

var tronAddressPattern = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)

var ErrInvalidTronAddress = errors.New("invalid tron address")

// ValidateTron 校验 T 开头 34 位 base58, 并验证 checksum 与版本字节
func ValidateTron(addr string) error {
	if !tronAddressPattern.MatchString(addr) {
		return ErrInvalidTronAddress
	}
	payload, version, err := base58.CheckDecode(addr)
	if err != nil || version != tronVersion || len(payload) != 20 {
		return ErrInvalidTronAddress
	}
	return nil
}
