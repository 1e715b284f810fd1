package address

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidEVMAddress = errors.New("invalid evm address")

// ValidateEVM 校验 0x + 40 位十六进制, 不强制 EIP-55 大小写校验
func ValidateEVM(addr string) error {
	if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return ErrInvalidEVMAddress
	}
	return nil
}

// ChecksumEVM 返回 EIP-55 混合大小写形式, 输入需先通过 ValidateEVM
func ChecksumEVM(addr string) string {
	return common.HexToAddress(addr).Hex()
}
