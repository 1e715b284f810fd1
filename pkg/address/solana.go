package address

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

var ErrInvalidSolanaAddress = errors.New("invalid solana address")

// ValidateSolana base58 编码的 32 字节公钥
func ValidateSolana(addr string) error {
	if _, err := solana.PublicKeyFromBase58(addr); err != nil {
		return ErrInvalidSolanaAddress
	}
	return nil
}
