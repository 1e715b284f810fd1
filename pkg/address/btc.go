package address

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var ErrInvalidBTCAddress = errors.New("invalid bitcoin address")

// BTCParams 根据配置名返回网络参数, 默认主网
func BTCParams(net string) (*chaincfg.Params, error) {
	switch net {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin net %q", net)
	}
}

// ValidateBTC 支持 P2PKH / P2SH / Bech32 (P2WPKH, P2WSH, P2TR)
func ValidateBTC(addr string, params *chaincfg.Params) error {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBTCAddress, err)
	}
	if !decoded.IsForNet(params) {
		return fmt.Errorf("%w: not a %s address", ErrInvalidBTCAddress, params.Name)
	}
	return nil
}
