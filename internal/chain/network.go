package chain

import (
	"sort"
	"strings"

	"github.com/mubaid99/payments/pkg/address"
	"github.com/mubaid99/payments/pkg/errno"
)

// Family 链家族, 同一家族共用一个适配器实现
type Family string

const (
	FamilyEVM     Family = "evm"
	FamilySolana  Family = "solana"
	FamilyTron    Family = "tron"
	FamilyBitcoin Family = "bitcoin"
)

// NetworkInfo 网络静态信息
type NetworkInfo struct {
	Name     string
	Family   Family
	Symbol   string
	Decimals int32 // 原生币精度
}

var networks = map[string]NetworkInfo{
	"ethereum":     {Name: "ethereum", Family: FamilyEVM, Symbol: "ETH", Decimals: 18},
	"optimism":     {Name: "optimism", Family: FamilyEVM, Symbol: "ETH", Decimals: 18},
	"polygon":      {Name: "polygon", Family: FamilyEVM, Symbol: "POL", Decimals: 18},
	"arbitrum":     {Name: "arbitrum", Family: FamilyEVM, Symbol: "ETH", Decimals: 18},
	"polygonzkevm": {Name: "polygonzkevm", Family: FamilyEVM, Symbol: "ETH", Decimals: 18},
	"base":         {Name: "base", Family: FamilyEVM, Symbol: "ETH", Decimals: 18},
	"avalanche":    {Name: "avalanche", Family: FamilyEVM, Symbol: "AVAX", Decimals: 18},
	"bsc":          {Name: "bsc", Family: FamilyEVM, Symbol: "BNB", Decimals: 18},
	"sepolia":      {Name: "sepolia", Family: FamilyEVM, Symbol: "ETH", Decimals: 18},
	"solana":       {Name: "solana", Family: FamilySolana, Symbol: "SOL", Decimals: 9},
	"tron":         {Name: "tron", Family: FamilyTron, Symbol: "TRX", Decimals: 6},
	"bitcoin":      {Name: "bitcoin", Family: FamilyBitcoin, Symbol: "BTC", Decimals: 8},
}

// Lookup 按网络名查找, 大小写不敏感
func Lookup(network string) (NetworkInfo, bool) {
	info, ok := networks[strings.ToLower(strings.TrimSpace(network))]
	return info, ok
}

// SupportedNetworks 按名称排序
func SupportedNetworks() []NetworkInfo {
	list := make([]NetworkInfo, 0, len(networks))
	for _, n := range networks {
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// AddressKey 归一化地址用于比较: EVM 十六进制不区分大小写, base58 区分
func AddressKey(family Family, addr string) string {
	addr = strings.TrimSpace(addr)
	if family == FamilyEVM {
		return strings.ToLower(addr)
	}
	return addr
}

// RoomKey 实时推送房间名, 一律小写
func RoomKey(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidateAddress 校验收款地址是否符合网络的地址语法
// btcNet 仅对 bitcoin 生效
func ValidateAddress(network, addr, btcNet string) error {
	info, ok := Lookup(network)
	if !ok {
		return errno.ErrUnsupportedNetwork
	}
	if err := validate(info.Family, addr, btcNet); err != nil {
		return errno.ErrInvalidAddress.WithMessage(info.Name + ": " + err.Error())
	}
	return nil
}

// ValidateToken 校验代币合约 (EVM 合约 / TRC-20 合约 / SPL mint), 比特币不支持代币
func ValidateToken(network, contract string) error {
	info, ok := Lookup(network)
	if !ok {
		return errno.ErrUnsupportedNetwork
	}
	if info.Family == FamilyBitcoin {
		return errno.ErrTokenNotSupported
	}
	if err := validate(info.Family, contract, ""); err != nil {
		return errno.ErrTokenNotSupported.WithMessage("invalid token contract: " + err.Error())
	}
	return nil
}

func validate(family Family, addr, btcNet string) error {
	switch family {
	case FamilyEVM:
		return address.ValidateEVM(addr)
	case FamilyTron:
		return address.ValidateTron(addr)
	case FamilySolana:
		return address.ValidateSolana(addr)
	case FamilyBitcoin:
		params, err := address.BTCParams(btcNet)
		if err != nil {
			return err
		}
		return address.ValidateBTC(addr, params)
	}
	return errno.ErrUnsupportedNetwork
}
