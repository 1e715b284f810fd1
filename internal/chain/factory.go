package chain

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mubaid99/payments/pkg/config"
)

// Constructor 按网络配置创建适配器
type Constructor func(info NetworkInfo, cfg config.ChainConfig, log *zap.Logger) (Adapter, error)

// constructors 网络家族 -> 适配器实现, 启动时一次性选定
var constructors = map[Family]Constructor{
	FamilyEVM: func(info NetworkInfo, cfg config.ChainConfig, log *zap.Logger) (Adapter, error) {
		url := cfg.WsUrl
		if url == "" {
			url = cfg.RpcUrl
		}
		return NewEVMAdapter(EVMOptions{
			Network:      info.Name,
			URL:          url,
			PollInterval: cfg.PollInterval,
			MaxBackfill:  cfg.MaxBackfill,
			Decimals:     cfg.Decimals,
		}, log)
	},
	FamilySolana: func(info NetworkInfo, cfg config.ChainConfig, log *zap.Logger) (Adapter, error) {
		return NewSolanaAdapter(SolanaOptions{
			Network: info.Name,
			RpcURL:  cfg.RpcUrl,
			WsURL:   cfg.WsUrl,
		}, log)
	},
	FamilyTron: func(info NetworkInfo, cfg config.ChainConfig, log *zap.Logger) (Adapter, error) {
		return NewTronAdapter(TronOptions{
			Network:      info.Name,
			BaseURL:      cfg.RpcUrl,
			ApiKey:       cfg.ApiKey,
			PollInterval: cfg.PollInterval,
		}, log), nil
	},
	FamilyBitcoin: func(info NetworkInfo, cfg config.ChainConfig, log *zap.Logger) (Adapter, error) {
		return NewBitcoinAdapter(BitcoinOptions{
			Network:      info.Name,
			Host:         cfg.RpcUrl,
			User:         cfg.User,
			Password:     cfg.Password,
			TLS:          strings.HasPrefix(cfg.RpcUrl, "https://"),
			PollInterval: cfg.PollInterval,
			MaxBackfill:  int64(cfg.MaxBackfill),
		}, log)
	},
}

// Factory 每个网络一个适配器实例, 按需创建并缓存
type Factory struct {
	mu       sync.Mutex
	chains   map[string]config.ChainConfig
	adapters map[string]Adapter
	log      *zap.Logger
}

func NewFactory(chains map[string]config.ChainConfig, log *zap.Logger) *Factory {
	return &Factory{
		chains:   chains,
		adapters: make(map[string]Adapter),
		log:      log.Named("chain"),
	}
}

// Adapter 返回网络对应的适配器, 未配置的网络返回错误
func (f *Factory) Adapter(network string) (Adapter, error) {
	info, ok := Lookup(network)
	if !ok {
		return nil, fmt.Errorf("unsupported network %q", network)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.adapters[info.Name]; ok {
		return a, nil
	}

	build, ok := constructors[info.Family]
	if !ok {
		return nil, fmt.Errorf("no adapter for family %s", info.Family)
	}
	a, err := build(info, f.chains[info.Name], f.log)
	if err != nil {
		return nil, err
	}
	f.adapters[info.Name] = a
	f.log.Info("adapter created", zap.String("network", info.Name), zap.String("family", string(info.Family)))
	return a, nil
}

// Close 释放持有长连接的适配器
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, a := range f.adapters {
		if c, ok := a.(interface{ Close() }); ok {
			c.Close()
		}
		delete(f.adapters, name)
	}
}
