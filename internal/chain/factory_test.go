package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mubaid99/payments/pkg/config"
)

func TestFactoryBuildsAndCachesAdapters(t *testing.T) {
	f := NewFactory(map[string]config.ChainConfig{
		"ethereum": {WsUrl: "wss://eth.example"},
		"tron":     {},
	}, zap.NewNop())
	defer f.Close()

	a, err := f.Adapter("TRON")
	require.NoError(t, err)
	assert.IsType(t, &TronAdapter{}, a)

	again, err := f.Adapter("tron")
	require.NoError(t, err)
	assert.Same(t, a, again)

	evm, err := f.Adapter("ethereum")
	require.NoError(t, err)
	assert.IsType(t, &EVMAdapter{}, evm)
	assert.Equal(t, "wss://eth.example", evm.(*EVMAdapter).opts.URL)
}

func TestFactoryErrors(t *testing.T) {
	f := NewFactory(map[string]config.ChainConfig{}, zap.NewNop())

	_, err := f.Adapter("dogecoin")
	assert.Error(t, err)

	// 未配置 rpc
	_, err = f.Adapter("polygon")
	assert.Error(t, err)
	_, err = f.Adapter("solana")
	assert.Error(t, err)
}
