package units

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int32
		want     string
	}{
		{"1.5 ether", "1500000000000000000", 18, "1.5"},
		{"one sun", "1", 6, "0.000001"},
		{"whole ether keeps one digit", "5000000000000000000", 18, "5.0"},
		{"one lamport", "1", 9, "0.000000001"},
		{"satoshi", "12345678", 8, "0.12345678"},
		{"zero", "0", 18, "0.0"},
		{"large token amount", "123456789012345678901234567890", 18, "123456789012.34567890123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tt.raw, 10)
			require.True(t, ok)
			assert.Equal(t, tt.want, FormatUnits(raw, tt.decimals))
		})
	}
}

func TestFormatUint64(t *testing.T) {
	assert.Equal(t, "2.5", FormatUint64(2500000000, 9))
	assert.Equal(t, "10.0", FormatUint64(10000000, 6))
}

func TestParseUnits(t *testing.T) {
	got, err := ParseUnits("1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", got.String())

	got, err = ParseUnits("0.000001", 6)
	require.NoError(t, err)
	assert.Equal(t, "1", got.String())

	_, err = ParseUnits("0.0000001", 6)
	assert.Error(t, err)

	_, err = ParseUnits("abc", 6)
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(" 20 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(20)))

	_, err = ParseAmount("-1")
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("20", "20.0"))
	assert.True(t, Equal("0.10", "0.1"))
	assert.False(t, Equal("10", "20"))
	assert.False(t, Equal("", "0"))
}
