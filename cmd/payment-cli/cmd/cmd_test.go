package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags 命令是包级变量, 每次执行前恢复默认值
func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestUnitsCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"format wei", []string{"units", "format", "1500000000000000000", "--network", "ethereum"}, "1.5\n"},
		{"format whole", []string{"units", "format", "5000000", "--decimals", "6"}, "5.0\n"},
		{"format sun", []string{"units", "format", "1", "-n", "tron"}, "0.000001\n"},
		{"parse usdt", []string{"units", "parse", "25.5", "--decimals", "6"}, "25500000\n"},
		{"parse sats", []string{"units", "parse", "0.00000001", "--network", "bitcoin"}, "1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestUnitsParseRejectsExtraPrecision(t *testing.T) {
	_, err := run(t, "units", "parse", "0.0000001", "--decimals", "6")
	assert.Error(t, err)
}

func TestAddressCheck(t *testing.T) {
	out, err := run(t, "address", "check", "ethereum", "0xAbC1230000000000000000000000000000000099")
	require.NoError(t, err)
	assert.Contains(t, out, "room:     0xabc1230000000000000000000000000000000099")
	assert.Contains(t, out, "checksum: 0x")

	_, err = run(t, "address", "check", "tron", "0xAbC1230000000000000000000000000000000099")
	assert.Error(t, err)

	_, err = run(t, "address", "check", "dogecoin", "D123")
	assert.Error(t, err)
}
