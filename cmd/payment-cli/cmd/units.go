package cmd

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/pkg/units"
)

var (
	unitDecimals int32
	unitNetwork  string
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "最小单位与展示金额互转",
}

var unitsFormatCmd = &cobra.Command{
	Use:     "format <raw>",
	Short:   "最小单位 -> 展示金额 (wei -> ETH)",
	Example: "  payment-cli units format 1500000000000000000 --network ethereum",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, ok := new(big.Int).SetString(args[0], 10)
		if !ok {
			return fmt.Errorf("invalid integer %q", args[0])
		}
		decimals, err := resolveDecimals(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), units.FormatUnits(raw, decimals))
		return nil
	},
}

var unitsParseCmd = &cobra.Command{
	Use:     "parse <amount>",
	Short:   "展示金额 -> 最小单位 (USDT -> 6 位精度整数)",
	Example: "  payment-cli units parse 25.5 --decimals 6",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		decimals, err := resolveDecimals(cmd)
		if err != nil {
			return err
		}
		raw, err := units.ParseUnits(args[0], decimals)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), raw.String())
		return nil
	},
}

// resolveDecimals --decimals 优先, 否则取网络原生币精度
func resolveDecimals(cmd *cobra.Command) (int32, error) {
	if cmd.Flags().Changed("decimals") {
		return unitDecimals, nil
	}
	if unitNetwork == "" {
		return 0, fmt.Errorf("either --decimals or --network is required")
	}
	info, ok := chain.Lookup(unitNetwork)
	if !ok {
		return 0, fmt.Errorf("unsupported network %q", unitNetwork)
	}
	return info.Decimals, nil
}

func init() {
	for _, c := range []*cobra.Command{unitsFormatCmd, unitsParseCmd} {
		c.Flags().Int32VarP(&unitDecimals, "decimals", "d", 18, "代币精度")
		c.Flags().StringVarP(&unitNetwork, "network", "n", "", "使用该网络原生币的精度")
		unitsCmd.AddCommand(c)
	}
	rootCmd.AddCommand(unitsCmd)
}
