package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mubaid99/payments/internal/chain"
	"github.com/mubaid99/payments/pkg/address"
)

var btcNet string

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "地址工具",
}

var addressCheckCmd = &cobra.Command{
	Use:     "check <network> <address>",
	Short:   "校验地址是否属于指定网络, 并输出监听使用的归一化形式",
	Example: "  payment-cli address check tron TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, ok := chain.Lookup(args[0])
		if !ok {
			return fmt.Errorf("unsupported network %q", args[0])
		}
		if err := chain.ValidateAddress(info.Name, args[1], btcNet); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "network:  %s (%s)\n", info.Name, info.Family)
		fmt.Fprintf(out, "valid:    true\n")
		fmt.Fprintf(out, "room:     %s\n", chain.RoomKey(args[1]))
		if info.Family == chain.FamilyEVM {
			fmt.Fprintf(out, "checksum: %s\n", address.ChecksumEVM(args[1]))
		}
		return nil
	},
}

func init() {
	addressCheckCmd.Flags().StringVar(&btcNet, "btc-net", "mainnet", "bitcoin 网络: mainnet / testnet3 / regtest / signet")
	addressCmd.AddCommand(addressCheckCmd)
	rootCmd.AddCommand(addressCmd)
}
