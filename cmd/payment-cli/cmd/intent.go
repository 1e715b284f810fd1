package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	handler_grpc "github.com/mubaid99/payments/internal/handler/grpc"
	"github.com/mubaid99/payments/internal/service"
	"github.com/mubaid99/payments/pkg/config"
	"github.com/mubaid99/payments/pkg/database"
	"github.com/mubaid99/payments/pkg/logger"
)

var (
	grpcAddr string

	intentNetwork  string
	intentAddress  string
	intentToken    string
	intentCoin     string
	intentAmount   string
	intentClientID string
)

var intentCmd = &cobra.Command{
	Use:   "intent",
	Short: "收款意图",
}

var intentCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "通过 gRPC 创建收款意图",
	Example: "  payment-cli intent create -n ethereum -a 0xAbC... --amount 5 --client shop-1",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := structpb.NewStruct(map[string]interface{}{
			"blockchain": intentNetwork,
			"toAddress":  intentAddress,
			"contract":   intentToken,
			"coinName":   intentCoin,
			"amount":     intentAmount,
			"clientId":   intentClientID,
		})
		if err != nil {
			return err
		}
		return withClient(cmd.Context(), func(ctx context.Context, c *handler_grpc.PaymentServiceClient) error {
			out, err := c.CreateIntent(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, out.AsMap())
		})
	},
}

var intentGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "通过 gRPC 查询收款意图",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *handler_grpc.PaymentServiceClient) error {
			out, err := c.GetIntent(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, out.AsMap())
		})
	},
}

var intentPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "直接读库, 列出所有 pending 意图 (使用 config.yaml 的数据库配置)",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.Init()
		db, err := database.ConnectPostgres(config.Global.DB.DSN(), false)
		if err != nil {
			return err
		}
		registry := service.NewRegistryService(db, config.Global.Chain("bitcoin").Net, logger.Log)
		list, err := registry.FindPendingIntents(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-36s  %-10s  %-44s  %-8s  %s\n", "ID", "NETWORK", "ADDRESS", "AMOUNT", "CREATED")
		for _, p := range list {
			amount := p.ExpectedAmount
			if amount == "" {
				amount = "-"
			}
			fmt.Fprintf(out, "%-36s  %-10s  %-44s  %-8s  %s\n",
				p.ID, p.Network, p.DestinationAddress, amount, p.CreatedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(out, "%d pending\n", len(list))
		return nil
	},
}

func withClient(ctx context.Context, fn func(ctx context.Context, c *handler_grpc.PaymentServiceClient) error) error {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", grpcAddr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return fn(ctx, handler_grpc.NewPaymentServiceClient(conn))
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	intentCmd.PersistentFlags().StringVar(&grpcAddr, "grpc", "127.0.0.1:50051", "payment-server gRPC 地址")

	f := intentCreateCmd.Flags()
	f.StringVarP(&intentNetwork, "network", "n", "", "网络 (ethereum, tron, solana, bitcoin ...)")
	f.StringVarP(&intentAddress, "address", "a", "", "收款地址")
	f.StringVarP(&intentToken, "token", "t", "", "代币合约, 为空表示原生币")
	f.StringVar(&intentCoin, "coin", "", "币种名称")
	f.StringVar(&intentAmount, "amount", "", "期望金额, 为空表示不限")
	f.StringVar(&intentClientID, "client", "payment-cli", "商户侧订单引用")
	_ = intentCreateCmd.MarkFlagRequired("network")
	_ = intentCreateCmd.MarkFlagRequired("address")

	intentCmd.AddCommand(intentCreateCmd, intentGetCmd, intentPendingCmd)
	rootCmd.AddCommand(intentCmd)
}
