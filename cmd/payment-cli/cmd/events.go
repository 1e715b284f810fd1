package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mubaid99/payments/internal/event"
	"github.com/mubaid99/payments/internal/service/mq"
	"github.com/mubaid99/payments/pkg/config"
	"github.com/mubaid99/payments/pkg/database"
)

var (
	eventsGroup string
	eventsTopic string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "确认事件 (outbox -> MQ)",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "订阅并打印 payment confirmed 事件, Ctrl+C 退出",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.Init()
		cfg := config.Global
		if !cmd.Flags().Changed("topic") && cfg.MQ.Topic != "" {
			eventsTopic = cfg.MQ.Topic
		}

		var consumer mq.Consumer
		if cfg.MQ.Driver == "kafka" {
			consumer = mq.NewKafkaConsumer(cfg.Kafka.Brokers, eventsGroup)
		} else {
			rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			host, _ := os.Hostname()
			consumer = mq.NewRedisConsumer(rdb, eventsGroup, eventsGroup+"-"+host)
		}
		defer consumer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "subscribed to %s via %s\n", eventsTopic, cfg.MQ.Driver)
		err := consumer.Subscribe(ctx, eventsTopic, func(msg *mq.Message) error {
			fmt.Fprintf(out, "[%s] key=%s %s\n", msg.ID, msg.Key, msg.Payload)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	eventsTailCmd.Flags().StringVar(&eventsGroup, "group", "payment-cli", "消费组")
	eventsTailCmd.Flags().StringVar(&eventsTopic, "topic", event.TopicPaymentConfirmed, "主题, 默认取配置 mq.topic")
	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(eventsCmd)
}
