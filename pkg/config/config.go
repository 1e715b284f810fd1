package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig              `mapstructure:"app"`
	DB     DBConfig               `mapstructure:"db"`
	Redis  RedisConfig            `mapstructure:"redis"`
	MQ     MQConfig               `mapstructure:"mq"`
	Kafka  KafkaConfig            `mapstructure:"kafka"`
	NATS   NATSConfig             `mapstructure:"nats"`
	Worker WorkerConfig           `mapstructure:"worker"`
	Chains map[string]ChainConfig `mapstructure:"chains"`
}

type AppConfig struct {
	Name         string `mapstructure:"name"`
	Env          string `mapstructure:"env"`
	HttpPort     string `mapstructure:"http_port"`
	GrpcPort     string `mapstructure:"grpc_port"`
	DispatchMode string `mapstructure:"dispatch_mode"` // "inline" or "asynq"
	EventWorkers int    `mapstructure:"event_workers"`
	EventBuffer  int    `mapstructure:"event_buffer"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN 拼接 gorm postgres 连接串
func (c DBConfig) DSN() string {
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode
}

// URL golang-migrate 使用的连接串
func (c DBConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.Name + "?sslmode=" + c.SSLMode
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MQConfig struct {
	Driver string `mapstructure:"driver"` // "redis" or "kafka"
	Topic  string `mapstructure:"topic"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"` // 为空时只做本实例推送
	Subject string `mapstructure:"subject"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// Embedded 为 true 时 payment-server 进程内运行 asynq worker, 否则由 payment-worker 单独部署
	Embedded bool `mapstructure:"embedded"`
}

// ChainConfig 单个网络的接入参数, key 为网络名 (ethereum, tron, solana, bitcoin ...)
type ChainConfig struct {
	RpcUrl       string         `mapstructure:"rpc_url"`
	WsUrl        string         `mapstructure:"ws_url"`
	ApiKey       string         `mapstructure:"api_key"`
	User         string         `mapstructure:"user"`
	Password     string         `mapstructure:"password"`
	Net          string         `mapstructure:"net"` // bitcoin: mainnet / testnet3 / regtest / signet
	PollInterval time.Duration  `mapstructure:"poll_interval"`
	MaxBackfill  uint64         `mapstructure:"max_backfill"`
	Decimals     map[string]int `mapstructure:"decimals"` // token contract -> decimals override
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量设置: DB_HOST / REDIS_ADDR / APP_DISPATCH_MODE ...
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

// Chain 返回指定网络的配置, 未配置时返回零值
func (c Config) Chain(network string) ChainConfig {
	if c.Chains == nil {
		return ChainConfig{}
	}
	return c.Chains[network]
}

func setDefaults() {
	viper.SetDefault("app.name", "payment-server")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")
	viper.SetDefault("app.grpc_port", "50051")
	viper.SetDefault("app.dispatch_mode", "inline")
	viper.SetDefault("app.event_workers", 4)
	viper.SetDefault("app.event_buffer", 256)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "payments_user")
	viper.SetDefault("db.password", "payments_password")
	viper.SetDefault("db.name", "payments_db")
	viper.SetDefault("db.sslmode", "disable")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("mq.driver", "redis")
	viper.SetDefault("mq.topic", "payment_events_confirmed")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("nats.subject", "payments.confirmed")

	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.embedded", true)

	viper.SetDefault("chains.ethereum.max_backfill", 64)
	viper.SetDefault("chains.tron.rpc_url", "https://apilist.tronscanapi.com")
	viper.SetDefault("chains.tron.poll_interval", "10s")
	viper.SetDefault("chains.bitcoin.net", "mainnet")
	viper.SetDefault("chains.bitcoin.poll_interval", "60s")
}
