package config

import (
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the immutable top-level configuration, built once at startup and
// passed by reference into every component constructor.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentEvents string `mapstructure:"payment_events"`
}

type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	Enabled bool   `mapstructure:"enabled"`
}

// ChainConfig describes the custodial hot wallet and the settlement network
// endpoint. PrivateKey is the only signing secret in the system; it is used
// exclusively by the withdrawal executor.
type ChainConfig struct {
	RPCURL        string `mapstructure:"rpc_url"`
	ChainID       int64  `mapstructure:"chain_id"`
	WalletAddress string `mapstructure:"wallet_address"`
	PrivateKey    string `mapstructure:"private_key"`
	InboundBlocks int    `mapstructure:"inbound_blocks"` // how many recent blocks to scan for deposits
}

type OracleConfig struct {
	Symbol           string        `mapstructure:"symbol"`             // e.g. ETHUSDT for the Binance source
	AssetID          string        `mapstructure:"asset_id"`           // e.g. ethereum for the CoinGecko source
	SoftTTL          time.Duration `mapstructure:"soft_ttl"`           // serve from cache without network inside this window
	HardStaleness    time.Duration `mapstructure:"hard_staleness"`     // absolute ceiling for serving a stale cached price
	PerSourceTimeout time.Duration `mapstructure:"per_source_timeout"` // HTTP timeout for each individual source
}

// BusinessConfig holds every money-movement knob recognized by the core.
type BusinessConfig struct {
	MinWithdrawUSD       decimal.Decimal `mapstructure:"min_withdraw_usd"`
	MaxWithdrawUSD       decimal.Decimal `mapstructure:"max_withdraw_usd"`
	WithdrawFeePercent   decimal.Decimal `mapstructure:"withdraw_fee_percent"` // 0.01 = 1%
	MaxWithdrawalsPerDay int             `mapstructure:"max_withdrawals_per_day"`
	WalletReserve        decimal.Decimal `mapstructure:"wallet_reserve"` // asset units kept back for network fees

	DepositTTL           time.Duration   `mapstructure:"deposit_ttl"`
	DepositBufferPercent decimal.Decimal `mapstructure:"deposit_buffer_percent"` // 0.01 = 1%
	DepositMinAsset      decimal.Decimal `mapstructure:"deposit_min_asset"`
	MatchTolerance       decimal.Decimal `mapstructure:"match_tolerance"` // asset units

	ExchangeRate         int64           `mapstructure:"exchange_rate"` // points per 1 USD
	ExchangeWeeklyCapUSD decimal.Decimal `mapstructure:"exchange_weekly_cap_usd"`

	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ConfirmRetries    int           `mapstructure:"confirm_retries"`
	ConfirmBackoff    time.Duration `mapstructure:"confirm_backoff"`
}

// LoadConfig reads and parses the YAML configuration file. Startup without a
// valid configuration is pointless, so failures are fatal.
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("read config: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config, decimalDecodeHook); err != nil {
		log.Fatalf("parse config: %v", err)
	}

	applyDefaults(config)
	return config
}

func applyDefaults(c *Config) {
	if c.Oracle.SoftTTL == 0 {
		c.Oracle.SoftTTL = 90 * time.Minute
	}
	if c.Oracle.HardStaleness == 0 {
		c.Oracle.HardStaleness = 24 * time.Hour
	}
	if c.Oracle.PerSourceTimeout == 0 {
		c.Oracle.PerSourceTimeout = 10 * time.Second
	}
	if c.Business.DepositTTL == 0 {
		c.Business.DepositTTL = 20 * time.Minute
	}
	if c.Business.ReconcileInterval == 0 {
		c.Business.ReconcileInterval = 30 * time.Second
	}
	if c.Business.ConfirmRetries == 0 {
		c.Business.ConfirmRetries = 5
	}
	if c.Business.ConfirmBackoff == 0 {
		c.Business.ConfirmBackoff = 3 * time.Second
	}
	if c.Business.MaxWithdrawalsPerDay == 0 {
		c.Business.MaxWithdrawalsPerDay = 3
	}
	if c.Chain.InboundBlocks == 0 {
		c.Chain.InboundBlocks = 20
	}
}
