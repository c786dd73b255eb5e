package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Chain    ChainConfig    `mapstructure:"chain"`
	Subgraph SubgraphConfig `mapstructure:"subgraph"`
	Buyer    BuyerConfig    `mapstructure:"buyer"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ChainConfig holds RPC endpoint and signing configuration
type ChainConfig struct {
	RPCURL      string        `mapstructure:"rpc_url"`
	PrivateKey  string        `mapstructure:"private_key"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// SubgraphConfig holds the GraphQL endpoint configuration
type SubgraphConfig struct {
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// BuyerConfig holds budget and market selection configuration
type BuyerConfig struct {
	WeeklySpendLimit float64       `mapstructure:"weekly_spend_limit"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	GasLimitFactor   float64       `mapstructure:"gas_limit_factor"`
	MaxUnitsPerTopic int           `mapstructure:"max_units_per_topic"`
	PairFilter       string        `mapstructure:"pair_filter"`
	TimeframeFilter  string        `mapstructure:"timeframe_filter"`
	SourceFilter     string        `mapstructure:"source_filter"`
	OwnerAddrs       string        `mapstructure:"owner_addrs"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	NotifyCycles   bool          `mapstructure:"notify_cycles"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds the audit journal configuration
type StorageConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	DBPath         string `mapstructure:"db_path"`
	MaxCycles      int    `mapstructure:"max_cycles"`
	RotateSchedule string `mapstructure:"rotate_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
// An empty path skips the config file and relies on defaults and env.
func Load(path string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	v := viper.New()

	setDefaults(v)

	// DFBUYER_CHAIN_RPC_URL overrides chain.rpc_url, and so on
	v.SetEnvPrefix("DFBUYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func loadDotenv() error {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// setDefaults configures default values for all configuration options.
// Every key is registered so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Chain defaults
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.dial_timeout", "30s")

	// Subgraph defaults
	v.SetDefault("subgraph.url", "")
	v.SetDefault("subgraph.timeout", "30s")
	v.SetDefault("subgraph.max_retries", 3)
	v.SetDefault("subgraph.retry_delay_base", "1s")

	// Buyer defaults
	v.SetDefault("buyer.weekly_spend_limit", 0.0)
	v.SetDefault("buyer.poll_interval", "1s")
	v.SetDefault("buyer.gas_limit_factor", 0.99)
	v.SetDefault("buyer.max_units_per_topic", 1000)
	v.SetDefault("buyer.pair_filter", "")
	v.SetDefault("buyer.timeframe_filter", "")
	v.SetDefault("buyer.source_filter", "")
	v.SetDefault("buyer.owner_addrs", "")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.notify_cycles", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.max_cycles", 10000)
	v.SetDefault("storage.rotate_schedule", "@every 10m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Chain config
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.PrivateKey == "" {
		return fmt.Errorf("chain.private_key is required")
	}

	// Validate Subgraph config
	if c.Subgraph.URL == "" {
		return fmt.Errorf("subgraph.url is required")
	}
	if c.Subgraph.MaxRetries < 0 {
		return fmt.Errorf("subgraph.max_retries must not be negative")
	}

	// Validate Buyer config
	if c.Buyer.WeeklySpendLimit <= 0 {
		return fmt.Errorf("buyer.weekly_spend_limit must be positive")
	}
	if c.Buyer.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("buyer.poll_interval must be at least 100ms")
	}
	if c.Buyer.GasLimitFactor <= 0 || c.Buyer.GasLimitFactor > 1 {
		return fmt.Errorf("buyer.gas_limit_factor must be in (0, 1]")
	}
	if c.Buyer.MaxUnitsPerTopic < 1 {
		return fmt.Errorf("buyer.max_units_per_topic must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.Enabled {
		if c.Storage.MaxCycles < 1 {
			return fmt.Errorf("storage.max_cycles must be at least 1")
		}
		if _, err := cron.ParseStandard(c.Storage.RotateSchedule); err != nil {
			return fmt.Errorf("storage.rotate_schedule is invalid: %w", err)
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
