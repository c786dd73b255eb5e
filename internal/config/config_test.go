package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func validConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCURL:     "http://localhost:8545",
			PrivateKey: "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
		},
		Subgraph: SubgraphConfig{
			URL:        "http://localhost:9000/subgraphs/name/oceanprotocol/ocean-subgraph",
			MaxRetries: 3,
		},
		Buyer: BuyerConfig{
			WeeklySpendLimit: 37000,
			PollInterval:     time.Second,
			GasLimitFactor:   0.99,
			MaxUnitsPerTopic: 1000,
		},
		Storage: StorageConfig{
			Enabled:        true,
			MaxCycles:      100,
			RotateSchedule: "@every 10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestLoadAndValidate(t *testing.T) {
	content := `
chain:
  rpc_url: "http://localhost:8545"
  private_key: "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

subgraph:
  url: "http://localhost:9000/subgraphs/name/oceanprotocol/ocean-subgraph"

buyer:
  weekly_spend_limit: 37000
  poll_interval: 2s
  pair_filter: "BTC/USDT,ETH/USDT"
  timeframe_filter: "5m"

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Buyer.WeeklySpendLimit != 37000 {
		t.Errorf("Unexpected weekly spend limit: %f", cfg.Buyer.WeeklySpendLimit)
	}
	if cfg.Buyer.PollInterval != 2*time.Second {
		t.Errorf("Unexpected poll interval: %v", cfg.Buyer.PollInterval)
	}
	if cfg.Buyer.PairFilter != "BTC/USDT,ETH/USDT" {
		t.Errorf("Unexpected pair filter: %q", cfg.Buyer.PairFilter)
	}
	if cfg.Buyer.GasLimitFactor != 0.99 {
		t.Errorf("Expected default gas limit factor 0.99, got %f", cfg.Buyer.GasLimitFactor)
	}
	if cfg.Buyer.MaxUnitsPerTopic != 1000 {
		t.Errorf("Expected default max units per topic 1000, got %d", cfg.Buyer.MaxUnitsPerTopic)
	}
	if cfg.Subgraph.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Subgraph.MaxRetries)
	}
	if !cfg.Storage.Enabled {
		t.Error("Expected storage to be enabled by default")
	}
	if cfg.Storage.RotateSchedule != "@every 10m" {
		t.Errorf("Unexpected default rotate schedule: %q", cfg.Storage.RotateSchedule)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	content := `
chain:
  rpc_url: "http://localhost:8545"
subgraph:
  url: "http://localhost:9000"
buyer:
  weekly_spend_limit: 100
`
	t.Setenv("DFBUYER_CHAIN_PRIVATE_KEY", "0xabc")
	t.Setenv("DFBUYER_BUYER_WEEKLY_SPEND_LIMIT", "2500")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chain.PrivateKey != "0xabc" {
		t.Errorf("private key not taken from env: %q", cfg.Chain.PrivateKey)
	}
	if cfg.Buyer.WeeklySpendLimit != 2500 {
		t.Errorf("weekly spend limit not overridden by env: %f", cfg.Buyer.WeeklySpendLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/dfbuyer.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing rpc url",
			mutate:  func(c *Config) { c.Chain.RPCURL = "" },
			wantErr: true,
		},
		{
			name:    "missing private key",
			mutate:  func(c *Config) { c.Chain.PrivateKey = "" },
			wantErr: true,
		},
		{
			name:    "missing subgraph url",
			mutate:  func(c *Config) { c.Subgraph.URL = "" },
			wantErr: true,
		},
		{
			name:    "zero weekly limit",
			mutate:  func(c *Config) { c.Buyer.WeeklySpendLimit = 0 },
			wantErr: true,
		},
		{
			name:    "poll interval too short",
			mutate:  func(c *Config) { c.Buyer.PollInterval = 10 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "gas limit factor above one",
			mutate:  func(c *Config) { c.Buyer.GasLimitFactor = 1.5 },
			wantErr: true,
		},
		{
			name:    "zero max units per topic",
			mutate:  func(c *Config) { c.Buyer.MaxUnitsPerTopic = 0 },
			wantErr: true,
		},
		{
			name: "missing telegram token when enabled",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, ChatID: "123"}
			},
			wantErr: true,
		},
		{
			name:    "storage enabled without cap",
			mutate:  func(c *Config) { c.Storage.MaxCycles = 0 },
			wantErr: true,
		},
		{
			name:    "bad rotate schedule",
			mutate:  func(c *Config) { c.Storage.RotateSchedule = "every tuesday" },
			wantErr: true,
		},
		{
			name:    "cron rotate schedule",
			mutate:  func(c *Config) { c.Storage.RotateSchedule = "0 * * * *" },
			wantErr: false,
		},
		{
			name:    "storage disabled ignores cap",
			mutate:  func(c *Config) { c.Storage = StorageConfig{Enabled: false} },
			wantErr: false,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
