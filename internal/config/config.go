// Package config defines all configuration for the transaction pipeline.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via BOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Wallets  map[string]string `mapstructure:"wallets"` // wallet ID -> hex private key
	API      APIConfig         `mapstructure:"api"`
	Pipeline PipelineConfig    `mapstructure:"pipeline"`
	Gateway  GatewayConfig     `mapstructure:"gateway"`
	Cache    CacheConfig       `mapstructure:"cache"`
	Monitor  MonitorConfig     `mapstructure:"monitor"`
	Store    StoreConfig       `mapstructure:"store"`
	Logging  LoggingConfig     `mapstructure:"logging"`
}

// APIConfig holds upstream endpoints and credentials.
type APIConfig struct {
	MarketBaseURL string `mapstructure:"market_base_url"` // market-data REST API
	MarketAPIKey  string `mapstructure:"market_api_key"`
	RPCURL        string `mapstructure:"rpc_url"` // transaction submission endpoint
}

// PipelineConfig bounds the dispatcher.
//
//   - MaxConcurrent: hard ceiling on simultaneously processing requests.
//   - ResultRetention: how long terminal results stay in the ledger before
//     being pruned (24h in the reference deployment).
type PipelineConfig struct {
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	ResultRetention time.Duration `mapstructure:"result_retention"`
}

// GatewayConfig tunes outbound-call throttling and retries. One gateway
// instance is created per upstream, all sharing these values.
type GatewayConfig struct {
	CallsPerSecond     int           `mapstructure:"calls_per_second"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryBackoffFactor float64       `mapstructure:"retry_backoff_factor"`
}

// CacheConfig sizes the bounded caches (transaction read-through and alert
// cooldown state).
type CacheConfig struct {
	Capacity      int           `mapstructure:"capacity"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// MonitorConfig controls the liquidity threshold monitor.
//
//   - MinLiquidity: absolute floor, alert when below.
//   - DropThreshold / SurgeThreshold: percent change over 24h that counts
//     as a drop or surge.
//   - AlertCooldown: minimum time between two alerts for the same token.
type MonitorConfig struct {
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	MinLiquidity          float64       `mapstructure:"min_liquidity"`
	DropThreshold         float64       `mapstructure:"liquidity_drop_threshold"`
	SurgeThreshold        float64       `mapstructure:"liquidity_surge_threshold"`
	AlertCooldown         time.Duration `mapstructure:"alert_cooldown"`
	AlertHistoryRetention time.Duration `mapstructure:"alert_history_retention"`
	Tokens                []string      `mapstructure:"tokens"` // watched at startup
}

// StoreConfig sets where execution results are persisted. An empty path
// disables persistence and the pipeline runs with its in-memory ledger only.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: BOT_MARKET_API_KEY, BOT_RPC_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("BOT_MARKET_API_KEY"); key != "" {
		cfg.API.MarketAPIKey = key
	}
	if url := os.Getenv("BOT_RPC_URL"); url != "" {
		cfg.API.RPCURL = url
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Pipeline.ResultRetention == 0 {
		c.Pipeline.ResultRetention = 24 * time.Hour
	}
	if c.Monitor.AlertHistoryRetention == 0 {
		c.Monitor.AlertHistoryRetention = 24 * time.Hour
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = time.Minute
	}
	if c.Gateway.RetryBackoffFactor == 0 {
		c.Gateway.RetryBackoffFactor = 2.0
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Wallets) == 0 {
		return fmt.Errorf("at least one wallet is required under wallets")
	}
	if c.API.MarketBaseURL == "" {
		return fmt.Errorf("api.market_base_url is required")
	}
	if c.API.RPCURL == "" {
		return fmt.Errorf("api.rpc_url is required")
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("pipeline.max_concurrent must be > 0")
	}
	if c.Gateway.CallsPerSecond <= 0 {
		return fmt.Errorf("gateway.calls_per_second must be > 0")
	}
	if c.Gateway.MaxRetries <= 0 {
		return fmt.Errorf("gateway.max_retries must be > 0")
	}
	if c.Gateway.RetryBaseDelay <= 0 {
		return fmt.Errorf("gateway.retry_base_delay must be > 0")
	}
	if c.Gateway.RetryBackoffFactor < 1 {
		return fmt.Errorf("gateway.retry_backoff_factor must be >= 1")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be > 0")
	}
	if c.Monitor.AlertCooldown <= 0 {
		return fmt.Errorf("monitor.alert_cooldown must be > 0")
	}
	return nil
}
