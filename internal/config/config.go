// Package config loads process configuration from the environment and the
// economy tables from YAML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/settlement_layer/internal/chain"
)

// Config is the environment configuration of settlementd.
type Config struct {
	Addr          string `env:"SETTLE_ADDR"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	Cluster         string `env:"LEDGER_CLUSTER"`
	RPCMainnet      string `env:"LEDGER_RPC_MAINNET"`
	RPCDevnet       string `env:"LEDGER_RPC_DEVNET"`
	TreasuryMainnet string `env:"TREASURY_MAINNET"`
	TreasuryDevnet  string `env:"TREASURY_DEVNET"`

	InitPriceSOL         float64       `env:"INIT_PRICE_SOL"`
	PaymentMaxAgeMinutes int           `env:"PAYMENT_MAX_AGE_MINUTES"`
	VerifyTimeout        time.Duration `env:"VERIFY_TIMEOUT"`
	VerifyPollInterval   time.Duration `env:"VERIFY_POLL_INTERVAL"`
	AllowMockPayments    bool          `env:"ALLOW_MOCK_PAYMENTS"`

	RateLimitRPS      float64 `env:"RATE_LIMIT_RPS"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST"`
	ReconcileSchedule string  `env:"RECONCILE_SCHEDULE"`

	LogLevel      string `env:"LOG_LEVEL"`
	LogFormat     string `env:"LOG_FORMAT"`
	CORSOrigins   string `env:"CORS_ORIGINS"`
	ClaimEpoch    string `env:"CLAIM_EPOCH"`
	EconomyConfig string `env:"ECONOMY_CONFIG"`
	AuditLogPath  string `env:"AUDIT_LOG_PATH"`
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		Addr:                 ":8080",
		Cluster:              string(chain.ClusterDevnet),
		RPCDevnet:            chain.PublicDevnetRPC,
		InitPriceSOL:         0.5,
		PaymentMaxAgeMinutes: 15,
		VerifyTimeout:        45 * time.Second,
		VerifyPollInterval:   chain.DefaultPollInterval,
		RateLimitRPS:         20,
		RateLimitBurst:       40,
		ReconcileSchedule:    "@every 15m",
		LogLevel:             "info",
		LogFormat:            "text",
		EconomyConfig:        "config/economy.yaml",
	}
}

// Load reads an optional .env file, then overlays environment variables on Default.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv overlays environment variables on Default and validates the result.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	cluster, err := chain.ParseCluster(c.Cluster)
	if err != nil {
		return err
	}
	if c.InitPriceSOL <= 0 {
		return fmt.Errorf("INIT_PRICE_SOL must be positive")
	}
	if c.PaymentMaxAgeMinutes <= 0 {
		return fmt.Errorf("PAYMENT_MAX_AGE_MINUTES must be positive")
	}
	if c.VerifyTimeout <= 0 || c.VerifyPollInterval <= 0 {
		return fmt.Errorf("VERIFY_TIMEOUT and VERIFY_POLL_INTERVAL must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	if cluster == chain.ClusterMainnet && c.AllowMockPayments {
		return fmt.Errorf("ALLOW_MOCK_PAYMENTS cannot be enabled on %s", cluster)
	}
	if c.Treasury(cluster) == "" && !c.AllowMockPayments {
		return fmt.Errorf("treasury address for cluster %s is required", cluster)
	}
	if _, err := c.Epoch(); err != nil {
		return err
	}
	return nil
}

// LedgerCluster returns the parsed cluster.
func (c Config) LedgerCluster() chain.Cluster {
	cluster, err := chain.ParseCluster(c.Cluster)
	if err != nil {
		return chain.ClusterDevnet
	}
	return cluster
}

// Treasury returns the treasury address for cluster.
func (c Config) Treasury(cluster chain.Cluster) string {
	if cluster == chain.ClusterMainnet {
		return c.TreasuryMainnet
	}
	return c.TreasuryDevnet
}

// RPCURL returns the primary RPC endpoint for cluster.
func (c Config) RPCURL(cluster chain.Cluster) string {
	if cluster == chain.ClusterMainnet {
		return c.RPCMainnet
	}
	if c.RPCDevnet == "" {
		return chain.PublicDevnetRPC
	}
	return c.RPCDevnet
}

// PaymentMaxAge returns the oldest acceptable payment age.
func (c Config) PaymentMaxAge() time.Duration {
	return time.Duration(c.PaymentMaxAgeMinutes) * time.Minute
}

// Origins splits CORS_ORIGINS on commas.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Epoch is the virtual previous claim time of an account that never claimed.
func (c Config) Epoch() (time.Time, error) {
	if c.ClaimEpoch == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, c.ClaimEpoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("CLAIM_EPOCH: %w", err)
	}
	return t.UTC(), nil
}
