// Package config loads the daemon configuration from defaults, an optional
// config file and OPTIOND_-prefixed environment variables, in that priority
// order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`

	Accounts AccountsConfig `mapstructure:"accounts"`
	Option   OptionConfig   `mapstructure:"option"`
	Fees     FeesConfig     `mapstructure:"fees"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Store    StoreConfig    `mapstructure:"store"`
}

// AccountsConfig names the protocol accounts.
type AccountsConfig struct {
	Owner    string `mapstructure:"owner"`
	Registry string `mapstructure:"registry"`
	Admin    string `mapstructure:"admin"`
	Staking  string `mapstructure:"staking"`
	Pool     string `mapstructure:"pool"`
}

// OptionConfig carries the slot-defining parameters of the traded series.
type OptionConfig struct {
	// Strike in price units with 8 fractional decimal digits.
	Strike int64 `mapstructure:"strike"`
	// ExpiryPeriod is added to the startup time to form the first
	// expiration.
	ExpiryPeriod       time.Duration `mapstructure:"expiry_period"`
	Type               string        `mapstructure:"type"`
	CollateralRatioPct int64         `mapstructure:"collateral_ratio_pct"`
	AutoCloseWindow    time.Duration `mapstructure:"auto_close_window"`
}

// FeesConfig carries the fee percentages and the premium model rate.
type FeesConfig struct {
	SettlementFeePct  int64 `mapstructure:"settlement_fee_pct"`
	StakingFeePct     int64 `mapstructure:"staking_fee_pct"`
	ReferralRewardPct int64 `mapstructure:"referral_reward_pct"`
	// IVRate is the implied-volatility rate of the time-value premium
	// model, in price-scale units.
	IVRate int64 `mapstructure:"iv_rate"`
}

// OracleConfig seeds the standalone price feed.
type OracleConfig struct {
	// Price in price units with 8 fractional decimal digits.
	Price int64 `mapstructure:"price"`
}

// StoreConfig configures the closed-position archive.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	Compressor string `mapstructure:"compressor"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("listen", "127.0.0.1:8642")

	v.SetDefault("accounts.owner", "owner")
	v.SetDefault("accounts.registry", "registry")
	v.SetDefault("accounts.admin", "admin")
	v.SetDefault("accounts.staking", "staking")
	v.SetDefault("accounts.pool", "pool")

	v.SetDefault("option.strike", 100_00000000)
	v.SetDefault("option.expiry_period", 24*time.Hour)
	v.SetDefault("option.type", "call")
	v.SetDefault("option.collateral_ratio_pct", 100)
	v.SetDefault("option.auto_close_window", 30*time.Minute)

	v.SetDefault("fees.settlement_fee_pct", 5)
	v.SetDefault("fees.staking_fee_pct", 75)
	v.SetDefault("fees.referral_reward_pct", 25)
	v.SetDefault("fees.iv_rate", 5500)

	v.SetDefault("oracle.price", 100_00000000)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.path", "")
	v.SetDefault("store.compressor", "lz4")
}

// Load builds the configuration. An empty path skips the file stage.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("OPTIOND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	for name, acct := range map[string]string{
		"owner":    c.Accounts.Owner,
		"registry": c.Accounts.Registry,
		"admin":    c.Accounts.Admin,
		"staking":  c.Accounts.Staking,
		"pool":     c.Accounts.Pool,
	} {
		if acct == "" {
			return fmt.Errorf("accounts.%s cannot be empty", name)
		}
	}
	if c.Option.Strike <= 0 {
		return fmt.Errorf("option.strike must be positive")
	}
	if c.Option.ExpiryPeriod <= 0 {
		return fmt.Errorf("option.expiry_period must be positive")
	}
	if c.Option.Type != "call" && c.Option.Type != "put" {
		return fmt.Errorf("option.type must be call or put, got %q", c.Option.Type)
	}
	if c.Option.CollateralRatioPct < 0 || c.Option.CollateralRatioPct > 100 {
		return fmt.Errorf("option.collateral_ratio_pct out of range: %d", c.Option.CollateralRatioPct)
	}
	if c.Option.AutoCloseWindow < 0 {
		return fmt.Errorf("option.auto_close_window cannot be negative")
	}
	for name, pct := range map[string]int64{
		"settlement_fee_pct":  c.Fees.SettlementFeePct,
		"staking_fee_pct":     c.Fees.StakingFeePct,
		"referral_reward_pct": c.Fees.ReferralRewardPct,
	} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("fees.%s out of range: %d", name, pct)
		}
	}
	if c.Fees.IVRate <= 0 {
		return fmt.Errorf("fees.iv_rate must be positive")
	}
	if c.Oracle.Price <= 0 {
		return fmt.Errorf("oracle.price must be positive")
	}
	switch c.Store.Backend {
	case "memory":
	case "pebble":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the pebble backend")
		}
	default:
		return fmt.Errorf("unknown store.backend: %q", c.Store.Backend)
	}
	return nil
}
