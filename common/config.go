package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
)

type Config struct {
	ListenAddr    string `json:"listen_addr"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisPrefix   string `json:"redis_prefix"`

	StripeSecretKey     string `json:"stripe_secret_key"`
	StripeWebhookSecret string `json:"stripe_webhook_secret"`

	CheckoutSuccessURL string `json:"checkout_success_url"`
	CheckoutCancelURL  string `json:"checkout_cancel_url"`
	PortalReturnURL    string `json:"portal_return_url"`

	// Dunning windows for failed invoice payments. The defaults mirror the
	// production Stripe retry cadence but are tunable per environment.
	RetryDelayDays  int    `json:"retry_delay_days"`
	GracePeriodDays int    `json:"grace_period_days"`
	RetryInterval   string `json:"retry_interval"` // scheduler poll interval, e.g. "1h"

	ApiKey       string `json:"api_key"`
	ApiKeySecret string `json:"api_key_secret"`
}

func LoadConfig(dir string) (*Config, error) {
	cfg := DefaultConfig()

	// Load config (JSON + env overrides)
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = DEFAULT_CONFIG_FILE
	}

	if !strings.HasPrefix(configPath, "/") && dir != "" {
		configPath = path.Join(dir, configPath)
	}

	if _, err := os.Stat(configPath); err == nil {
		fileCfg, err := LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg.applyConfigOverrides(fileCfg)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			dec := json.NewDecoder(f)
			_ = dec.Decode(&cfg) // ignore error, fallback to env/defaults
		}
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      DEFAULT_LISTEN_ADDR,
		RedisAddr:       DEFAULT_REDIS_ADDR,
		RedisPassword:   "",
		RedisPrefix:     DEFAULT_REDIS_PREFIX,
		RetryDelayDays:  DEFAULT_RETRY_DELAY_DAYS,
		GracePeriodDays: DEFAULT_GRACE_PERIOD_DAYS,
		RetryInterval:   DEFAULT_RETRY_INTERVAL,
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("REDIS_PREFIX"); v != "" {
		c.RedisPrefix = v
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		c.StripeSecretKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		c.StripeWebhookSecret = v
	}
	if v := os.Getenv("CHECKOUT_SUCCESS_URL"); v != "" {
		c.CheckoutSuccessURL = v
	}
	if v := os.Getenv("CHECKOUT_CANCEL_URL"); v != "" {
		c.CheckoutCancelURL = v
	}
	if v := os.Getenv("PORTAL_RETURN_URL"); v != "" {
		c.PortalReturnURL = v
	}
	if v := os.Getenv("RETRY_DELAY_DAYS"); v != "" {
		c.RetryDelayDays = atoiOrDefault(v, c.RetryDelayDays)
	}
	if v := os.Getenv("GRACE_PERIOD_DAYS"); v != "" {
		c.GracePeriodDays = atoiOrDefault(v, c.GracePeriodDays)
	}
	if v := os.Getenv("RETRY_INTERVAL"); v != "" {
		c.RetryInterval = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.ApiKey = v
	}
	if v := os.Getenv("API_KEY_SECRET"); v != "" {
		c.ApiKeySecret = v
	}
}

func (c *Config) applyConfigOverrides(cfg *Config) {
	if cfg.ListenAddr != "" {
		c.ListenAddr = cfg.ListenAddr
	}
	if cfg.RedisAddr != "" {
		c.RedisAddr = cfg.RedisAddr
	}
	if cfg.RedisPassword != "" {
		c.RedisPassword = cfg.RedisPassword
	}
	if cfg.RedisPrefix != "" {
		c.RedisPrefix = cfg.RedisPrefix
	}
	if cfg.StripeSecretKey != "" {
		c.StripeSecretKey = cfg.StripeSecretKey
	}
	if cfg.StripeWebhookSecret != "" {
		c.StripeWebhookSecret = cfg.StripeWebhookSecret
	}
	if cfg.CheckoutSuccessURL != "" {
		c.CheckoutSuccessURL = cfg.CheckoutSuccessURL
	}
	if cfg.CheckoutCancelURL != "" {
		c.CheckoutCancelURL = cfg.CheckoutCancelURL
	}
	if cfg.PortalReturnURL != "" {
		c.PortalReturnURL = cfg.PortalReturnURL
	}
	if cfg.RetryDelayDays != 0 {
		c.RetryDelayDays = cfg.RetryDelayDays
	}
	if cfg.GracePeriodDays != 0 {
		c.GracePeriodDays = cfg.GracePeriodDays
	}
	if cfg.RetryInterval != "" {
		c.RetryInterval = cfg.RetryInterval
	}
	if cfg.ApiKey != "" {
		c.ApiKey = cfg.ApiKey
	}
	if cfg.ApiKeySecret != "" {
		c.ApiKeySecret = cfg.ApiKeySecret
	}
}

// RetryDelay is the wait before the first scheduled retry of a failed invoice.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayDays) * 24 * time.Hour
}

// GracePeriod is the window after a failed invoice during which the
// subscription stays past_due before becoming an escalation candidate.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodDays) * 24 * time.Hour
}

// RetryPollInterval parses the scheduler poll interval, falling back to 1h.
func (c *Config) RetryPollInterval() time.Duration {
	d, err := time.ParseDuration(c.RetryInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

func atoiOrDefault(s string, def int) int {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return def
	}
	return n
}
