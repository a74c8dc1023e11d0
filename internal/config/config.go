// Package config loads application configuration from config.yaml and
// FUNDSIGNAL_-prefixed environment variables.
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Runtime modes. Fixture mode loads provider evidence from recorded bundles
// and performs no network I/O.
const (
	ModeOnline  = "online"
	ModeFixture = "fixture"
)

// Config holds the full application configuration.
type Config struct {
	Mode      string          `yaml:"mode" mapstructure:"mode"`
	Fixtures  FixtureConfig   `yaml:"fixtures" mapstructure:"fixtures"`
	Youcom    ProviderConfig  `yaml:"youcom" mapstructure:"youcom"`
	Tavily    ProviderConfig  `yaml:"tavily" mapstructure:"tavily"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Capture   CaptureConfig   `yaml:"capture" mapstructure:"capture"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Bundle    BundleConfig    `yaml:"bundle" mapstructure:"bundle"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// FixtureConfig points at recorded provider evidence for fixture mode.
type FixtureConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ProviderConfig holds credentials and tuning for a search provider.
type ProviderConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	QPS         float64 `yaml:"qps" mapstructure:"qps"`
	Limit       int     `yaml:"limit" mapstructure:"limit"`
}

// AnthropicConfig holds Anthropic API settings for readiness scoring.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// CaptureConfig tunes the online capture pipeline.
type CaptureConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxRetries       int `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// BundleConfig configures bundle manifest signing.
type BundleConfig struct {
	SigningKey string `yaml:"signing_key" mapstructure:"signing_key"`
	ExpiryDays int    `yaml:"expiry_days" mapstructure:"expiry_days"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUNDSIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("mode", ModeFixture)
	v.SetDefault("fixtures.dir", "fixtures/sample")
	v.SetDefault("youcom.base_url", "https://api.you.com/v1")
	v.SetDefault("youcom.timeout_secs", 10)
	v.SetDefault("youcom.qps", 2.0)
	v.SetDefault("youcom.limit", 8)
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("tavily.timeout_secs", 10)
	v.SetDefault("tavily.qps", 2.0)
	v.SetDefault("tavily.limit", 8)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("capture.concurrency", 4)
	v.SetDefault("capture.max_retries", 3)
	v.SetDefault("capture.initial_backoff_ms", 500)
	v.SetDefault("capture.max_backoff_ms", 30000)
	v.SetDefault("capture.breaker_threshold", 5)
	v.SetDefault("capture.breaker_reset_secs", 30)
	v.SetDefault("bundle.expiry_days", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "fundsignal.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Mode != ModeOnline && cfg.Mode != ModeFixture {
		return nil, eris.Errorf("config: unsupported mode %q", cfg.Mode)
	}

	// Legacy signing key variable, still honored for existing deployments.
	if cfg.Bundle.SigningKey == "" {
		cfg.Bundle.SigningKey = os.Getenv("BUNDLE_HMAC_KEY")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
