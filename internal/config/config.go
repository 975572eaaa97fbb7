// Package config loads the process configuration from YAML with viper.
// Defaults apply to everything left unset; validation runs before the config
// is handed out so later code never re-checks.
package config

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

// Config is the full process configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	// StrategiesDir holds the YAML strategy definitions; it is watched for
	// changes at runtime.
	StrategiesDir string `yaml:"strategies_dir"`

	// Mode selects the order venue: "paper" or "live".
	Mode string `yaml:"mode"`

	InitialEquity decimal.Decimal `yaml:"initial_equity"`

	Binance   BinanceConfig   `yaml:"binance"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Execution ExecutionConfig `yaml:"execution"`
}

// BinanceConfig configures the market data feed and the live venue.
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	RESTBaseURL        string `yaml:"rest_base_url"`
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds"`

	ProxyEnabled bool   `yaml:"proxy_enabled"`
	RESTProxyURL string `yaml:"rest_proxy_url"`
	WSProxyURL   string `yaml:"ws_proxy_url"`
}

// BacktestConfig tunes the replay pool and fill model.
type BacktestConfig struct {
	MaxConcurrent  int             `yaml:"max_concurrent"`
	CommissionRate decimal.Decimal `yaml:"commission_rate"`
	SlippageRate   decimal.Decimal `yaml:"slippage_rate"`
	ReportsDir     string          `yaml:"reports_dir"`
}

// ExecutionConfig tunes order submission retry.
type ExecutionConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms"`
	BackoffFactor    float64 `yaml:"backoff_factor"`
	JitterFactor     float64 `yaml:"jitter_factor"`
}

// Load reads, decodes, defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(decimalHook)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decimalHook decodes decimal fields from YAML strings or numbers. Strings
// are preferred in config files; numbers pass through NewFromString of their
// literal form to avoid float rounding.
func decimalHook(_, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch val := data.(type) {
	case string:
		return decimal.NewFromString(val)
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case float64:
		return decimal.NewFromString(fmt.Sprintf("%v", val))
	default:
		return data, nil
	}
}
