package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
data_dir: /tmp/fathom-test
strategies_dir: /tmp/fathom-test/strategies
mode: paper
initial_equity: "25000.50"
binance:
  rest_base_url: https://testnet.binancefuture.com
  http_timeout_seconds: 30
backtest:
  max_concurrent: 4
  commission_rate: "0.0004"
  slippage_rate: "0.0001"
execution:
  max_attempts: 5
  initial_backoff_ms: 250
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "paper", cfg.Mode)
	assert.True(t, cfg.InitialEquity.Equal(decimal.RequireFromString("25000.50")))
	assert.Equal(t, 30, cfg.Binance.HTTPTimeoutSeconds)
	assert.Equal(t, 4, cfg.Backtest.MaxConcurrent)
	assert.True(t, cfg.Backtest.CommissionRate.Equal(decimal.RequireFromString("0.0004")))
	assert.Equal(t, 5, cfg.Execution.MaxAttempts)
	assert.Equal(t, 250, cfg.Execution.InitialBackoffMS)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `mode: paper`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "strategies", cfg.StrategiesDir)
	assert.True(t, cfg.InitialEquity.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 15, cfg.Binance.HTTPTimeoutSeconds)
	assert.Equal(t, 2, cfg.Backtest.MaxConcurrent)
	assert.Equal(t, 3, cfg.Execution.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Execution.BackoffFactor)
}

func TestLoadDecimalFromNumberLiteral(t *testing.T) {
	// numbers decode through their literal form, not through float math
	cfg, err := Load(writeConfig(t, `
initial_equity: 12345.67
`))
	require.NoError(t, err)
	assert.True(t, cfg.InitialEquity.Equal(decimal.RequireFromString("12345.67")),
		"got %s", cfg.InitialEquity)
}

func TestLoadRejectsBadMode(t *testing.T) {
	_, err := Load(writeConfig(t, `mode: dry-run`))
	assert.Error(t, err)
}

func TestLoadLiveModeRequiresCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `mode: live`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")

	cfg, err := Load(writeConfig(t, `
mode: live
binance:
  api_key: k
  api_secret: s
`))
	require.NoError(t, err)
	assert.Equal(t, "live", cfg.Mode)
}

func TestLoadRejectsNegativeRates(t *testing.T) {
	_, err := Load(writeConfig(t, `
backtest:
  commission_rate: "-0.01"
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}
