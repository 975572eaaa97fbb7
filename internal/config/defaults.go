package config

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.StrategiesDir == "" {
		c.StrategiesDir = "strategies"
	}
	if c.Mode == "" {
		c.Mode = "paper"
	}
	if c.InitialEquity.IsZero() {
		c.InitialEquity = defaultInitialEquity
	}
	if c.Binance.HTTPTimeoutSeconds <= 0 {
		c.Binance.HTTPTimeoutSeconds = 15
	}
	if c.Backtest.MaxConcurrent <= 0 {
		c.Backtest.MaxConcurrent = 2
	}
	if c.Backtest.ReportsDir == "" {
		c.Backtest.ReportsDir = "reports"
	}
	if c.Execution.MaxAttempts <= 0 {
		c.Execution.MaxAttempts = 3
	}
	if c.Execution.InitialBackoffMS <= 0 {
		c.Execution.InitialBackoffMS = 100
	}
	if c.Execution.MaxBackoffMS <= 0 {
		c.Execution.MaxBackoffMS = 5000
	}
	if c.Execution.BackoffFactor <= 1 {
		c.Execution.BackoffFactor = 2.0
	}
	if c.Execution.JitterFactor < 0 {
		c.Execution.JitterFactor = 0
	}
}
