package config

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var defaultInitialEquity = decimal.NewFromInt(10000)

func validate(c *Config) error {
	switch c.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("mode must be paper or live, got %q", c.Mode)
	}
	if c.Mode == "live" && (c.Binance.APIKey == "" || c.Binance.APISecret == "") {
		return fmt.Errorf("live mode requires binance api_key and api_secret")
	}
	if !c.InitialEquity.IsPositive() {
		return fmt.Errorf("initial_equity must be positive, got %s", c.InitialEquity)
	}
	if c.Backtest.CommissionRate.IsNegative() {
		return fmt.Errorf("backtest commission_rate cannot be negative")
	}
	if c.Backtest.SlippageRate.IsNegative() {
		return fmt.Errorf("backtest slippage_rate cannot be negative")
	}
	return nil
}
