package indicator

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"fathom/internal/market"
)

// TalibProvider computes indicators with go-talib. Candle decimals are
// converted to float64 at this boundary only; the last value of each series is
// converted back to decimal before anything else sees it.
type TalibProvider struct{}

func NewTalibProvider() *TalibProvider {
	return &TalibProvider{}
}

func (p *TalibProvider) Compute(_ context.Context, spec Spec, window []market.Candle) (Value, error) {
	warm, ok := Warmup(spec)
	if !ok {
		return Value{}, fmt.Errorf("unknown indicator kind: %s", spec.Kind)
	}
	if len(window) < warm {
		return Value{}, fmt.Errorf("%w: %s needs %d candles, have %d",
			ErrInsufficientData, spec.Name, warm, len(window))
	}

	closes := market.Closes(window)
	switch spec.Kind {
	case "sma":
		return lastScalar(spec, talib.Sma(closes, param(spec, "period", 20)))
	case "ema":
		return lastScalar(spec, talib.Ema(closes, param(spec, "period", 20)))
	case "rsi":
		return lastScalar(spec, talib.Rsi(closes, param(spec, "period", 14)))
	case "roc":
		return lastScalar(spec, talib.Roc(closes, param(spec, "period", 9)))
	case "atr":
		highs := market.Highs(window)
		lows := market.Lows(window)
		return lastScalar(spec, talib.Atr(highs, lows, closes, param(spec, "period", 14)))
	case "macd":
		macd, signal, hist := talib.Macd(closes,
			param(spec, "fast", 12), param(spec, "slow", 26), param(spec, "signal", 9))
		return lastComposite(spec, map[string][]float64{
			"macd":      macd,
			"signal":    signal,
			"histogram": hist,
		})
	case "bbands":
		upper, middle, lower := talib.BBands(closes,
			param(spec, "period", 20), 2.0, 2.0, talib.SMA)
		return lastComposite(spec, map[string][]float64{
			"upper":  upper,
			"middle": middle,
			"lower":  lower,
		})
	case "stoch":
		highs := market.Highs(window)
		lows := market.Lows(window)
		k, d := talib.Stoch(highs, lows, closes,
			param(spec, "k", 14), param(spec, "smooth", 3), talib.SMA,
			param(spec, "d", 3), talib.SMA)
		return lastComposite(spec, map[string][]float64{"k": k, "d": d})
	default:
		return Value{}, fmt.Errorf("unknown indicator kind: %s", spec.Kind)
	}
}

func param(spec Spec, key string, def int) int {
	if v, ok := spec.Params[key]; ok && v > 0 {
		return v
	}
	return def
}

func lastScalar(spec Spec, series []float64) (Value, error) {
	f, err := lastFinite(spec, series)
	if err != nil {
		return Value{}, err
	}
	return scalar(spec.Name, f), nil
}

func lastComposite(spec Spec, components map[string][]float64) (Value, error) {
	parts := make(map[string]float64, len(components))
	for name, series := range components {
		f, err := lastFinite(spec, series)
		if err != nil {
			return Value{}, err
		}
		parts[name] = f
	}
	return composite(spec.Name, parts), nil
}

// lastFinite returns the final series value; talib pads the warmup prefix with
// zeros or NaN depending on the function, so a non-finite tail means the
// window was still too short.
func lastFinite(spec Spec, series []float64) (float64, error) {
	if len(series) == 0 {
		return 0, fmt.Errorf("%w: %s produced empty series", ErrInsufficientData, spec.Name)
	}
	f := series[len(series)-1]
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s tail not warmed up", ErrInsufficientData, spec.Name)
	}
	return f, nil
}
