package indicator

// The catalog maps indicator kinds to their warmup requirement. It is built
// once at package init and never mutated afterwards, so concurrent sessions
// read it without locking.
var warmupCatalog = map[string]func(Spec) int{
	"sma": func(s Spec) int { return param(s, "period", 20) },
	"ema": func(s Spec) int { return param(s, "period", 20) * 2 },
	"rsi": func(s Spec) int { return param(s, "period", 14) + 1 },
	"roc": func(s Spec) int { return param(s, "period", 9) + 1 },
	"atr": func(s Spec) int { return param(s, "period", 14) + 1 },
	"macd": func(s Spec) int {
		return param(s, "slow", 26) + param(s, "signal", 9)
	},
	"bbands": func(s Spec) int { return param(s, "period", 20) },
	"stoch": func(s Spec) int {
		return param(s, "k", 14) + param(s, "smooth", 3) + param(s, "d", 3)
	},
}

// Warmup returns the minimum candle count spec needs before Compute can
// produce a value. ok is false for unknown kinds.
func Warmup(spec Spec) (int, bool) {
	fn, ok := warmupCatalog[spec.Kind]
	if !ok {
		return 0, false
	}
	return fn(spec), true
}

// KnownKind reports whether the catalog recognizes the indicator kind.
func KnownKind(kind string) bool {
	_, ok := warmupCatalog[kind]
	return ok
}
