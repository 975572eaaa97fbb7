package strategy

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"fathom/internal/analysis/indicator"
	"fathom/internal/portfolio"
	"fathom/internal/risk"
	"fathom/internal/strategy/condition"
)

// definitionDoc is the on-disk YAML shape of a normalized definition.
// Condition trees arrive as tagged single-key maps and are decoded into the
// condition package's node types.
type definitionDoc struct {
	ID         string           `yaml:"id"`
	Name       string           `yaml:"name"`
	Symbol     string           `yaml:"symbol"`
	Timeframe  string           `yaml:"timeframe"`
	Indicators []indicator.Spec `yaml:"indicators"`
	Entry      map[string]any   `yaml:"entry"`
	Exit       any              `yaml:"exit"`
	Stop       any              `yaml:"stop"`
	Sizing     sizingDoc        `yaml:"sizing"`
	Limits     *limitsDoc       `yaml:"limits"`
}

type sizingDoc struct {
	Mode      string `yaml:"mode"`
	Quantity  string `yaml:"quantity"`
	EquityPct string `yaml:"equity_pct"`
}

type limitsDoc struct {
	MaxPositionSizePct     string `yaml:"max_position_size_pct"`
	MaxDailyLossPct        string `yaml:"max_daily_loss_pct"`
	MaxDrawdownPct         string `yaml:"max_drawdown_pct"`
	MaxConcurrentPositions int    `yaml:"max_concurrent_positions"`
}

// LoadFile reads and validates one definition document.
func LoadFile(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition %s: %w", path, err)
	}
	return Load(raw)
}

// Load parses a normalized definition from YAML and validates it. Any problem
// is a ValidationError: fatal for the session, harmless for the process.
func Load(raw []byte) (*Definition, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	var doc definitionDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("yaml: %v", err)}}
	}
	def, err := doc.build()
	if err != nil {
		return nil, err
	}
	if err := Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

func (doc *definitionDoc) build() (*Definition, error) {
	def := &Definition{
		ID:         doc.ID,
		Name:       doc.Name,
		Symbol:     doc.Symbol,
		Timeframe:  doc.Timeframe,
		Indicators: doc.Indicators,
		Entry:      make(map[portfolio.Direction]condition.Condition),
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	var issues []string
	for dirKey, node := range doc.Entry {
		dir := portfolio.Direction(dirKey)
		if dir != portfolio.Long && dir != portfolio.Short {
			issues = append(issues, fmt.Sprintf("entry: unknown direction %q", dirKey))
			continue
		}
		cond, err := decodeCondition(node)
		if err != nil {
			issues = append(issues, fmt.Sprintf("entry.%s: %v", dirKey, err))
			continue
		}
		def.Entry[dir] = cond
	}
	if doc.Exit != nil {
		cond, err := decodeCondition(doc.Exit)
		if err != nil {
			issues = append(issues, fmt.Sprintf("exit: %v", err))
		} else {
			def.Exit = cond
		}
	}
	if doc.Stop != nil {
		cond, err := decodeCondition(doc.Stop)
		if err != nil {
			issues = append(issues, fmt.Sprintf("stop: %v", err))
		} else {
			def.Stop = cond
		}
	}

	sizing, err := doc.Sizing.build()
	if err != nil {
		issues = append(issues, fmt.Sprintf("sizing: %v", err))
	}
	def.Sizing = sizing

	if doc.Limits == nil {
		def.Limits = risk.DefaultLimits()
	} else {
		limits, errs := doc.Limits.build()
		issues = append(issues, errs...)
		def.Limits = limits
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return def, nil
}

func (d sizingDoc) build() (SizingPolicy, error) {
	switch SizingMode(d.Mode) {
	case SizingFixedQuantity:
		qty, err := decimal.NewFromString(d.Quantity)
		if err != nil || !qty.IsPositive() {
			return SizingPolicy{}, fmt.Errorf("fixed_quantity needs a positive quantity, got %q", d.Quantity)
		}
		return SizingPolicy{Mode: SizingFixedQuantity, Quantity: qty}, nil
	case SizingEquityPct:
		pct, err := decimal.NewFromString(d.EquityPct)
		if err != nil || !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(1)) {
			return SizingPolicy{}, fmt.Errorf("equity_pct needs a ratio in (0,1], got %q", d.EquityPct)
		}
		return SizingPolicy{Mode: SizingEquityPct, EquityPct: pct}, nil
	default:
		return SizingPolicy{}, fmt.Errorf("unknown sizing mode %q", d.Mode)
	}
}

func (d *limitsDoc) build() (risk.Limits, []string) {
	limits := risk.DefaultLimits()
	var issues []string
	set := func(field *decimal.Decimal, raw, name string) {
		if raw == "" {
			return
		}
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			issues = append(issues, fmt.Sprintf("limits.%s: invalid ratio %q", name, raw))
			return
		}
		*field = v
	}
	set(&limits.MaxPositionSizePct, d.MaxPositionSizePct, "max_position_size_pct")
	set(&limits.MaxDailyLossPct, d.MaxDailyLossPct, "max_daily_loss_pct")
	set(&limits.MaxDrawdownPct, d.MaxDrawdownPct, "max_drawdown_pct")
	if d.MaxConcurrentPositions > 0 {
		limits.MaxConcurrentPositions = d.MaxConcurrentPositions
	}
	return limits, issues
}

// decodeCondition turns one tagged single-key map into a condition node.
func decodeCondition(node any) (condition.Condition, error) {
	m, ok := toStringMap(node)
	if !ok || len(m) != 1 {
		return nil, fmt.Errorf("condition must be a single-key map, got %T", node)
	}
	for tag, body := range m {
		switch tag {
		case "comparison":
			return decodeComparison(body)
		case "cross_above":
			a, b, err := decodeCrossOperands(body)
			if err != nil {
				return nil, fmt.Errorf("cross_above: %w", err)
			}
			return condition.CrossAbove{A: a, B: b}, nil
		case "cross_below":
			a, b, err := decodeCrossOperands(body)
			if err != nil {
				return nil, fmt.Errorf("cross_below: %w", err)
			}
			return condition.CrossBelow{A: a, B: b}, nil
		case "when_all":
			children, err := decodeChildren(body)
			if err != nil {
				return nil, fmt.Errorf("when_all: %w", err)
			}
			return condition.AllOf{Children: children}, nil
		case "when_any":
			children, err := decodeChildren(body)
			if err != nil {
				return nil, fmt.Errorf("when_any: %w", err)
			}
			return condition.AnyOf{Children: children}, nil
		case "when_not":
			child, err := decodeCondition(body)
			if err != nil {
				return nil, fmt.Errorf("when_not: %w", err)
			}
			return condition.Not{Child: child}, nil
		default:
			return nil, fmt.Errorf("unknown condition tag %q", tag)
		}
	}
	return nil, fmt.Errorf("empty condition")
}

func decodeComparison(body any) (condition.Condition, error) {
	m, ok := toStringMap(body)
	if !ok {
		return nil, fmt.Errorf("comparison body must be a map")
	}
	left, err := decodeOperand(m["left"])
	if err != nil {
		return nil, fmt.Errorf("comparison.left: %w", err)
	}
	right, err := decodeOperand(m["right"])
	if err != nil {
		return nil, fmt.Errorf("comparison.right: %w", err)
	}
	opStr, _ := m["op"].(string)
	op := condition.Op(opStr)
	if !op.Valid() {
		return nil, fmt.Errorf("comparison: invalid op %q", opStr)
	}
	return condition.Comparison{Left: left, Op: op, Right: right}, nil
}

func decodeCrossOperands(body any) (condition.Operand, condition.Operand, error) {
	m, ok := toStringMap(body)
	if !ok {
		return nil, nil, fmt.Errorf("body must be a map")
	}
	a, err := decodeOperand(m["a"])
	if err != nil {
		return nil, nil, fmt.Errorf("a: %w", err)
	}
	b, err := decodeOperand(m["b"])
	if err != nil {
		return nil, nil, fmt.Errorf("b: %w", err)
	}
	return a, b, nil
}

func decodeChildren(body any) ([]condition.Condition, error) {
	list, ok := body.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("needs a non-empty list of conditions")
	}
	children := make([]condition.Condition, 0, len(list))
	for i, item := range list {
		child, err := decodeCondition(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		children = append(children, child)
	}
	return children, nil
}

func decodeOperand(node any) (condition.Operand, error) {
	if node == nil {
		return nil, fmt.Errorf("missing operand")
	}
	m, ok := toStringMap(node)
	if !ok {
		return nil, fmt.Errorf("operand must be a map, got %T", node)
	}
	if lit, has := m["literal"]; has {
		d, err := decimalFromAny(lit)
		if err != nil {
			return nil, fmt.Errorf("literal: %w", err)
		}
		return condition.Literal{Value: d}, nil
	}
	name, _ := m["indicator"].(string)
	if name == "" {
		return nil, fmt.Errorf("operand needs either literal or indicator")
	}
	ref := condition.IndicatorRef{Name: name}
	if comp, ok := m["component"].(string); ok {
		ref.Component = comp
	}
	if lag, ok := m["lag"].(int); ok {
		ref.Lag = lag
	}
	return ref, nil
}

// decimalFromAny accepts string, int and float literals. Strings are the
// preferred form since they round-trip exactly.
func decimalFromAny(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case string:
		return decimal.NewFromString(val)
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case float64:
		return decimal.NewFromFloat(val), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported literal type %T", v)
	}
}

func toStringMap(node any) (map[string]any, bool) {
	m, ok := node.(map[string]any)
	return m, ok
}
