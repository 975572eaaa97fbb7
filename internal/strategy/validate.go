package strategy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"fathom/internal/analysis/indicator"
	"fathom/internal/market"
	"fathom/internal/strategy/condition"
)

// ValidationError collects everything wrong with a definition. It is fatal
// for the session being started and nothing else.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid strategy definition: %s", strings.Join(e.Issues, "; "))
}

// definitionSchema pins the structural shape of a definition document before
// any semantic checks run. Condition nodes are checked recursively.
const definitionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name", "symbol", "timeframe", "indicators", "entry", "exit", "sizing"],
	"properties": {
		"id": {"type": "string"},
		"name": {"type": "string", "minLength": 1},
		"symbol": {"type": "string", "minLength": 1},
		"timeframe": {"type": "string", "minLength": 1},
		"indicators": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "kind"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"kind": {"type": "string", "minLength": 1},
					"params": {"type": "object", "additionalProperties": {"type": "integer"}}
				}
			}
		},
		"entry": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {"$ref": "#/$defs/condition"}
		},
		"exit": {"$ref": "#/$defs/condition"},
		"stop": {"$ref": "#/$defs/condition"},
		"sizing": {
			"type": "object",
			"required": ["mode"],
			"properties": {
				"mode": {"enum": ["fixed_quantity", "equity_pct"]},
				"quantity": {"type": "string"},
				"equity_pct": {"type": "string"}
			}
		},
		"limits": {
			"type": "object",
			"properties": {
				"max_position_size_pct": {"type": "string"},
				"max_daily_loss_pct": {"type": "string"},
				"max_drawdown_pct": {"type": "string"},
				"max_concurrent_positions": {"type": "integer", "minimum": 1}
			}
		}
	},
	"$defs": {
		"operand": {
			"type": "object",
			"properties": {
				"indicator": {"type": "string"},
				"component": {"type": "string"},
				"lag": {"type": "integer", "minimum": 0, "maximum": 1},
				"literal": {"type": ["string", "number"]}
			}
		},
		"condition": {
			"type": "object",
			"minProperties": 1,
			"maxProperties": 1,
			"properties": {
				"comparison": {
					"type": "object",
					"required": ["left", "op", "right"],
					"properties": {
						"left": {"$ref": "#/$defs/operand"},
						"op": {"enum": [">", "<", ">=", "<=", "=="]},
						"right": {"$ref": "#/$defs/operand"}
					}
				},
				"cross_above": {
					"type": "object",
					"required": ["a", "b"],
					"properties": {
						"a": {"$ref": "#/$defs/operand"},
						"b": {"$ref": "#/$defs/operand"}
					}
				},
				"cross_below": {
					"type": "object",
					"required": ["a", "b"],
					"properties": {
						"a": {"$ref": "#/$defs/operand"},
						"b": {"$ref": "#/$defs/operand"}
					}
				},
				"when_all": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/condition"}},
				"when_any": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/condition"}},
				"when_not": {"$ref": "#/$defs/condition"}
			},
			"additionalProperties": false
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("definition.schema.json", definitionSchema)

// validateSchema runs the structural check. The YAML document is re-encoded
// through JSON because the validator expects json.Unmarshal value types.
func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{Issues: []string{fmt.Sprintf("yaml: %v", err)}}
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return &ValidationError{Issues: []string{fmt.Sprintf("document not JSON-representable: %v", err)}}
	}
	var jsonDoc any
	if err := json.Unmarshal(jsonBytes, &jsonDoc); err != nil {
		return &ValidationError{Issues: []string{err.Error()}}
	}
	if err := compiledSchema.Validate(jsonDoc); err != nil {
		return &ValidationError{Issues: []string{err.Error()}}
	}
	return nil
}

// Validate runs the semantic checks a structurally sound definition still
// needs: known timeframe and indicator kinds, unique names, and that every
// condition reference resolves to a declared indicator. A dangling reference
// is a definition-integrity bug and must never surface at runtime.
func Validate(def *Definition) error {
	var issues []string

	if _, err := market.ParseTimeframe(def.Timeframe); err != nil {
		issues = append(issues, err.Error())
	}
	declared := make(map[string]struct{}, len(def.Indicators))
	for _, spec := range def.Indicators {
		if _, dup := declared[spec.Name]; dup {
			issues = append(issues, fmt.Sprintf("duplicate indicator name %q", spec.Name))
		}
		declared[spec.Name] = struct{}{}
		if !indicator.KnownKind(spec.Kind) {
			issues = append(issues, fmt.Sprintf("indicator %q: unknown kind %q", spec.Name, spec.Kind))
		}
	}
	if len(def.Entry) == 0 {
		issues = append(issues, "no entry condition for any direction")
	}
	if def.Exit == nil {
		issues = append(issues, "missing exit condition")
	}
	for _, tree := range def.conditionTrees() {
		// The evaluation context keeps only the current and previous bar, so
		// deeper lags would silently read the wrong snapshot.
		if lag := condition.MaxLag(tree); lag > 1 {
			issues = append(issues, fmt.Sprintf("condition uses lag %d, maximum supported is 1", lag))
		}
		for _, name := range condition.Names(tree) {
			// The pattern.* namespace is populated by the engine from candle
			// pattern detection and needs no indicator declaration.
			if strings.HasPrefix(name, "pattern.") {
				continue
			}
			if _, ok := declared[name]; !ok {
				issues = append(issues, fmt.Sprintf("condition references undeclared indicator %q", name))
			}
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
