// Package bundled holds the abilities registered with explicit imports at
// startup rather than discovered dynamically: unit_converter and
// workspace_inventory, which are self-contained, and pdf_extract_text,
// grounded on the Python original's syne/abilities/pdf.py read_from_url
// and built on github.com/ledongthuc/pdf (see pdfextract.go). The
// original's maps, image_gen, and screenshot abilities, which wrap
// third-party HTTP APIs, have no counterpart in this package.
package bundled

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/tools"
)

// lengthToMeters and weightToGrams map a unit to its value in the
// dimension's base unit.
// Temperature is handled separately since it isn't a pure scale factor.
var lengthToMeters = map[string]float64{
	"m": 1, "km": 1000, "cm": 0.01, "mm": 0.001,
	"mi": 1609.344, "yd": 0.9144, "ft": 0.3048, "in": 0.0254,
}

var weightToGrams = map[string]float64{
	"g": 1, "kg": 1000, "mg": 0.001,
	"lb": 453.59237, "oz": 28.349523125,
}

// unitConversionPattern matches plain-language conversion turns like
// "convert 5 km to miles" or "12 lb in kg" ahead of the model call.
var unitConversionPattern = regexp.MustCompile(`(?i)(?:convert\s+)?(-?\d+(?:\.\d+)?)\s*([a-zA-Z]+)\s+(?:to|in)\s+([a-zA-Z]+)`)

type unitConverter struct{}

// NewUnitConverter builds the bundled unit-conversion ability.
func NewUnitConverter() abilities.Ability {
	return &unitConverter{}
}

func (u *unitConverter) Name() string        { return "unit_converter" }
func (u *unitConverter) Description() string { return "Converts values between common length, weight, and temperature units" }
func (u *unitConverter) Version() string     { return "1.0" }
func (u *unitConverter) Priority() bool      { return true }

func (u *unitConverter) HandlesInputType(kind abilities.InputKind) bool {
	return kind == abilities.InputText
}

// PreProcess recognizes an obvious unit-conversion question and returns
// the computed answer as text, which the engine appends to the user's
// turn before the model call — declining (empty, nil) for anything it
// doesn't recognize.
func (u *unitConverter) PreProcess(ctx context.Context, kind abilities.InputKind, data, prompt string, config map[string]interface{}) (string, error) {
	if kind != abilities.InputText {
		return "", nil
	}
	match := unitConversionPattern.FindStringSubmatch(data)
	if match == nil {
		return "", nil
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return "", nil
	}
	result, unit, err := convert(value, match[2], match[3])
	if err != nil {
		return "", nil
	}
	return fmt.Sprintf("%g %s = %g %s", value, strings.ToLower(match[2]), result, unit), nil
}

func (u *unitConverter) Execute(ctx context.Context, params map[string]interface{}, abilityCtx abilities.Context) (abilities.Result, error) {
	value, ok := params["value"].(float64)
	if !ok {
		return abilities.Result{Error: "value is required and must be a number"}, nil
	}
	from, _ := params["from"].(string)
	to, _ := params["to"].(string)
	if from == "" || to == "" {
		return abilities.Result{Error: "from and to units are required"}, nil
	}

	result, unit, err := convert(value, from, to)
	if err != nil {
		return abilities.Result{Error: err.Error()}, nil
	}
	return abilities.Result{Success: true, Result: fmt.Sprintf("%g %s = %g %s", value, strings.ToLower(from), result, unit)}, nil
}

func convert(value float64, from, to string) (float64, string, error) {
	from = strings.ToLower(from)
	to = strings.ToLower(to)

	if from == to {
		return value, to, nil
	}

	if fromM, ok := lengthToMeters[from]; ok {
		if toM, ok := lengthToMeters[to]; ok {
			return value * fromM / toM, to, nil
		}
	}
	if fromG, ok := weightToGrams[from]; ok {
		if toG, ok := weightToGrams[to]; ok {
			return value * fromG / toG, to, nil
		}
	}
	if celsius, ok := toCelsius(value, from); ok {
		if converted, ok := fromCelsius(celsius, to); ok {
			return converted, to, nil
		}
	}
	return 0, "", fmt.Errorf("unsupported or mismatched units: %s -> %s", from, to)
}

func toCelsius(value float64, unit string) (float64, bool) {
	switch unit {
	case "c", "celsius":
		return value, true
	case "f", "fahrenheit":
		return (value - 32) * 5 / 9, true
	case "k", "kelvin":
		return value - 273.15, true
	default:
		return 0, false
	}
}

func fromCelsius(celsius float64, unit string) (float64, bool) {
	switch unit {
	case "c", "celsius":
		return celsius, true
	case "f", "fahrenheit":
		return celsius*9/5 + 32, true
	case "k", "kelvin":
		return celsius + 273.15, true
	default:
		return 0, false
	}
}

func (u *unitConverter) GetSchema() tools.FunctionSchema {
	return tools.FunctionSchema{
		Type: "function",
		Function: tools.FunctionSpec{
			Name:        u.Name(),
			Description: u.Description(),
			Parameters: tools.NormalizeSchema(&tools.JSONSchema{
				Type: "object",
				Properties: map[string]*tools.JSONSchema{
					"value": {Type: "number", Description: "Numeric value to convert"},
					"from":  {Type: "string", Description: "Source unit, e.g. km, lb, f"},
					"to":    {Type: "string", Description: "Target unit, e.g. mi, kg, c"},
				},
				Required: []string{"value", "from", "to"},
			}),
		},
	}
}

func (u *unitConverter) GetGuide(enabled bool, config map[string]interface{}) string {
	if !enabled {
		return "- unit_converter: disabled"
	}
	return "- unit_converter: **ready** — converts length (m/km/mi/ft/in/...), weight (kg/lb/g/oz), and temperature (c/f/k); also answers plain-language conversion questions directly"
}

func (u *unitConverter) GetRequiredConfig() []string { return nil }

func (u *unitConverter) ValidateConfig(config map[string]interface{}) (bool, string) {
	return true, ""
}

func (u *unitConverter) EnsureDependencies(ctx context.Context) (bool, string) {
	return true, ""
}
