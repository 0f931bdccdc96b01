package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/supplyrisk/internal/model"
)

// Number coerces v into a finite float64. Strings may carry currency symbols,
// thousands separators and surrounding whitespace. Anything else yields nil.
func Number(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, ok := parseNumeric(n)
		if !ok {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// StructuredData returns v as a JSON object, or nil when v is not one. Every
// object is round-tripped through JSON, so the result is exactly what the
// store will persist: numbers become float64, and a payload holding NaN,
// infinities, channels or funcs anywhere inside is discarded as a whole.
// Raw JSON bytes are decoded; strings, numbers and arrays are discarded.
func StructuredData(v any) map[string]any {
	switch d := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if d == nil {
			return nil
		}
		return encodeObject(d)
	case json.RawMessage:
		return decodeObject(d)
	case []byte:
		return decodeObject(d)
	case string, bool, float64, float32, int, int64, []any:
		return nil
	default:
		// Structs and typed maps.
		return encodeObject(d)
	}
}

func encodeObject(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return decodeObject(b)
}

func decodeObject(b []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return nil
	}
	return m
}

// RiskFromMap converts an untyped analyzer payload into a candidate. Both
// snake_case and camelCase keys are accepted; non-string text fields are
// stringified.
func RiskFromMap(m map[string]any) model.RiskCandidate {
	return model.RiskCandidate{
		Title:             text(m, "title"),
		Description:       text(m, "description"),
		Severity:          text(m, "severity"),
		SourceType:        text(m, "source_type", "sourceType"),
		SourceData:        first(m, "source_data", "sourceData"),
		AffectedRegion:    text(m, "affected_region", "affectedRegion"),
		AffectedSupplier:  text(m, "affected_supplier", "affectedSupplier"),
		AffectedSuppliers: textList(m, "affected_suppliers", "affectedSuppliers"),
		EstimatedCost:     first(m, "estimated_cost", "estimatedCost"),
	}
}

// OpportunityFromMap converts an untyped analyzer payload into a candidate.
func OpportunityFromMap(m map[string]any) model.OpportunityCandidate {
	return model.OpportunityCandidate{
		Title:             text(m, "title"),
		Description:       text(m, "description"),
		Type:              text(m, "type", "opportunity_type", "opportunityType"),
		SourceType:        text(m, "source_type", "sourceType"),
		SourceData:        first(m, "source_data", "sourceData"),
		AffectedRegion:    text(m, "affected_region", "affectedRegion"),
		AffectedSupplier:  text(m, "affected_supplier", "affectedSupplier"),
		AffectedSuppliers: textList(m, "affected_suppliers", "affectedSuppliers"),
		EstimatedValue:    first(m, "estimated_value", "estimatedValue", "potential_benefit"),
	}
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func text(m map[string]any, keys ...string) string {
	switch v := first(m, keys...).(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func textList(m map[string]any, keys ...string) []string {
	switch v := first(m, keys...).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
