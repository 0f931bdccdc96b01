package scorer

import (
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/normalize"
)

// Level thresholds are inclusive upper bounds.
const (
	lowMax    = 25.0
	mediumMax = 50.0
	highMax   = 75.0
)

// shipping source_data keys that may carry a delay or stagnation label.
var shippingLabelKeys = []string{"delay_label", "stagnation_label", "delay_severity", "delay_status", "label"}

// ScoreRiskSet computes a 0-100 score for records, the weight subtotal per
// source domain, and the count per severity. An empty set scores exactly 0
// with empty maps.
func (e *Engine) ScoreRiskSet(records []model.RiskRecord) (float64, map[string]float64, map[string]int) {
	breakdown := make(map[string]float64)
	counts := make(map[string]int)
	if len(records) == 0 {
		return 0, breakdown, counts
	}

	var base float64
	for i := range records {
		w := e.RecordWeight(&records[i])
		base += w
		breakdown[string(records[i].SourceType)] += w
		counts[string(records[i].Severity)]++
	}
	for k, v := range breakdown {
		breakdown[k] = round2(v)
	}
	return e.curve(base), breakdown, counts
}

// RecordWeight is severity weight × domain weight × pointer boost.
func (e *Engine) RecordWeight(r *model.RiskRecord) float64 {
	sev, ok := e.severity[r.Severity]
	if !ok {
		sev = e.severity[model.SeverityMedium]
	}
	dom, ok := e.domain[r.SourceType]
	if !ok {
		dom = 1.0
	}
	return sev * dom * e.PointerBoost(r)
}

// PointerBoost returns the domain-specific multiplier derived from a record's
// source data, or 1 when no hint applies.
func (e *Engine) PointerBoost(r *model.RiskRecord) float64 {
	switch r.SourceType {
	case model.SourceGeopolitical:
		return e.boosts.Geopolitical
	case model.SourceShipping:
		for _, k := range shippingLabelKeys {
			if s, ok := r.SourceData[k].(string); ok && strings.EqualFold(strings.TrimSpace(s), "critical") {
				return e.boosts.ShippingCritical
			}
		}
	case model.SourceWeather:
		if v := normalize.Number(r.SourceData["exposure_score"]); v != nil && *v >= e.boosts.WeatherExposureThreshold {
			return e.boosts.WeatherExposure
		}
	case model.SourceNews, model.SourceGlobalNews:
		if rt, ok := r.SourceData["risk_type"].(string); ok && e.isConflict(rt) {
			return e.boosts.NewsConflict
		}
	}
	return 1.0
}

// isConflict matches conflict phrases against whole words of riskType, so
// "civil_war" matches "war" but "warehouse_fire" does not.
func (e *Engine) isConflict(riskType string) bool {
	words := wordsOf(riskType)
	if len(words) == 0 {
		return false
	}
	for _, phrase := range e.keywords {
		if containsPhrase(words, phrase) {
			return true
		}
	}
	return false
}

// wordsOf lower-cases s and splits it on anything that is not a letter or
// digit: "Armed_Conflict" and "armed conflict" both give [armed conflict].
func wordsOf(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsPhrase(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		if slices.Equal(words[i:i+len(phrase)], phrase) {
			return true
		}
	}
	return false
}

// curve maps an unbounded weight into [0, 100) with 100·(1 − e^(−w/K)).
func (e *Engine) curve(weight float64) float64 {
	if weight <= 0 {
		return 0
	}
	return round2(100 * (1 - math.Exp(-weight/e.k)))
}

// ScoreToLevel maps a score to its band: ≤25 LOW, ≤50 MEDIUM, ≤75 HIGH,
// otherwise CRITICAL.
func ScoreToLevel(score float64) model.RiskLevel {
	switch {
	case score <= lowMax:
		return model.RiskLevelLow
	case score <= mediumMax:
		return model.RiskLevelMedium
	case score <= highMax:
		return model.RiskLevelHigh
	default:
		return model.RiskLevelCritical
	}
}

// AggregateOrganizationScore blends supplier scores as 0.6·mean + 0.4·max,
// rounded to two decimals. An empty list yields 0.
func AggregateOrganizationScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	hi := math.Inf(-1)
	for _, s := range scores {
		sum += s
		hi = math.Max(hi, s)
	}
	return round2(0.6*(sum/float64(len(scores))) + 0.4*hi)
}

// MergeBreakdowns sums domain subtotals and severity counts across supplier
// snapshots for the organization view.
func MergeBreakdowns(snaps []model.SupplierScoreSnapshot) (map[string]float64, map[string]int) {
	breakdown := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range snaps {
		for k, v := range s.Breakdown {
			breakdown[k] += v
		}
		for k, v := range s.SeverityCounts {
			counts[k] += v
		}
	}
	for k, v := range breakdown {
		breakdown[k] = round2(v)
	}
	return breakdown, counts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
