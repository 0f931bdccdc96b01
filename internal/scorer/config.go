// Package scorer implements risk scoring: a weighted saturating curve per
// supplier, a risk-averse blend per organization, and optional LLM-assisted
// scores and narratives that always fall back to the algorithm.
package scorer

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supplyrisk/internal/config"
	"github.com/sells-group/supplyrisk/internal/model"
)

// DefaultConfig returns the scoring constants the engine ships with.
func DefaultConfig() config.ScoringConfig {
	return config.ScoringConfig{
		CurveK: 12.0,
		SeverityWeights: map[string]float64{
			string(model.SeverityLow):      1,
			string(model.SeverityMedium):   2,
			string(model.SeverityHigh):     3,
			string(model.SeverityCritical): 4,
		},
		DomainWeights: map[string]float64{
			string(model.SourceWeather):      1.0,
			string(model.SourceShipping):     1.3,
			string(model.SourceNews):         1.1,
			string(model.SourceGeopolitical): 1.5,
		},
		Boosts: config.PointerBoosts{
			ShippingCritical:         1.5,
			WeatherExposure:          1.4,
			WeatherExposureThreshold: 80,
			NewsConflict:             1.5,
			NewsConflictKeywords:     []string{"armed_conflict", "armed conflict", "war", "military"},
			Geopolitical:             1.5,
		},
		LLMEnabled: true,
	}
}

// Engine holds resolved scoring constants. The zero Engine is not usable;
// construct one with New.
type Engine struct {
	k         float64
	severity  map[model.Severity]float64
	domain    map[model.SourceType]float64
	boosts    config.PointerBoosts
	keywords  [][]string // conflict phrases, each split into words
	llmScores bool
}

// New builds an Engine from cfg, filling unset values from DefaultConfig.
func New(cfg config.ScoringConfig) (*Engine, error) {
	def := DefaultConfig()
	if cfg.CurveK == 0 {
		cfg.CurveK = def.CurveK
	}
	if cfg.CurveK < 0 {
		return nil, eris.Errorf("scorer: curve_k must be > 0, got %v", cfg.CurveK)
	}

	e := &Engine{
		k:         cfg.CurveK,
		severity:  make(map[model.Severity]float64),
		domain:    make(map[model.SourceType]float64),
		boosts:    mergeBoosts(cfg.Boosts, def.Boosts),
		llmScores: cfg.LLMEnabled,
	}
	for k, v := range def.SeverityWeights {
		e.severity[model.Severity(k)] = v
	}
	for k, v := range cfg.SeverityWeights {
		if v < 0 {
			return nil, eris.Errorf("scorer: negative severity weight for %q", k)
		}
		e.severity[model.Severity(strings.ToLower(k))] = v
	}
	for k, v := range def.DomainWeights {
		e.domain[model.SourceType(k)] = v
	}
	for k, v := range cfg.DomainWeights {
		if v < 0 {
			return nil, eris.Errorf("scorer: negative domain weight for %q", k)
		}
		e.domain[model.SourceType(strings.ToLower(k))] = v
	}
	for _, kw := range e.boosts.NewsConflictKeywords {
		if words := wordsOf(kw); len(words) > 0 {
			e.keywords = append(e.keywords, words)
		}
	}
	return e, nil
}

// MustDefault returns an Engine with DefaultConfig.
func MustDefault() *Engine {
	e, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return e
}

func mergeBoosts(b, def config.PointerBoosts) config.PointerBoosts {
	if b.ShippingCritical <= 0 {
		b.ShippingCritical = def.ShippingCritical
	}
	if b.WeatherExposure <= 0 {
		b.WeatherExposure = def.WeatherExposure
	}
	if b.WeatherExposureThreshold <= 0 {
		b.WeatherExposureThreshold = def.WeatherExposureThreshold
	}
	if b.NewsConflict <= 0 {
		b.NewsConflict = def.NewsConflict
	}
	if len(b.NewsConflictKeywords) == 0 {
		b.NewsConflictKeywords = def.NewsConflictKeywords
	}
	if b.Geopolitical <= 0 {
		b.Geopolitical = def.Geopolitical
	}
	return b
}
