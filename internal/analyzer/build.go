package analyzer

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/supplyrisk/internal/config"
	"github.com/sells-group/supplyrisk/internal/resilience"
	"github.com/sells-group/supplyrisk/pkg/openmeteo"
	"github.com/sells-group/supplyrisk/pkg/perplexity"
	"github.com/sells-group/supplyrisk/pkg/shiptrack"
)

// Suite is the set of analyzers run for every supplier: the network
// analyzers fanned out concurrently, plus the in-process geopolitical one.
type Suite struct {
	Network      []Analyzer
	Geopolitical *Geopolitical
	Timeout      time.Duration
}

// Build wires the analyzers from configuration. Analyzers whose credentials
// are missing are still included and return empty results.
func Build(cfg *config.Config) *Suite {
	rps := cfg.Analyzer.RatePerSec

	var news perplexity.Client
	if cfg.Perplexity.Key != "" {
		news = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	} else {
		zap.L().Info("analyzer: perplexity key not set, news analyzers disabled")
	}
	newsPolicy := resilience.NewPolicy("perplexity", cfg.Resilience)

	weather := openmeteo.NewClient(
		openmeteo.WithBaseURL(cfg.Weather.BaseURL),
		openmeteo.WithGeocodeURL(cfg.Weather.GeocodeURL),
		openmeteo.WithRateLimit(rps),
	)

	var ships shiptrack.Client
	if cfg.Shipping.BaseURL != "" {
		ships = shiptrack.NewClient(cfg.Shipping.BaseURL, cfg.Shipping.Key, shiptrack.WithRateLimit(rps))
	} else {
		zap.L().Info("analyzer: shipping base_url not set, shipment analyzer disabled")
	}

	return &Suite{
		Network: []Analyzer{
			NewWeather(weather, resilience.NewPolicy("openmeteo", cfg.Resilience), cfg.Weather.ForecastDays),
			NewSupplierNews(news, newsPolicy),
			NewGlobalNews(news, newsPolicy),
			NewShipment(ships, resilience.NewPolicy("shiptrack", cfg.Resilience)),
		},
		Geopolitical: NewGeopolitical(cfg.Geopolitical.ExtraCountries),
		Timeout:      time.Duration(cfg.Analyzer.TimeoutSecs) * time.Second,
	}
}
