package analyzer

import (
	"context"
	"fmt"
	"math"

	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/resilience"
	"github.com/sells-group/supplyrisk/pkg/openmeteo"
)

// hazard is one weather threat found in a forecast.
type hazard struct {
	kind     string
	label    string
	exposure float64
	date     string
	value    float64
	unit     string
}

// threshold maps a forecast value to an exposure score.
type threshold struct {
	min      float64
	exposure float64
}

var (
	rainSteps = []threshold{{100, 95}, {50, 75}, {30, 50}}
	gustSteps = []threshold{{120, 95}, {90, 80}, {62, 55}}
	heatSteps = []threshold{{45, 90}, {40, 70}}
	coldSteps = []threshold{{25, 85}, {15, 60}} // degrees below zero
)

// WMO weather codes treated as hazards regardless of amounts.
var severeCodes = map[int]threshold{
	95: {exposure: 70}, // thunderstorm
	96: {exposure: 80}, // thunderstorm, hail
	99: {exposure: 90}, // thunderstorm, heavy hail
	75: {exposure: 60}, // heavy snowfall
	86: {exposure: 65}, // heavy snow showers
}

// Weather flags forecast hazards at a supplier's location.
type Weather struct {
	client openmeteo.Client
	policy *resilience.Policy
	days   int
}

// NewWeather creates the weather analyzer. policy may be nil.
func NewWeather(client openmeteo.Client, policy *resilience.Policy, forecastDays int) *Weather {
	if forecastDays <= 0 {
		forecastDays = 7
	}
	return &Weather{client: client, policy: policy, days: forecastDays}
}

// Name implements Analyzer.
func (w *Weather) Name() string { return "weather" }

// Source implements Analyzer.
func (w *Weather) Source() model.SourceType { return model.SourceWeather }

// Analyze implements Analyzer.
func (w *Weather) Analyze(ctx context.Context, scope model.SupplierScope) (Result, error) {
	if w.client == nil {
		return Result{}, nil
	}

	lat, lon, place, err := w.locate(ctx, scope)
	if err != nil || place == "" {
		return Result{}, err
	}

	f, err := resilience.Call(ctx, w.policy, func(ctx context.Context) (*openmeteo.Forecast, error) {
		f, err := w.client.Forecast(ctx, lat, lon, w.days)
		return f, retryable(err)
	})
	if err != nil {
		return Result{}, err
	}
	if len(f.Days) == 0 {
		return Result{}, nil
	}

	hazards := assessForecast(f.Days)
	var res Result
	for _, h := range hazards {
		res.Risks = append(res.Risks, model.RiskCandidate{
			Title:       fmt.Sprintf("%s forecast near %s", h.label, place),
			Description: fmt.Sprintf("Forecast for %s shows %s of %.1f %s on %s, which may disrupt production or outbound logistics for %s.", place, h.kind, h.value, h.unit, h.date, supplierName(scope)),
			Severity:    string(exposureSeverity(h.exposure)),
			SourceType:  string(model.SourceWeather),
			SourceData: map[string]any{
				"hazard":         h.kind,
				"exposure_score": h.exposure,
				"date":           h.date,
				"value":          h.value,
				"unit":           h.unit,
				"latitude":       lat,
				"longitude":      lon,
			},
			AffectedRegion:   place,
			AffectedSupplier: scope.ID,
		})
	}

	if len(hazards) == 0 {
		res.Opportunities = append(res.Opportunities, model.OpportunityCandidate{
			Title:       fmt.Sprintf("Clear weather window near %s", place),
			Description: fmt.Sprintf("No weather hazards are forecast near %s for the next %d days. Consider pulling forward shipments or maintenance from %s.", place, len(f.Days), supplierName(scope)),
			Type:        string(model.OpportunityTimeSaving),
			SourceType:  string(model.SourceWeather),
			SourceData: map[string]any{
				"forecast_days": len(f.Days),
				"latitude":      lat,
				"longitude":     lon,
			},
			AffectedRegion:   place,
			AffectedSupplier: scope.ID,
		})
	}
	return res, nil
}

// locate returns the supplier's coordinates, geocoding the location text
// when none are set. An empty place means the supplier cannot be located.
func (w *Weather) locate(ctx context.Context, scope model.SupplierScope) (float64, float64, string, error) {
	place := scope.Location()
	if scope.Latitude != nil && scope.Longitude != nil {
		if place == "" {
			place = fmt.Sprintf("%.2f,%.2f", *scope.Latitude, *scope.Longitude)
		}
		return *scope.Latitude, *scope.Longitude, place, nil
	}

	name := firstNonEmpty(scope.City, scope.Region, scope.Country)
	if name == "" {
		return 0, 0, "", nil
	}
	loc, err := resilience.Call(ctx, w.policy, func(ctx context.Context) (*openmeteo.Location, error) {
		loc, err := w.client.Geocode(ctx, name, "")
		return loc, retryable(err)
	})
	if err != nil || loc == nil {
		return 0, 0, "", err
	}
	return loc.Latitude, loc.Longitude, place, nil
}

// assessForecast keeps the worst day for each hazard kind, in a fixed order.
func assessForecast(days []openmeteo.Day) []hazard {
	worst := make(map[string]hazard)
	keep := func(h hazard) {
		if h.exposure <= 0 {
			return
		}
		if cur, ok := worst[h.kind]; !ok || h.exposure > cur.exposure {
			worst[h.kind] = h
		}
	}

	for _, d := range days {
		keep(hazard{kind: "heavy rainfall", label: "Heavy rainfall", exposure: step(d.PrecipitationM, rainSteps), date: d.Date, value: d.PrecipitationM, unit: "mm"})
		keep(hazard{kind: "wind gusts", label: "Damaging winds", exposure: step(d.GustMaxKmh, gustSteps), date: d.Date, value: d.GustMaxKmh, unit: "km/h"})
		keep(hazard{kind: "extreme heat", label: "Extreme heat", exposure: step(d.TempMaxC, heatSteps), date: d.Date, value: d.TempMaxC, unit: "°C"})
		keep(hazard{kind: "extreme cold", label: "Extreme cold", exposure: step(-d.TempMinC, coldSteps), date: d.Date, value: d.TempMinC, unit: "°C"})
		if t, ok := severeCodes[d.WeatherCode]; ok {
			keep(hazard{kind: "severe storm", label: "Severe storms", exposure: t.exposure, date: d.Date, value: float64(d.WeatherCode), unit: "(WMO code)"})
		}
	}

	var out []hazard
	for _, kind := range []string{"heavy rainfall", "wind gusts", "extreme heat", "extreme cold", "severe storm"} {
		if h, ok := worst[kind]; ok {
			out = append(out, h)
		}
	}
	return out
}

func step(v float64, steps []threshold) float64 {
	if math.IsNaN(v) {
		return 0
	}
	for _, s := range steps {
		if v >= s.min {
			return s.exposure
		}
	}
	return 0
}

func exposureSeverity(exposure float64) model.Severity {
	switch {
	case exposure >= 90:
		return model.SeverityCritical
	case exposure >= 75:
		return model.SeverityHigh
	case exposure >= 50:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
