// Package openmeteo is a client for the Open-Meteo forecast and geocoding
// APIs. Neither API requires a key.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://api.open-meteo.com/v1"
	defaultGeocodeURL = "https://geocoding-api.open-meteo.com/v1"
)

// dailyFields are requested for every forecast.
var dailyFields = []string{
	"weather_code",
	"temperature_2m_max",
	"temperature_2m_min",
	"precipitation_sum",
	"wind_speed_10m_max",
	"wind_gusts_10m_max",
}

// Client fetches forecasts and resolves place names to coordinates.
type Client interface {
	// Geocode resolves a place name. It returns nil, nil when nothing matched.
	Geocode(ctx context.Context, name, countryCode string) (*Location, error)
	// Forecast returns a daily forecast for the coordinates.
	Forecast(ctx context.Context, lat, lon float64, days int) (*Forecast, error)
}

// Location is a geocoding match.
type Location struct {
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Admin1      string  `json:"admin1"`
}

// Forecast is the daily section of a forecast response, transposed into one
// entry per day.
type Forecast struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Days      []Day   `json:"days"`
}

// Day is one forecast day. Missing values are zero.
type Day struct {
	Date           string  `json:"date"`
	WeatherCode    int     `json:"weather_code"`
	TempMaxC       float64 `json:"temp_max_c"`
	TempMinC       float64 `json:"temp_min_c"`
	PrecipitationM float64 `json:"precipitation_mm"`
	WindMaxKmh     float64 `json:"wind_max_kmh"`
	GustMaxKmh     float64 `json:"gust_max_kmh"`
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openmeteo: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the forecast API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithGeocodeURL overrides the geocoding API base URL.
func WithGeocodeURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.geocodeURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

type httpClient struct {
	baseURL    string
	geocodeURL string
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an Open-Meteo client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:    defaultBaseURL,
		geocodeURL: defaultGeocodeURL,
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Geocode(ctx context.Context, name, countryCode string) (*Location, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")
	if countryCode != "" {
		q.Set("countryCode", countryCode)
	}

	var resp struct {
		Results []Location `json:"results"`
	}
	if err := c.getJSON(ctx, c.geocodeURL+"/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

type forecastResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Daily     struct {
		Time             []string   `json:"time"`
		WeatherCode      []*int     `json:"weather_code"`
		TemperatureMax   []*float64 `json:"temperature_2m_max"`
		TemperatureMin   []*float64 `json:"temperature_2m_min"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
		WindSpeedMax     []*float64 `json:"wind_speed_10m_max"`
		WindGustsMax     []*float64 `json:"wind_gusts_10m_max"`
	} `json:"daily"`
}

func (c *httpClient) Forecast(ctx context.Context, lat, lon float64, days int) (*Forecast, error) {
	if days <= 0 {
		days = 7
	}
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("forecast_days", strconv.Itoa(days))
	q.Set("timezone", "UTC")
	for _, f := range dailyFields {
		q.Add("daily", f)
	}

	var resp forecastResponse
	if err := c.getJSON(ctx, c.baseURL+"/forecast?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	d := resp.Daily
	out := &Forecast{Latitude: resp.Latitude, Longitude: resp.Longitude, Timezone: resp.Timezone}
	out.Days = make([]Day, len(d.Time))
	for i, date := range d.Time {
		out.Days[i] = Day{
			Date:           date,
			WeatherCode:    at(d.WeatherCode, i),
			TempMaxC:       at(d.TemperatureMax, i),
			TempMinC:       at(d.TemperatureMin, i),
			PrecipitationM: at(d.PrecipitationSum, i),
			WindMaxKmh:     at(d.WindSpeedMax, i),
			GustMaxKmh:     at(d.WindGustsMax, i),
		}
	}
	return out, nil
}

// at returns s[i] or the zero value when the series is short or null at i.
func at[T any](s []*T, i int) T {
	var zero T
	if i >= len(s) || s[i] == nil {
		return zero
	}
	return *s[i]
}

func (c *httpClient) getJSON(ctx context.Context, u string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "openmeteo: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrap(err, "openmeteo: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "openmeteo: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return eris.Wrap(err, "openmeteo: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "openmeteo: unmarshal response")
	}
	return nil
}
