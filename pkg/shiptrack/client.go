// Package shiptrack is a client for a carrier-agnostic shipment tracking API
// (GET /shipments/{tracking_id}).
package shiptrack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Shipment statuses reported by the API.
const (
	StatusInTransit = "in_transit"
	StatusDelayed   = "delayed"
	StatusException = "exception"
	StatusDelivered = "delivered"
	StatusPending   = "pending"
)

// Client looks up shipments by tracking id.
type Client interface {
	// Track returns the shipment, or nil, nil when the id is unknown.
	Track(ctx context.Context, trackingID string) (*Shipment, error)
}

// Shipment is the tracking state of one consignment.
type Shipment struct {
	TrackingID   string    `json:"tracking_id"`
	Carrier      string    `json:"carrier"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	Origin       string    `json:"origin"`
	Destination  string    `json:"destination"`
	PlannedETA   time.Time `json:"planned_eta"`
	EstimatedETA time.Time `json:"estimated_eta"`
	LastEventAt  time.Time `json:"last_event_at"`
	Events       []Event   `json:"events"`
}

// Event is a single tracking scan.
type Event struct {
	At       time.Time `json:"at"`
	Location string    `json:"location"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
}

// DelayDays is the slip between planned and estimated arrival, in days. It is
// zero when either time is unknown or the shipment is early.
func (s *Shipment) DelayDays() float64 {
	if s.PlannedETA.IsZero() || s.EstimatedETA.IsZero() {
		return 0
	}
	d := s.EstimatedETA.Sub(s.PlannedETA).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// StagnantDays is the time since the last tracking event, in days.
func (s *Shipment) StagnantDays(now time.Time) float64 {
	if s.LastEventAt.IsZero() || s.Status == StatusDelivered {
		return 0
	}
	d := now.Sub(s.LastEventAt).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// StatusError is returned for unexpected non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shiptrack: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

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
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a tracking client for baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Track(ctx context.Context, trackingID string) (*Shipment, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "shiptrack: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/shipments/"+url.PathEscape(trackingID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "shiptrack: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "shiptrack: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "shiptrack: read response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var s Shipment
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, eris.Wrap(err, "shiptrack: unmarshal response")
	}
	if s.TrackingID == "" {
		s.TrackingID = trackingID
	}
	return &s, nil
}
