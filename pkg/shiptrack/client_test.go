package shiptrack

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shipments/MSKU 123", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{
			"carrier": "Maersk", "mode": "ocean", "status": "delayed",
			"origin": "Shanghai", "destination": "Rotterdam",
			"planned_eta": "2026-10-10T00:00:00Z", "estimated_eta": "2026-10-20T12:00:00Z",
			"last_event_at": "2026-10-08T00:00:00Z",
			"events": [{"at": "2026-10-08T00:00:00Z", "location": "Colombo", "code": "TS", "message": "Transshipment"}]
		}`)
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, "secret").Track(context.Background(), "MSKU 123")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "MSKU 123", s.TrackingID)
	assert.Equal(t, StatusDelayed, s.Status)
	assert.InDelta(t, 10.5, s.DelayDays(), 1e-9)
	assert.InDelta(t, 10, s.StagnantDays(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)), 1e-9)
	require.Len(t, s.Events, 1)
}

func TestTrack_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, "").Track(context.Background(), "X")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestTrack_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", WithRateLimit(50)).Track(context.Background(), "X")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}

func TestShipment_DelayAndStagnation(t *testing.T) {
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	var s Shipment
	assert.Zero(t, s.DelayDays())
	assert.Zero(t, s.StagnantDays(now))

	s = Shipment{PlannedETA: now, EstimatedETA: now.Add(-48 * time.Hour)}
	assert.Zero(t, s.DelayDays())

	s = Shipment{Status: StatusDelivered, LastEventAt: now.Add(-240 * time.Hour)}
	assert.Zero(t, s.StagnantDays(now))
}
