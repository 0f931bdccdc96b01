package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supplyrisk/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	runs := []model.RunWithStatus{
		{
			Run: model.WorkflowRun{ID: "abc12345-6789-0000-0000-000000000000", OrganizationID: "org-1", SupplierID: "sup-a", RunDate: day, RunIndex: 2},
			Status: &model.RunStatus{
				State:       model.RunStateCompleted,
				CurrentTask: "Completed: 2 risks, 1 opportunities, 3 plans",
				Counters:    model.RunCounters{RisksDetected: 2, OpportunitiesIdentified: 1, PlansGenerated: 3},
			},
		},
		{
			Run:    model.WorkflowRun{ID: "def12345-6789-0000-0000-000000000000", OrganizationID: "org-1", RunDate: day, RunIndex: 1},
			Status: &model.RunStatus{State: model.RunStateError, CurrentTask: "Failed: an unusually long failure message that will not fit"},
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "SUPPLIER")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "sup-a")
	assert.Contains(t, out, "2026-03-14")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "(organization)")
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "...")
}

func TestFormatRunsList_NoStatus(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, []model.RunWithStatus{{Run: model.WorkflowRun{ID: "short", SupplierID: "sup-a"}}})
	assert.Contains(t, buf.String(), "short")
	assert.Contains(t, buf.String(), " - ")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijkl"))
	assert.Equal(t, "abc", truncateID("abc"))
}

func TestFormatScore(t *testing.T) {
	var buf bytes.Buffer
	formatScore(&buf, &model.SupplierScoreSnapshot{
		WorkflowRunID:  "run-1",
		SupplierID:     "sup-a",
		Score:          48.23,
		Level:          model.RiskLevelMedium,
		Breakdown:      map[string]float64{"weather": 4, "shipping": 3.9},
		SeverityCounts: map[string]int{"critical": 1, "high": 1},
		RiskIDs:        []string{"r1", "r2"},
	})

	out := buf.String()
	assert.Contains(t, out, "48.23 (MEDIUM)")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("weather")), bytes.Index(buf.Bytes(), []byte("shipping")))
	assert.Contains(t, out, "critical risks:")
	assert.NotContains(t, out, "low risks:")
}

func TestLoadScope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: org-1
name: Globex
commodities: [steel, resin]
suppliers:
  - id: sup-a
    name: Acme Metals
    city: Hamburg
    country: Germany
    latitude: 53.55
    longitude: 9.99
    tracking_ids: [MSKU1234567]
  - id: sup-b
    name: Bolt Plastics
    country: Canada
`), 0o600))

	scope, err := loadScope(path)
	require.NoError(t, err)
	assert.Equal(t, "org-1", scope.ID)
	assert.Equal(t, []string{"steel", "resin"}, scope.Commodities)
	require.Len(t, scope.Suppliers, 2)
	assert.Equal(t, "Hamburg, Germany", scope.Suppliers[0].Location())
	require.NotNil(t, scope.Suppliers[0].Latitude)
	assert.InDelta(t, 53.55, *scope.Suppliers[0].Latitude, 1e-9)
	assert.Equal(t, []string{"MSKU1234567"}, scope.Suppliers[0].TrackingIDs)
	assert.Nil(t, scope.Suppliers[1].Latitude)
}

func TestLoadScope_Errors(t *testing.T) {
	_, err := loadScope(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("suppliers: {"), 0o600))
	_, err = loadScope(path)
	assert.Error(t, err)
}
