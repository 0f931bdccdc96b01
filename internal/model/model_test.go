package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunState_Classification(t *testing.T) {
	tests := []struct {
		state    RunState
		terminal bool
		active   bool
	}{
		{RunStateIdle, false, false},
		{RunStateMonitoring, false, true},
		{RunStateAnalyzing, false, true},
		{RunStateProcessing, false, true},
		{RunStateCompleted, true, false},
		{RunStateError, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.Equal(t, tt.active, tt.state.IsActive())
		})
	}

	for _, s := range ActiveRunStates {
		assert.True(t, s.IsActive(), s)
	}
	for _, s := range OpenRunStates {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.Contains(t, OpenRunStates, RunStateIdle)
}

func TestWorkflowRun_RunDateKey(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	est := time.FixedZone("EST", -5*3600)
	run := WorkflowRun{RunDate: time.Date(2026, 3, 14, 23, 30, 0, 0, est)}
	assert.Equal(t, "2026-03-15", run.RunDateKey())
}

func TestSupplierScope_Location(t *testing.T) {
	assert.Equal(t, "Hamburg, Germany", SupplierScope{City: "Hamburg", Country: "Germany"}.Location())
	assert.Equal(t, "Austin, TX, USA", SupplierScope{City: "Austin", Region: "TX", Country: "USA"}.Location())
	assert.Empty(t, SupplierScope{Name: "Acme"}.Location())
}
