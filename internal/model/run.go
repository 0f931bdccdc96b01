package model

import "time"

// RunState represents a position in the run status machine.
type RunState string

const (
	RunStateIdle       RunState = "idle"
	RunStateMonitoring RunState = "monitoring"
	RunStateAnalyzing  RunState = "analyzing"
	RunStateProcessing RunState = "processing"
	RunStateCompleted  RunState = "completed"
	RunStateError      RunState = "error"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateError
}

// IsActive reports whether a run in state s is doing work.
func (s RunState) IsActive() bool {
	switch s {
	case RunStateMonitoring, RunStateAnalyzing, RunStateProcessing:
		return true
	default:
		return false
	}
}

// ActiveRunStates lists the states that count as "in progress".
var ActiveRunStates = []RunState{RunStateMonitoring, RunStateAnalyzing, RunStateProcessing}

// OpenRunStates lists every non-terminal state. A queued idle run already
// belongs to a prepared cycle, so open runs block new triggers for the same
// organization.
var OpenRunStates = append([]RunState{RunStateIdle}, ActiveRunStates...)

// WorkflowRun is one execution of the analysis pipeline for an
// organization/supplier pair on a calendar day. Immutable once created.
type WorkflowRun struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	SupplierID     string    `json:"supplier_id,omitempty"` // empty for organization-level runs
	RunDate        time.Time `json:"run_date"`
	RunIndex       int       `json:"run_index"`
	CreatedAt      time.Time `json:"created_at"`
}

// RunDateKey returns the calendar day of the run as YYYY-MM-DD.
func (r WorkflowRun) RunDateKey() string {
	return DateKey(r.RunDate)
}

// DateKey formats t as a UTC calendar day.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RunCounters tracks what a run has produced so far.
type RunCounters struct {
	RisksDetected           int `json:"risks_detected"`
	OpportunitiesIdentified int `json:"opportunities_identified"`
	PlansGenerated          int `json:"plans_generated"`
}

// RunStatus is the single live progress row of a WorkflowRun.
type RunStatus struct {
	ID             string      `json:"id"`
	WorkflowRunID  string      `json:"workflow_run_id"`
	OrganizationID string      `json:"organization_id"`
	State          RunState    `json:"state"`
	CurrentTask    string      `json:"current_task"`
	Counters       RunCounters `json:"counters"`
	Error          string      `json:"error,omitempty"`
	LastUpdated    time.Time   `json:"last_updated"`
}

// RunWithStatus pairs a run with its live status for listings.
type RunWithStatus struct {
	Run    WorkflowRun `json:"run"`
	Status *RunStatus  `json:"status,omitempty"`
}
