// Package notify delivers live progress events. Delivery is fire-and-forget
// and at-most-once; the durable record of a run lives in the store.
package notify

import (
	"context"
	"time"

	"github.com/sells-group/supplyrisk/internal/model"
)

// EventType names a notification kind.
type EventType string

const (
	EventAgentStatus           EventType = "agent_status"
	EventSuppliersSnapshot     EventType = "suppliers_snapshot"
	EventOrganizationRiskScore EventType = "organization_risk_score"
)

// Event is one notification. Payload is one of AgentStatus,
// SuppliersSnapshot or OrganizationRiskScore.
type Event struct {
	Type           EventType `json:"type"`
	OrganizationID string    `json:"organization_id"`
	Payload        any       `json:"payload"`
	At             time.Time `json:"at"`
}

// AgentStatus reports a run state change.
type AgentStatus struct {
	RunID      string            `json:"run_id"`
	SupplierID string            `json:"supplier_id,omitempty"`
	State      model.RunState    `json:"state"`
	Task       string            `json:"task"`
	Counters   model.RunCounters `json:"counters"`
	Error      string            `json:"error,omitempty"`
}

// SuppliersSnapshot carries the latest score of every scored supplier.
// Consumers key entries by supplier id; snapshots are idempotent.
type SuppliersSnapshot struct {
	OrganizationID string                     `json:"organization_id"`
	Suppliers      []model.SupplierScoreState `json:"suppliers"`
}

// OrganizationRiskScore carries an organization aggregation result.
type OrganizationRiskScore struct {
	OrganizationID string             `json:"organization_id"`
	Score          float64            `json:"score"`
	Level          model.RiskLevel    `json:"level"`
	Breakdown      map[string]float64 `json:"breakdown"`
	SeverityCounts map[string]int     `json:"severity_counts,omitempty"`
	Summary        string             `json:"summary"`
}

// NewAgentStatus builds an agent_status event from a run status.
func NewAgentStatus(st *model.RunStatus, supplierID string) Event {
	return Event{
		Type:           EventAgentStatus,
		OrganizationID: st.OrganizationID,
		At:             time.Now().UTC(),
		Payload: AgentStatus{
			RunID:      st.WorkflowRunID,
			SupplierID: supplierID,
			State:      st.State,
			Task:       st.CurrentTask,
			Counters:   st.Counters,
			Error:      st.Error,
		},
	}
}

// NewSuppliersSnapshot builds a suppliers_snapshot event.
func NewSuppliersSnapshot(orgID string, suppliers []model.SupplierScoreState) Event {
	if suppliers == nil {
		suppliers = []model.SupplierScoreState{}
	}
	return Event{
		Type:           EventSuppliersSnapshot,
		OrganizationID: orgID,
		At:             time.Now().UTC(),
		Payload:        SuppliersSnapshot{OrganizationID: orgID, Suppliers: suppliers},
	}
}

// NewOrganizationRiskScore builds an organization_risk_score event.
func NewOrganizationRiskScore(snap *model.OrganizationScoreSnapshot) Event {
	return Event{
		Type:           EventOrganizationRiskScore,
		OrganizationID: snap.OrganizationID,
		At:             time.Now().UTC(),
		Payload: OrganizationRiskScore{
			OrganizationID: snap.OrganizationID,
			Score:          snap.Score,
			Level:          snap.Level,
			Breakdown:      snap.Breakdown,
			SeverityCounts: snap.SeverityCounts,
			Summary:        snap.Summary,
		},
	}
}

// Publisher pushes events. Publish must not block on slow consumers and
// never reports failure to the caller.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) {}

// Multi fans an event out to several publishers.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}
