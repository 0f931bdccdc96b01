package model

import "time"

// PlanKind describes what a mitigation plan was generated for.
type PlanKind string

const (
	PlanKindSupplier    PlanKind = "supplier"
	PlanKindRisk        PlanKind = "risk"
	PlanKindOpportunity PlanKind = "opportunity"
)

// MitigationPlan is an authored response to one supplier's risks, a single
// ungrouped risk, or an opportunity.
type MitigationPlan struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	SupplierID     string    `json:"supplier_id,omitempty"`
	Kind           PlanKind  `json:"kind"`
	RiskIDs        []string  `json:"risk_ids,omitempty"`
	OpportunityID  string    `json:"opportunity_id,omitempty"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	Actions        []string  `json:"actions"`
	CreatedAt      time.Time `json:"created_at"`
}
