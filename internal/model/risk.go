package model

import "time"

// Severity grades a single risk record.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists all valid severities from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// SourceType identifies the domain that produced a risk or opportunity.
type SourceType string

const (
	SourceWeather      SourceType = "weather"
	SourceNews         SourceType = "news"
	SourceGlobalNews   SourceType = "global_news"
	SourceShipping     SourceType = "shipping"
	SourceGeopolitical SourceType = "geopolitical"
)

// SourceTypes lists all valid source types.
var SourceTypes = []SourceType{SourceWeather, SourceNews, SourceGlobalNews, SourceShipping, SourceGeopolitical}

// OpportunityType classifies an opportunity record.
type OpportunityType string

const (
	OpportunityCostSaving              OpportunityType = "cost_saving"
	OpportunityTimeSaving              OpportunityType = "time_saving"
	OpportunityQualityImprovement      OpportunityType = "quality_improvement"
	OpportunityMarketExpansion         OpportunityType = "market_expansion"
	OpportunitySupplierDiversification OpportunityType = "supplier_diversification"
)

// OpportunityTypes lists all valid opportunity types.
var OpportunityTypes = []OpportunityType{
	OpportunityCostSaving,
	OpportunityTimeSaving,
	OpportunityQualityImprovement,
	OpportunityMarketExpansion,
	OpportunitySupplierDiversification,
}

// RiskStatusDetected is the status of a freshly persisted risk.
const RiskStatusDetected = "detected"

// RiskCandidate is an unvalidated risk produced by an analyzer. Fields are
// loosely typed because analyzers are black boxes; nothing downstream of the
// normalizer reads a candidate directly.
type RiskCandidate struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Severity          string   `json:"severity"`
	SourceType        string   `json:"source_type"`
	SourceData        any      `json:"source_data,omitempty"`
	AffectedRegion    string   `json:"affected_region,omitempty"`
	AffectedSupplier  string   `json:"affected_supplier,omitempty"`
	AffectedSuppliers []string `json:"affected_suppliers,omitempty"`
	EstimatedCost     any      `json:"estimated_cost,omitempty"`
}

// OpportunityCandidate is an unvalidated opportunity produced by an analyzer.
type OpportunityCandidate struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Type              string   `json:"type"`
	SourceType        string   `json:"source_type"`
	SourceData        any      `json:"source_data,omitempty"`
	AffectedRegion    string   `json:"affected_region,omitempty"`
	AffectedSupplier  string   `json:"affected_supplier,omitempty"`
	AffectedSuppliers []string `json:"affected_suppliers,omitempty"`
	EstimatedValue    any      `json:"estimated_value,omitempty"`
}

// RiskRecord is a normalized risk. Risks are never mutated after scoring.
type RiskRecord struct {
	ID                string         `json:"id"`
	OrganizationID    string         `json:"organization_id"`
	SupplierID        string         `json:"supplier_id,omitempty"`
	WorkflowRunID     string         `json:"workflow_run_id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Severity          Severity       `json:"severity"`
	SourceType        SourceType     `json:"source_type"`
	SourceData        map[string]any `json:"source_data,omitempty"`
	AffectedRegion    string         `json:"affected_region,omitempty"`
	AffectedSuppliers []string       `json:"affected_suppliers,omitempty"`
	EstimatedCost     *float64       `json:"estimated_cost,omitempty"`
	Status            string         `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
}

// OpportunityRecord is a normalized opportunity. It never contributes to a score.
type OpportunityRecord struct {
	ID                string          `json:"id"`
	OrganizationID    string          `json:"organization_id"`
	SupplierID        string          `json:"supplier_id,omitempty"`
	WorkflowRunID     string          `json:"workflow_run_id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Type              OpportunityType `json:"type"`
	SourceType        SourceType      `json:"source_type"`
	SourceData        map[string]any  `json:"source_data,omitempty"`
	AffectedRegion    string          `json:"affected_region,omitempty"`
	AffectedSuppliers []string        `json:"affected_suppliers,omitempty"`
	EstimatedValue    *float64        `json:"estimated_value,omitempty"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}
