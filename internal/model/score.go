package model

import "time"

// RiskLevel is the severity band derived from a numeric score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// ScoreSource records which scorer produced a supplier score.
type ScoreSource string

const (
	ScoreSourceAlgorithmic ScoreSource = "algorithmic"
	ScoreSourceLLM         ScoreSource = "llm"
)

// SupplierScoreSnapshot is the score of one WorkflowRun. RiskIDs is an audit
// trail of the risks it was computed from, not a live reference.
type SupplierScoreSnapshot struct {
	ID             string             `json:"id"`
	WorkflowRunID  string             `json:"workflow_run_id"`
	OrganizationID string             `json:"organization_id"`
	SupplierID     string             `json:"supplier_id"`
	Score          float64            `json:"score"`
	Level          RiskLevel          `json:"level"`
	Breakdown      map[string]float64 `json:"breakdown"`
	SeverityCounts map[string]int     `json:"severity_counts"`
	RiskIDs        []string           `json:"risk_ids"`
	Source         ScoreSource        `json:"source"`
	Reasoning      string             `json:"reasoning,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// OrganizationScoreSnapshot is the result of one organization aggregation pass.
type OrganizationScoreSnapshot struct {
	ID             string             `json:"id"`
	OrganizationID string             `json:"organization_id"`
	Score          float64            `json:"score"`
	Level          RiskLevel          `json:"level"`
	Breakdown      map[string]float64 `json:"breakdown"`
	SeverityCounts map[string]int     `json:"severity_counts"`
	SupplierScores map[string]float64 `json:"supplier_scores"`
	Summary        string             `json:"summary"`
	CreatedAt      time.Time          `json:"created_at"`
}

// SupplierScoreState is the cached "latest score" of a supplier.
type SupplierScoreState struct {
	OrganizationID string    `json:"organization_id"`
	SupplierID     string    `json:"supplier_id"`
	Name           string    `json:"name"`
	LatestScore    float64   `json:"latest_score"`
	LatestLevel    RiskLevel `json:"latest_level"`
	LatestRunID    string    `json:"latest_run_id"`
	ScoredAt       time.Time `json:"scored_at"`
}
