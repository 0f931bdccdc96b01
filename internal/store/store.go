// Package store persists runs, statuses, findings, score snapshots and
// mitigation plans. PostgresStore is the production backend; SQLiteStore
// serves local runs and tests.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/supplyrisk/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrOpenRuns is returned by CreateRuns when the organization still has runs
// that have not reached a terminal state.
var ErrOpenRuns = eris.New("store: organization has open runs")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	OrganizationID string `json:"organization_id,omitempty"`
	SupplierID     string `json:"supplier_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the risk pipeline.
type Store interface {
	// Runs

	// CreateRuns pre-creates one run and one idle status per supplier.
	// Run indexes continue after the runs already recorded for the
	// organization on runDate's calendar day. It fails with ErrOpenRuns
	// while any earlier run of the organization is still open; the check
	// and the inserts are serialized per organization.
	CreateRuns(ctx context.Context, orgID string, runDate time.Time, supplierIDs []string) ([]model.RunWithStatus, error)
	GetRun(ctx context.Context, runID string) (*model.RunWithStatus, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunWithStatus, error)
	UpdateRunStatus(ctx context.Context, st *model.RunStatus) error
	// HasActiveRun reports whether the organization has an open run
	// (idle, monitoring, analyzing or processing).
	HasActiveRun(ctx context.Context, orgID string) (bool, error)

	// Findings
	InsertRisks(ctx context.Context, risks []model.RiskRecord) error
	InsertOpportunities(ctx context.Context, opps []model.OpportunityRecord) error
	// ListRisksByRun returns the run's risks with the given status, oldest
	// first. An empty status matches all.
	ListRisksByRun(ctx context.Context, runID, status string) ([]model.RiskRecord, error)
	ListOpportunitiesByRun(ctx context.Context, runID string) ([]model.OpportunityRecord, error)

	// Scores
	InsertSupplierScore(ctx context.Context, snap *model.SupplierScoreSnapshot) error
	ListSupplierScores(ctx context.Context, orgID, supplierID string, limit int) ([]model.SupplierScoreSnapshot, error)
	InsertOrganizationScore(ctx context.Context, snap *model.OrganizationScoreSnapshot) error
	LatestOrganizationScore(ctx context.Context, orgID string) (*model.OrganizationScoreSnapshot, error)

	// Suppliers
	SyncSuppliers(ctx context.Context, orgID string, suppliers []model.SupplierScope) error
	UpdateSupplierScore(ctx context.Context, state model.SupplierScoreState) error
	ListSuppliers(ctx context.Context, orgID string) ([]model.SupplierScoreState, error)

	// Plans
	InsertPlan(ctx context.Context, plan *model.MitigationPlan) error
	ListPlans(ctx context.Context, orgID string, limit int) ([]model.MitigationPlan, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

type scannable interface {
	Scan(dest ...any) error
}

func newID() string { return uuid.New().String() }

// newRuns builds the runs and idle statuses for CreateRuns. existing is the
// number of runs the organization already has on runDate's day.
func newRuns(orgID string, runDate time.Time, supplierIDs []string, existing int, now time.Time) []model.RunWithStatus {
	day, _ := time.Parse("2006-01-02", model.DateKey(runDate))
	out := make([]model.RunWithStatus, len(supplierIDs))
	for i, sup := range supplierIDs {
		run := model.WorkflowRun{
			ID:             newID(),
			OrganizationID: orgID,
			SupplierID:     sup,
			RunDate:        day,
			RunIndex:       existing + i + 1,
			CreatedAt:      now,
		}
		out[i] = model.RunWithStatus{
			Run: run,
			Status: &model.RunStatus{
				ID:             newID(),
				WorkflowRunID:  run.ID,
				OrganizationID: orgID,
				State:          model.RunStateIdle,
				CurrentTask:    "Queued",
				LastUpdated:    now,
			},
		}
	}
	return out
}

// scanRunWithStatus reads the run columns followed by the status columns.
// run_date is selected as YYYY-MM-DD text by both backends.
func scanRunWithStatus(row scannable) (model.RunWithStatus, error) {
	var r model.WorkflowRun
	var st model.RunStatus
	var day string
	err := row.Scan(&r.ID, &r.OrganizationID, &r.SupplierID, &day, &r.RunIndex, &r.CreatedAt,
		&st.ID, &st.State, &st.CurrentTask, &st.Counters.RisksDetected, &st.Counters.OpportunitiesIdentified,
		&st.Counters.PlansGenerated, &st.Error, &st.LastUpdated)
	if err != nil {
		return model.RunWithStatus{}, err
	}
	if r.RunDate, err = time.Parse("2006-01-02", day); err != nil {
		return model.RunWithStatus{}, eris.Wrapf(err, "store: parse run date %q", day)
	}
	st.WorkflowRunID = r.ID
	st.OrganizationID = r.OrganizationID
	return model.RunWithStatus{Run: r, Status: &st}, nil
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json")
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return eris.Wrap(err, "store: unmarshal json")
	}
	return nil
}

func listLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// riskColumns is shared by both backends; the order matches riskArgs and
// scanRisk.
var riskColumns = []string{
	"id", "organization_id", "supplier_id", "workflow_run_id", "title", "description",
	"severity", "source_type", "source_data", "affected_region", "affected_suppliers",
	"estimated_cost", "status", "created_at",
}

func prepareRisk(r *model.RiskRecord, now time.Time) {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Status == "" {
		r.Status = model.RiskStatusDetected
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}

func riskArgs(r *model.RiskRecord) ([]any, error) {
	data, err := marshalJSON(r.SourceData)
	if err != nil {
		return nil, err
	}
	affected, err := marshalJSON(nonNil(r.AffectedSuppliers))
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID, r.OrganizationID, r.SupplierID, r.WorkflowRunID, r.Title, r.Description,
		string(r.Severity), string(r.SourceType), data, r.AffectedRegion, affected,
		r.EstimatedCost, r.Status, r.CreatedAt,
	}, nil
}

func scanRisk(row scannable) (model.RiskRecord, error) {
	var r model.RiskRecord
	var data, affected []byte
	err := row.Scan(&r.ID, &r.OrganizationID, &r.SupplierID, &r.WorkflowRunID, &r.Title, &r.Description,
		&r.Severity, &r.SourceType, &data, &r.AffectedRegion, &affected,
		&r.EstimatedCost, &r.Status, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	if err := unmarshalJSON(data, &r.SourceData); err != nil {
		return r, err
	}
	return r, unmarshalJSON(affected, &r.AffectedSuppliers)
}

var opportunityColumns = []string{
	"id", "organization_id", "supplier_id", "workflow_run_id", "title", "description",
	"type", "source_type", "source_data", "affected_region", "affected_suppliers",
	"estimated_value", "status", "created_at",
}

func prepareOpportunity(o *model.OpportunityRecord, now time.Time) {
	if o.ID == "" {
		o.ID = newID()
	}
	if o.Status == "" {
		o.Status = model.RiskStatusDetected
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
}

func opportunityArgs(o *model.OpportunityRecord) ([]any, error) {
	data, err := marshalJSON(o.SourceData)
	if err != nil {
		return nil, err
	}
	affected, err := marshalJSON(nonNil(o.AffectedSuppliers))
	if err != nil {
		return nil, err
	}
	return []any{
		o.ID, o.OrganizationID, o.SupplierID, o.WorkflowRunID, o.Title, o.Description,
		string(o.Type), string(o.SourceType), data, o.AffectedRegion, affected,
		o.EstimatedValue, o.Status, o.CreatedAt,
	}, nil
}

func scanOpportunity(row scannable) (model.OpportunityRecord, error) {
	var o model.OpportunityRecord
	var data, affected []byte
	err := row.Scan(&o.ID, &o.OrganizationID, &o.SupplierID, &o.WorkflowRunID, &o.Title, &o.Description,
		&o.Type, &o.SourceType, &data, &o.AffectedRegion, &affected,
		&o.EstimatedValue, &o.Status, &o.CreatedAt)
	if err != nil {
		return o, err
	}
	if err := unmarshalJSON(data, &o.SourceData); err != nil {
		return o, err
	}
	return o, unmarshalJSON(affected, &o.AffectedSuppliers)
}

// supplierScoreJSON returns the JSON-encoded breakdown, counts and risk ids.
func supplierScoreJSON(s *model.SupplierScoreSnapshot) (breakdown, counts, riskIDs []byte, err error) {
	if breakdown, err = marshalJSON(nonNilMap(s.Breakdown)); err != nil {
		return
	}
	if counts, err = marshalJSON(nonNilMap(s.SeverityCounts)); err != nil {
		return
	}
	riskIDs, err = marshalJSON(nonNil(s.RiskIDs))
	return
}

func scanSupplierScore(row scannable) (model.SupplierScoreSnapshot, error) {
	var s model.SupplierScoreSnapshot
	var breakdown, counts, riskIDs []byte
	err := row.Scan(&s.ID, &s.WorkflowRunID, &s.OrganizationID, &s.SupplierID, &s.Score, &s.Level,
		&breakdown, &counts, &riskIDs, &s.Source, &s.Reasoning, &s.CreatedAt)
	if err != nil {
		return s, err
	}
	if err := unmarshalJSON(breakdown, &s.Breakdown); err != nil {
		return s, err
	}
	if err := unmarshalJSON(counts, &s.SeverityCounts); err != nil {
		return s, err
	}
	return s, unmarshalJSON(riskIDs, &s.RiskIDs)
}

func scanOrganizationScore(row scannable) (*model.OrganizationScoreSnapshot, error) {
	var s model.OrganizationScoreSnapshot
	var breakdown, counts, suppliers []byte
	err := row.Scan(&s.ID, &s.OrganizationID, &s.Score, &s.Level, &breakdown, &counts, &suppliers, &s.Summary, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(breakdown, &s.Breakdown); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(counts, &s.SeverityCounts); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(suppliers, &s.SupplierScores); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanPlan(row scannable) (model.MitigationPlan, error) {
	var p model.MitigationPlan
	var riskIDs, actions []byte
	err := row.Scan(&p.ID, &p.OrganizationID, &p.SupplierID, &p.Kind, &riskIDs, &p.OpportunityID,
		&p.Title, &p.Summary, &actions, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	if err := unmarshalJSON(riskIDs, &p.RiskIDs); err != nil {
		return p, err
	}
	return p, unmarshalJSON(actions, &p.Actions)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
