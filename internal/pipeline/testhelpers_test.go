package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/supplyrisk/internal/analyzer"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/notify"
	"github.com/sells-group/supplyrisk/internal/scorer"
	"github.com/sells-group/supplyrisk/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// fakeAnalyzer answers from fn. A nil fn finds nothing.
type fakeAnalyzer struct {
	name   string
	source model.SourceType
	fn     func(scope model.SupplierScope) (analyzer.Result, error)
}

func (f *fakeAnalyzer) Name() string             { return f.name }
func (f *fakeAnalyzer) Source() model.SourceType { return f.source }

func (f *fakeAnalyzer) Analyze(_ context.Context, scope model.SupplierScope) (analyzer.Result, error) {
	if f.fn == nil {
		return analyzer.Result{}, nil
	}
	return f.fn(scope)
}

// onlyFor returns risks for one supplier and nothing for the rest.
func onlyFor(supplierID string, risks ...model.RiskCandidate) func(model.SupplierScope) (analyzer.Result, error) {
	return func(scope model.SupplierScope) (analyzer.Result, error) {
		if scope.ID != supplierID {
			return analyzer.Result{}, nil
		}
		return analyzer.Result{Risks: risks}, nil
	}
}

// workedExampleSuite finds a critical weather risk and a high shipping risk
// for sup-a and nothing for sup-b. Candidates omit source_type so the
// analyzer's own source is used.
func workedExampleSuite() *analyzer.Suite {
	return &analyzer.Suite{
		Network: []analyzer.Analyzer{
			&fakeAnalyzer{name: "weather", source: model.SourceWeather, fn: onlyFor("sup-a", model.RiskCandidate{
				Title: "Flood warning", Description: "River flooding expected near the plant", Severity: "critical",
			})},
			&fakeAnalyzer{name: "shipping", source: model.SourceShipping, fn: onlyFor("sup-a", model.RiskCandidate{
				Title: "Port congestion", Description: "Vessel delayed six days", Severity: "HIGH",
			})},
		},
		Timeout: 2 * time.Second,
	}
}

func testOrg() model.OrganizationScope {
	return model.OrganizationScope{
		ID:   "org-1",
		Name: "Globex",
		Suppliers: []model.SupplierScope{
			{ID: "sup-a", Name: "Acme Metals", Country: "Germany"},
			{ID: "sup-b", Name: "Bolt Plastics", Country: "Canada"},
		},
	}
}

func newTestAggregator(st store.Store, suite *analyzer.Suite, planner PlanAuthor, pub notify.Publisher) *Aggregator {
	return NewAggregator(Deps{
		Store:     st,
		Suite:     suite,
		Scorer:    scorer.NewSupplierScorer(scorer.MustDefault(), nil),
		Planner:   planner,
		Publisher: pub,
	})
}

// recorder keeps every published event.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, e notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// stubAuthor drafts a canned plan per target. fail makes targets of that
// kind fail.
type stubAuthor struct {
	mu      sync.Mutex
	targets []PlanTarget
	fail    model.PlanKind
	err     error
}

func (s *stubAuthor) Draft(_ context.Context, t PlanTarget) (*model.MitigationPlan, error) {
	s.mu.Lock()
	s.targets = append(s.targets, t)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.fail != "" && t.Kind == s.fail {
		return nil, fmt.Errorf("draft %s failed", t.Kind)
	}
	plan := &model.MitigationPlan{
		SupplierID: t.SupplierID,
		Kind:       t.Kind,
		Title:      fmt.Sprintf("%s plan for %s", t.Kind, t.SupplierID),
		Summary:    "Qualify a second source.",
		Actions:    []string{"Call the supplier"},
	}
	for _, r := range t.Risks {
		plan.RiskIDs = append(plan.RiskIDs, r.ID)
	}
	if t.Opportunity != nil {
		plan.OpportunityID = t.Opportunity.ID
	}
	return plan, nil
}

// faultyStore injects errors into selected writes.
type faultyStore struct {
	store.Store
	risksFor     string
	orgScoreErr  error
	planErr      error
	failStatuses bool
}

func (f *faultyStore) InsertRisks(ctx context.Context, risks []model.RiskRecord) error {
	if f.risksFor != "" && len(risks) > 0 && risks[0].SupplierID == f.risksFor {
		return fmt.Errorf("disk full")
	}
	return f.Store.InsertRisks(ctx, risks)
}

func (f *faultyStore) InsertOrganizationScore(ctx context.Context, snap *model.OrganizationScoreSnapshot) error {
	if f.orgScoreErr != nil {
		return f.orgScoreErr
	}
	return f.Store.InsertOrganizationScore(ctx, snap)
}

func (f *faultyStore) InsertPlan(ctx context.Context, plan *model.MitigationPlan) error {
	if f.planErr != nil {
		return f.planErr
	}
	return f.Store.InsertPlan(ctx, plan)
}

func (f *faultyStore) UpdateRunStatus(ctx context.Context, st *model.RunStatus) error {
	if f.failStatuses && st.State == model.RunStateError {
		return fmt.Errorf("status table unavailable")
	}
	return f.Store.UpdateRunStatus(ctx, st)
}
