package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supplyrisk/internal/analyzer"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/notify"
	"github.com/sells-group/supplyrisk/internal/runstate"
	"github.com/sells-group/supplyrisk/internal/store"
)

func TestRunOrganization_WorkedExample(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	rec := &recorder{}
	agg := newTestAggregator(st, workedExampleSuite(), nil, rec)

	res, err := agg.RunOrganization(ctx, testOrg())
	require.NoError(t, err)

	require.Len(t, res.Suppliers, 2)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 48.23, res.Suppliers[0].Snapshot.Score)
	assert.Equal(t, model.RiskLevelMedium, res.Suppliers[0].Snapshot.Level)
	assert.Equal(t, model.ScoreSourceAlgorithmic, res.Suppliers[0].Snapshot.Source)
	assert.Equal(t, map[string]float64{"weather": 4, "shipping": 3.9}, res.Suppliers[0].Snapshot.Breakdown)
	assert.Len(t, res.Suppliers[0].Snapshot.RiskIDs, 2)
	assert.Equal(t, 0.0, res.Suppliers[1].Snapshot.Score)
	assert.Equal(t, model.RiskLevelLow, res.Suppliers[1].Snapshot.Level)

	require.NotNil(t, res.Score)
	assert.Equal(t, 33.76, res.Score.Score)
	assert.Equal(t, model.RiskLevelMedium, res.Score.Level)
	assert.Equal(t, map[string]float64{"sup-a": 48.23, "sup-b": 0}, res.Score.SupplierScores)
	assert.NotEmpty(t, res.Score.Summary)

	latest, err := st.LatestOrganizationScore(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 33.76, latest.Score)

	for _, rs := range res.Runs {
		got, err := st.GetRun(ctx, rs.Run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStateCompleted, got.Status.State, rs.Run.SupplierID)
		assert.Empty(t, got.Status.Error)
	}
	a, err := st.GetRun(ctx, res.Runs[0].Run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Status.Counters.RisksDetected)
	assert.Equal(t, "Completed: 2 risks, 0 opportunities, 0 plans", a.Status.CurrentTask)

	suppliers, err := st.ListSuppliers(ctx, "org-1")
	require.NoError(t, err)
	latestBySupplier := map[string]float64{}
	for _, s := range suppliers {
		latestBySupplier[s.SupplierID] = s.LatestScore
	}
	assert.Equal(t, map[string]float64{"sup-a": 48.23, "sup-b": 0}, latestBySupplier)

	assert.NotEmpty(t, rec.ofType(notify.EventAgentStatus))
	assert.NotEmpty(t, rec.ofType(notify.EventSuppliersSnapshot))
	scores := rec.ofType(notify.EventOrganizationRiskScore)
	require.Len(t, scores, 1)
	payload, ok := scores[0].Payload.(notify.OrganizationRiskScore)
	require.True(t, ok)
	assert.Equal(t, 33.76, payload.Score)

	active, err := st.HasActiveRun(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRunOrganization_AnalyzerFailuresAreIsolated(t *testing.T) {
	suite := workedExampleSuite()
	suite.Network = append(suite.Network,
		&fakeAnalyzer{name: "broken", source: model.SourceNews, fn: func(model.SupplierScope) (analyzer.Result, error) {
			return analyzer.Result{}, errors.New("upstream 503")
		}},
		&fakeAnalyzer{name: "panicky", source: model.SourceGlobalNews, fn: func(model.SupplierScope) (analyzer.Result, error) {
			panic("nil map")
		}},
	)

	res, err := newTestAggregator(newTestStore(t), suite, nil, nil).RunOrganization(context.Background(), testOrg())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 48.23, res.Suppliers[0].Snapshot.Score)
	assert.Equal(t, 33.76, res.Score.Score)
}

func TestRunOrganization_DropsMalformedCandidates(t *testing.T) {
	suite := workedExampleSuite()
	suite.Network = append(suite.Network, &fakeAnalyzer{name: "news", source: model.SourceNews, fn: onlyFor("sup-a",
		model.RiskCandidate{Title: "", Description: "no title"},
		model.RiskCandidate{Title: "Strike", Description: "Dock workers strike", Severity: "catastrophic", SourceType: "rumor"},
	)})

	res, err := newTestAggregator(newTestStore(t), suite, nil, nil).RunOrganization(context.Background(), testOrg())
	require.NoError(t, err)

	a := res.Suppliers[0]
	assert.Equal(t, 1, a.Dropped)
	require.Len(t, a.Risks, 3)
	strike := a.Risks[2]
	assert.Equal(t, model.SeverityMedium, strike.Severity)
	assert.Equal(t, model.SourceNews, strike.SourceType)
	assert.Equal(t, "org-1", strike.OrganizationID)
	assert.Equal(t, a.RunID, strike.WorkflowRunID)
}

func TestRunOrganization_UnencodableSourceDataKeepsRecord(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	suite := workedExampleSuite()
	suite.Network = append(suite.Network, &fakeAnalyzer{name: "heat", source: model.SourceWeather, fn: onlyFor("sup-a",
		model.RiskCandidate{
			Title: "Heat wave", Description: "Plant cooling at capacity", Severity: "low",
			SourceData: map[string]any{"exposure_score": math.NaN(), "nested": map[string]any{"inf": math.Inf(1)}},
		},
	)})

	res, err := newTestAggregator(st, suite, nil, nil).RunOrganization(ctx, testOrg())
	require.NoError(t, err)
	require.Equal(t, 0, res.Failed)

	a := res.Suppliers[0]
	assert.Equal(t, 0, a.Dropped)

	run, err := st.GetRun(ctx, a.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateCompleted, run.Status.State)

	persisted, err := st.ListRisksByRun(ctx, a.RunID, "")
	require.NoError(t, err)
	require.Len(t, persisted, 3)
	assert.Equal(t, "Heat wave", persisted[2].Title)
	assert.Nil(t, persisted[2].SourceData)
}

func TestRunOrganization_GeopoliticalInline(t *testing.T) {
	org := testOrg()
	org.Suppliers[1].Country = "Ukraine"
	suite := workedExampleSuite()
	suite.Geopolitical = analyzer.NewGeopolitical(nil)

	res, err := newTestAggregator(newTestStore(t), suite, nil, nil).RunOrganization(context.Background(), org)
	require.NoError(t, err)

	b := res.Suppliers[1]
	require.Len(t, b.Risks, 1)
	assert.Equal(t, model.SourceGeopolitical, b.Risks[0].SourceType)
	assert.Equal(t, []string{"sup-b"}, b.Risks[0].AffectedSuppliers)
	assert.Greater(t, b.Snapshot.Score, 0.0)
}

func TestRunOrganization_SupplierFailureContinues(t *testing.T) {
	ctx := context.Background()
	st := &faultyStore{Store: newTestStore(t), risksFor: "sup-a"}

	res, err := newTestAggregator(st, workedExampleSuite(), nil, nil).RunOrganization(ctx, testOrg())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Suppliers, 1)
	assert.Equal(t, "sup-b", res.Suppliers[0].Scope.ID)
	assert.Equal(t, 0.0, res.Score.Score)

	a, err := st.GetRun(ctx, res.Runs[0].Run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateError, a.Status.State)
	assert.Contains(t, a.Status.Error, "disk full")

	b, err := st.GetRun(ctx, res.Runs[1].Run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateCompleted, b.Status.State)
}

func TestRunOrganization_AbortMarksUnfinishedRuns(t *testing.T) {
	ctx := context.Background()
	st := &faultyStore{Store: newTestStore(t), orgScoreErr: errors.New("connection reset")}

	_, err := newTestAggregator(st, workedExampleSuite(), nil, nil).RunOrganization(ctx, testOrg())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	runs, err := st.ListRuns(ctx, store.RunFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, rs := range runs {
		assert.Equal(t, model.RunStateError, rs.Status.State)
		assert.Contains(t, rs.Status.Error, "connection reset")
	}

	active, err := st.HasActiveRun(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRunOrganization_UnrecordableFailureIsFatal(t *testing.T) {
	st := &faultyStore{Store: newTestStore(t), risksFor: "sup-a", failStatuses: true}

	_, err := newTestAggregator(st, workedExampleSuite(), nil, nil).RunOrganization(context.Background(), testOrg())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record failure of supplier sup-a")
}

func TestPrepare_RejectsConcurrentCycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	agg := newTestAggregator(st, workedExampleSuite(), nil, nil)

	cycle, err := agg.Prepare(ctx, testOrg())
	require.NoError(t, err)

	_, err = agg.Prepare(ctx, testOrg())
	assert.ErrorIs(t, err, runstate.ErrRunInProgress)

	_, err = cycle.Execute(ctx)
	require.NoError(t, err)

	again, err := agg.Prepare(ctx, testOrg())
	require.NoError(t, err)
	assert.Equal(t, 3, again.Runs[0].Run.RunIndex)
	_, err = again.Execute(ctx)
	require.NoError(t, err)
}

func TestPrepare_QueuedCycleBlocksOtherProcess(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	first := newTestAggregator(st, workedExampleSuite(), nil, nil)
	second := newTestAggregator(st, workedExampleSuite(), nil, nil)

	cycle, err := first.Prepare(ctx, testOrg())
	require.NoError(t, err)

	// The runs are still idle, so only the durable check can see them.
	_, err = second.Prepare(ctx, testOrg())
	assert.ErrorIs(t, err, runstate.ErrRunInProgress)

	_, err = cycle.Execute(ctx)
	require.NoError(t, err)

	again, err := second.Prepare(ctx, testOrg())
	require.NoError(t, err)
	_, err = again.Execute(ctx)
	require.NoError(t, err)
}

// blindStore reports no open runs, as a second process would if it checked
// just before the first one created its runs.
type blindStore struct{ store.Store }

func (blindStore) HasActiveRun(context.Context, string) (bool, error) { return false, nil }

func TestPrepare_LosingCreateRunsRace(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	first := newTestAggregator(st, workedExampleSuite(), nil, nil)
	second := newTestAggregator(blindStore{st}, workedExampleSuite(), nil, nil)

	cycle, err := first.Prepare(ctx, testOrg())
	require.NoError(t, err)

	_, err = second.Prepare(ctx, testOrg())
	assert.ErrorIs(t, err, runstate.ErrRunInProgress)

	runs, err := st.ListRuns(ctx, store.RunFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, runs, 2, "the losing cycle created nothing")

	_, err = cycle.Execute(ctx)
	require.NoError(t, err)

	// The loser released its guard and can run once the winner settles.
	again, err := second.Prepare(ctx, testOrg())
	require.NoError(t, err)
	assert.Equal(t, 3, again.Runs[0].Run.RunIndex)
	_, err = again.Execute(ctx)
	require.NoError(t, err)
}

func TestPrepare_ValidatesScope(t *testing.T) {
	agg := newTestAggregator(newTestStore(t), workedExampleSuite(), nil, nil)
	tests := []struct {
		name string
		org  model.OrganizationScope
	}{
		{"missing id", model.OrganizationScope{Suppliers: []model.SupplierScope{{ID: "a"}}}},
		{"no suppliers", model.OrganizationScope{ID: "org-1"}},
		{"blank supplier id", model.OrganizationScope{ID: "org-1", Suppliers: []model.SupplierScope{{Name: "x"}}}},
		{"duplicate supplier", model.OrganizationScope{ID: "org-1", Suppliers: []model.SupplierScope{{ID: "a"}, {ID: "a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.Prepare(context.Background(), tt.org)
			assert.ErrorIs(t, err, ErrInvalidScope)
		})
	}
}

func TestRunOrganization_Plans(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	suite := workedExampleSuite()
	suite.Network = append(suite.Network, &fakeAnalyzer{name: "news", source: model.SourceNews,
		fn: func(scope model.SupplierScope) (analyzer.Result, error) {
			if scope.ID != "sup-a" {
				return analyzer.Result{}, nil
			}
			return analyzer.Result{
				Risks: []model.RiskCandidate{{
					Title: "Labor dispute", Description: "Union vote next week", Severity: "low", AffectedSupplier: "sup-a",
				}},
				Opportunities: []model.OpportunityCandidate{{
					Title: "Freight rebate", Description: "Carrier offers volume rebate", Type: "cost_saving",
				}},
			}, nil
		}})
	author := &stubAuthor{}

	res, err := newTestAggregator(st, suite, author, nil).RunOrganization(ctx, testOrg())
	require.NoError(t, err)

	// weather and shipping name no supplier, so they are planned one by one.
	kinds := make([]model.PlanKind, len(author.targets))
	for i, tgt := range author.targets {
		kinds[i] = tgt.Kind
	}
	assert.Equal(t, []model.PlanKind{model.PlanKindSupplier, model.PlanKindRisk, model.PlanKindRisk, model.PlanKindOpportunity}, kinds)
	assert.Equal(t, "Acme Metals", author.targets[0].SupplierName)
	assert.Equal(t, "Globex", author.targets[0].Organization)
	require.Len(t, res.Plans, 4)

	saved, err := st.ListPlans(ctx, "org-1", 10)
	require.NoError(t, err)
	assert.Len(t, saved, 4)

	a, err := st.GetRun(ctx, res.Runs[0].Run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Status.Counters.PlansGenerated)
	assert.Equal(t, 1, a.Status.Counters.OpportunitiesIdentified)
	assert.Equal(t, model.RunStateCompleted, a.Status.State)
	assert.Equal(t, "Completed: 3 risks, 1 opportunities, 4 plans", a.Status.CurrentTask)
}

func TestRunOrganization_PlanFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("draft failure skips plan", func(t *testing.T) {
		author := &stubAuthor{fail: model.PlanKindRisk}
		res, err := newTestAggregator(newTestStore(t), workedExampleSuite(), author, nil).RunOrganization(ctx, testOrg())
		require.NoError(t, err)
		assert.Len(t, author.targets, 2)
		assert.Empty(t, res.Plans)
	})

	t.Run("unavailable author skips pass", func(t *testing.T) {
		author := &stubAuthor{err: ErrPlannerUnavailable}
		res, err := newTestAggregator(newTestStore(t), workedExampleSuite(), author, nil).RunOrganization(ctx, testOrg())
		require.NoError(t, err)
		assert.Len(t, author.targets, 1)
		assert.Empty(t, res.Plans)
	})

	t.Run("persist failure aborts", func(t *testing.T) {
		st := &faultyStore{Store: newTestStore(t), planErr: errors.New("constraint violation")}
		_, err := newTestAggregator(st, workedExampleSuite(), &stubAuthor{}, nil).RunOrganization(ctx, testOrg())
		require.Error(t, err)

		runs, err := st.ListRuns(ctx, store.RunFilter{OrganizationID: "org-1"})
		require.NoError(t, err)
		for _, rs := range runs {
			assert.Equal(t, model.RunStateError, rs.Status.State)
		}
	})
}

func TestRescoreRun_Deterministic(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	agg := newTestAggregator(st, workedExampleSuite(), nil, nil)

	res, err := agg.RunOrganization(ctx, testOrg())
	require.NoError(t, err)
	runID := res.Runs[0].Run.ID

	first, err := agg.RescoreRun(ctx, runID)
	require.NoError(t, err)
	second, err := agg.RescoreRun(ctx, runID)
	require.NoError(t, err)

	assert.Equal(t, 48.23, first.Score)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Breakdown, second.Breakdown)
	assert.Equal(t, first.SeverityCounts, second.SeverityCounts)
	assert.Equal(t, first.RiskIDs, second.RiskIDs)
	assert.Equal(t, "sup-a", first.SupplierID)

	history, err := st.ListSupplierScores(ctx, "org-1", "sup-a", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = agg.RescoreRun(ctx, "missing")
	assert.Error(t, err)
}
