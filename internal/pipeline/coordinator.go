// Package pipeline runs supply-risk cycles: per-supplier analysis with a
// concurrent analyzer fan-out, then organization-level aggregation and
// mitigation planning.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/supplyrisk/internal/analyzer"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/normalize"
	"github.com/sells-group/supplyrisk/internal/notify"
	"github.com/sells-group/supplyrisk/internal/runstate"
	"github.com/sells-group/supplyrisk/internal/scorer"
	"github.com/sells-group/supplyrisk/internal/store"
	"github.com/sells-group/supplyrisk/internal/tracing"
)

// SupplierResult is what one supplier run contributes to the organization
// aggregation. Risks are the persisted records the score was computed from.
type SupplierResult struct {
	Scope         model.SupplierScope
	RunID         string
	Risks         []model.RiskRecord
	Opportunities []model.OpportunityRecord
	Snapshot      *model.SupplierScoreSnapshot
	Dropped       int
}

// Coordinator drives the analysis of a single supplier.
type Coordinator struct {
	store   store.Store
	suite   *analyzer.Suite
	scorer  *scorer.SupplierScorer
	tracker *runstate.Tracker
	pub     notify.Publisher
}

// NewCoordinator creates a Coordinator. pub may be nil.
func NewCoordinator(st store.Store, suite *analyzer.Suite, sc *scorer.SupplierScorer, pub notify.Publisher) *Coordinator {
	if pub == nil {
		pub = notify.Nop{}
	}
	if suite == nil {
		suite = &analyzer.Suite{}
	}
	return &Coordinator{
		store:   st,
		suite:   suite,
		scorer:  sc,
		tracker: runstate.NewTracker(st, pub),
		pub:     pub,
	}
}

// RunSupplier analyzes scope under the run that owns status. Analyzer and
// normalization failures only shrink the result. Any returned error means
// the run could not be completed; the caller decides how to record it.
func (c *Coordinator) RunSupplier(ctx context.Context, scope model.SupplierScope, status *model.RunStatus) (*SupplierResult, error) {
	runID := status.WorkflowRunID
	log := zap.L().With(
		zap.String("organization_id", status.OrganizationID),
		zap.String("supplier_id", scope.ID),
		zap.String("run_id", runID),
	)
	ctx, span := tracing.Start(ctx, "supplier.run",
		attribute.String("organization_id", status.OrganizationID),
		attribute.String("supplier_id", scope.ID),
		attribute.String("run_id", runID),
	)
	res, err := c.runSupplier(ctx, log, scope, status)
	tracing.End(span, err)
	return res, err
}

func (c *Coordinator) runSupplier(ctx context.Context, log *zap.Logger, scope model.SupplierScope, status *model.RunStatus) (*SupplierResult, error) {
	if scope.OrganizationID == "" {
		scope.OrganizationID = status.OrganizationID
	}
	name := supplierLabel(scope)

	if err := c.tracker.Transition(ctx, status, scope.ID, model.RunStateMonitoring, "Monitoring "+name); err != nil {
		return nil, err
	}

	results := c.analyze(ctx, scope)

	if err := c.tracker.Transition(ctx, status, scope.ID, model.RunStateAnalyzing, "Normalizing findings"); err != nil {
		return nil, err
	}
	risks, opps, dropped := c.normalize(results, scope, status)
	if dropped > 0 {
		log.Info("pipeline: dropped malformed candidates", zap.Int("dropped", dropped))
	}

	task := fmt.Sprintf("Persisting %d risks and %d opportunities", len(risks), len(opps))
	if err := c.tracker.Transition(ctx, status, scope.ID, model.RunStateProcessing, task); err != nil {
		return nil, err
	}
	if err := c.store.InsertRisks(ctx, risks); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist risks")
	}
	if err := c.store.InsertOpportunities(ctx, opps); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist opportunities")
	}
	counters := status.Counters
	counters.RisksDetected = len(risks)
	counters.OpportunitiesIdentified = len(opps)
	if err := c.tracker.Progress(ctx, status, scope.ID, "Scoring "+name, counters); err != nil {
		return nil, err
	}

	// Score from what was committed, never from the in-memory batch.
	persisted, err := c.store.ListRisksByRun(ctx, status.WorkflowRunID, model.RiskStatusDetected)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: reload risks")
	}
	snap, err := c.score(ctx, scope, status, persisted)
	if err != nil {
		return nil, err
	}

	task = fmt.Sprintf("Scored %.2f (%s)", snap.Score, snap.Level)
	if err := c.tracker.Progress(ctx, status, scope.ID, task, status.Counters); err != nil {
		return nil, err
	}
	c.broadcastSuppliers(ctx, status.OrganizationID)

	log.Info("pipeline: supplier scored",
		zap.Float64("score", snap.Score),
		zap.String("level", string(snap.Level)),
		zap.String("source", string(snap.Source)),
		zap.Int("risks", len(persisted)),
		zap.Int("opportunities", len(opps)),
	)

	return &SupplierResult{
		Scope:         scope,
		RunID:         status.WorkflowRunID,
		Risks:         persisted,
		Opportunities: opps,
		Snapshot:      snap,
		Dropped:       dropped,
	}, nil
}

type analyzed struct {
	source model.SourceType
	res    analyzer.Result
}

// analyze fans out to the network analyzers and waits for all of them. The
// geopolitical analyzer is deterministic and runs inline.
func (c *Coordinator) analyze(ctx context.Context, scope model.SupplierScope) []analyzed {
	out := make([]analyzed, len(c.suite.Network), len(c.suite.Network)+1)

	g, gCtx := errgroup.WithContext(ctx)
	for i, a := range c.suite.Network {
		out[i].source = a.Source()
		g.Go(func() error {
			out[i].res = analyzer.Invoke(gCtx, a, scope, c.suite.Timeout)
			return nil
		})
	}

	var geo []model.RiskCandidate
	if c.suite.Geopolitical != nil {
		geo = c.suite.Geopolitical.Detect(scope)
	}

	_ = g.Wait()
	return append(out, analyzed{source: model.SourceGeopolitical, res: analyzer.Result{Risks: geo}})
}

func (c *Coordinator) normalize(results []analyzed, scope model.SupplierScope, status *model.RunStatus) ([]model.RiskRecord, []model.OpportunityRecord, int) {
	var (
		risks   []model.RiskRecord
		opps    []model.OpportunityRecord
		dropped int
	)
	for _, r := range results {
		rs, d := normalize.Risks(r.res.Risks, r.source)
		dropped += d
		os, d := normalize.Opportunities(r.res.Opportunities, r.source)
		dropped += d
		risks = append(risks, rs...)
		opps = append(opps, os...)
	}

	for i := range risks {
		risks[i].OrganizationID = status.OrganizationID
		risks[i].SupplierID = scope.ID
		risks[i].WorkflowRunID = status.WorkflowRunID
	}
	for i := range opps {
		opps[i].OrganizationID = status.OrganizationID
		opps[i].SupplierID = scope.ID
		opps[i].WorkflowRunID = status.WorkflowRunID
	}
	return risks, opps, dropped
}

func (c *Coordinator) score(ctx context.Context, scope model.SupplierScope, status *model.RunStatus, risks []model.RiskRecord) (*model.SupplierScoreSnapshot, error) {
	a := c.scorer.Assess(ctx, supplierLabel(scope), risks)
	snap := snapshotFromAssessment(a, status.OrganizationID, scope.ID, status.WorkflowRunID, risks)

	if err := c.store.InsertSupplierScore(ctx, snap); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist supplier score")
	}
	if err := c.store.UpdateSupplierScore(ctx, model.SupplierScoreState{
		OrganizationID: status.OrganizationID,
		SupplierID:     scope.ID,
		Name:           scope.Name,
		LatestScore:    snap.Score,
		LatestLevel:    snap.Level,
		LatestRunID:    status.WorkflowRunID,
		ScoredAt:       snap.CreatedAt,
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: update supplier score")
	}
	return snap, nil
}

// broadcastSuppliers publishes the latest score of every supplier. It is
// best-effort: a read failure is logged and nothing is sent.
func (c *Coordinator) broadcastSuppliers(ctx context.Context, orgID string) {
	suppliers, err := c.store.ListSuppliers(ctx, orgID)
	if err != nil {
		zap.L().Warn("pipeline: suppliers snapshot unavailable", zap.String("organization_id", orgID), zap.Error(err))
		return
	}
	c.pub.Publish(ctx, notify.NewSuppliersSnapshot(orgID, suppliers))
}

func snapshotFromAssessment(a scorer.Assessment, orgID, supplierID, runID string, risks []model.RiskRecord) *model.SupplierScoreSnapshot {
	ids := make([]string, len(risks))
	for i, r := range risks {
		ids[i] = r.ID
	}
	return &model.SupplierScoreSnapshot{
		WorkflowRunID:  runID,
		OrganizationID: orgID,
		SupplierID:     supplierID,
		Score:          a.Score,
		Level:          a.Level,
		Breakdown:      a.Breakdown,
		SeverityCounts: a.SeverityCounts,
		RiskIDs:        ids,
		Source:         a.Source,
		Reasoning:      a.Reasoning,
		CreatedAt:      time.Now().UTC(),
	}
}

func supplierLabel(s model.SupplierScope) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
