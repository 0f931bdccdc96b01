package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sells-group/supplyrisk/internal/analyzer"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/notify"
	"github.com/sells-group/supplyrisk/internal/runstate"
	"github.com/sells-group/supplyrisk/internal/scorer"
	"github.com/sells-group/supplyrisk/internal/store"
	"github.com/sells-group/supplyrisk/internal/tracing"
)

// Deps are the collaborators of an Aggregator. Store, Suite and Scorer are
// required; the rest fall back to no-op or rule-based behavior when nil.
type Deps struct {
	Store     store.Store
	Suite     *analyzer.Suite
	Scorer    *scorer.SupplierScorer
	Narrator  *scorer.Narrator
	Planner   PlanAuthor
	Guard     *runstate.Guard
	Publisher notify.Publisher
}

// Aggregator runs organization cycles: suppliers one at a time, then the
// organization score, the mitigation pass and the final completion.
type Aggregator struct {
	store    store.Store
	coord    *Coordinator
	engine   *scorer.Engine
	narrator *scorer.Narrator
	planner  PlanAuthor
	guard    *runstate.Guard
	tracker  *runstate.Tracker
	pub      notify.Publisher
	now      func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(d Deps) *Aggregator {
	pub := d.Publisher
	if pub == nil {
		pub = notify.Nop{}
	}
	guard := d.Guard
	if guard == nil {
		guard = runstate.NewGuard(d.Store, nil)
	}
	return &Aggregator{
		store:    d.Store,
		coord:    NewCoordinator(d.Store, d.Suite, d.Scorer, pub),
		engine:   d.Scorer.Engine(),
		narrator: d.Narrator,
		planner:  d.Planner,
		guard:    guard,
		tracker:  runstate.NewTracker(d.Store, pub),
		pub:      pub,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OrganizationResult summarizes a finished cycle.
type OrganizationResult struct {
	OrganizationID string
	Runs           []model.RunWithStatus
	Suppliers      []*SupplierResult
	Score          *model.OrganizationScoreSnapshot
	Plans          []model.MitigationPlan
	Failed         int
}

// Cycle is a prepared organization run: the guard is held and every
// supplier run exists in Idle. Execute must be called exactly once.
type Cycle struct {
	agg     *Aggregator
	org     model.OrganizationScope
	Runs    []model.RunWithStatus
	release func()
}

// RunOrganization prepares and executes a cycle synchronously.
func (a *Aggregator) RunOrganization(ctx context.Context, org model.OrganizationScope) (*OrganizationResult, error) {
	cycle, err := a.Prepare(ctx, org)
	if err != nil {
		return nil, err
	}
	return cycle.Execute(ctx)
}

// Prepare claims the organization and pre-creates one run per supplier. It
// fails with runstate.ErrRunInProgress when another cycle is active.
func (a *Aggregator) Prepare(ctx context.Context, org model.OrganizationScope) (*Cycle, error) {
	if err := validateScope(org); err != nil {
		return nil, err
	}

	release, err := a.guard.Acquire(ctx, org.ID)
	if err != nil {
		return nil, err
	}

	if err := a.store.SyncSuppliers(ctx, org.ID, org.Suppliers); err != nil {
		release()
		return nil, eris.Wrap(err, "pipeline: sync suppliers")
	}

	ids := make([]string, len(org.Suppliers))
	for i, s := range org.Suppliers {
		ids[i] = s.ID
	}
	runs, err := a.store.CreateRuns(ctx, org.ID, a.now(), ids)
	if errors.Is(err, store.ErrOpenRuns) {
		// Another process prepared a cycle after the guard's check.
		release()
		return nil, eris.Wrapf(runstate.ErrRunInProgress, "organization %s", org.ID)
	}
	if err != nil {
		release()
		return nil, eris.Wrap(err, "pipeline: create runs")
	}

	zap.L().Info("pipeline: organization cycle prepared",
		zap.String("organization_id", org.ID),
		zap.Int("suppliers", len(runs)),
	)
	return &Cycle{agg: a, org: org, Runs: runs, release: release}, nil
}

// Execute processes the prepared suppliers sequentially and aggregates. A
// supplier failure marks only that run Error; a failure to persist state
// aborts the cycle and marks every unfinished run Error.
func (c *Cycle) Execute(ctx context.Context) (*OrganizationResult, error) {
	defer c.release()

	ctx, span := tracing.Start(ctx, "organization.run",
		attribute.String("organization_id", c.org.ID),
		attribute.Int("suppliers", len(c.Runs)),
	)
	res, err := c.execute(ctx)
	tracing.End(span, err)
	return res, err
}

func (c *Cycle) execute(ctx context.Context) (*OrganizationResult, error) {
	a := c.agg
	log := zap.L().With(zap.String("organization_id", c.org.ID))
	start := time.Now()

	out := &OrganizationResult{OrganizationID: c.org.ID, Runs: c.Runs}
	org := c.org

	for i, rs := range c.Runs {
		scope := org.Suppliers[i]
		scope.OrganizationID = org.ID
		scope.Organization = &org

		sr, err := a.runSupplier(ctx, scope, rs.Status)
		if err == nil {
			out.Suppliers = append(out.Suppliers, sr)
			continue
		}

		out.Failed++
		log.Error("pipeline: supplier run failed",
			zap.String("supplier_id", scope.ID),
			zap.String("run_id", rs.Run.ID),
			zap.Error(err),
		)
		if ferr := a.tracker.Fail(ctx, rs.Status, scope.ID, err); ferr != nil {
			return nil, c.abort(ctx, eris.Wrapf(ferr, "pipeline: record failure of supplier %s", scope.ID))
		}
	}

	score, err := a.aggregate(ctx, org, out.Suppliers)
	if err != nil {
		return nil, c.abort(ctx, err)
	}
	out.Score = score

	plans, err := c.plan(ctx, out.Suppliers)
	if err != nil {
		return nil, c.abort(ctx, err)
	}
	out.Plans = plans

	if err := c.complete(ctx); err != nil {
		return nil, c.abort(ctx, err)
	}
	a.coord.broadcastSuppliers(ctx, org.ID)

	log.Info("pipeline: organization cycle complete",
		zap.Float64("score", score.Score),
		zap.String("level", string(score.Level)),
		zap.Int("suppliers", len(out.Suppliers)),
		zap.Int("failed", out.Failed),
		zap.Int("plans", len(plans)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// runSupplier converts a coordinator panic into an error so one supplier
// cannot take down the cycle.
func (a *Aggregator) runSupplier(ctx context.Context, scope model.SupplierScope, st *model.RunStatus) (res *SupplierResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = eris.Errorf("pipeline: supplier %s panicked: %v", scope.ID, r)
		}
	}()
	return a.coord.RunSupplier(ctx, scope, st)
}

// aggregate blends supplier scores and persists the organization snapshot.
func (a *Aggregator) aggregate(ctx context.Context, org model.OrganizationScope, results []*SupplierResult) (*model.OrganizationScoreSnapshot, error) {
	scores := make([]float64, 0, len(results))
	snaps := make([]model.SupplierScoreSnapshot, 0, len(results))
	bySupplier := make(map[string]float64, len(results))
	digest := scorer.OrganizationDigest{Name: orgLabel(org)}
	for _, r := range results {
		scores = append(scores, r.Snapshot.Score)
		snaps = append(snaps, *r.Snapshot)
		bySupplier[r.Scope.ID] = r.Snapshot.Score
		digest.Suppliers = append(digest.Suppliers, scorer.SupplierLine{
			Name:      supplierLabel(r.Scope),
			Score:     r.Snapshot.Score,
			Level:     r.Snapshot.Level,
			RiskCount: len(r.Risks),
		})
		digest.Opportunities += len(r.Opportunities)
	}

	score := scorer.AggregateOrganizationScore(scores)
	breakdown, counts := scorer.MergeBreakdowns(snaps)
	digest.Score = score
	digest.Level = scorer.ScoreToLevel(score)
	digest.Breakdown = breakdown
	digest.SeverityCounts = counts

	snap := &model.OrganizationScoreSnapshot{
		OrganizationID: org.ID,
		Score:          score,
		Level:          digest.Level,
		Breakdown:      breakdown,
		SeverityCounts: counts,
		SupplierScores: bySupplier,
		Summary:        a.narrator.Summarize(ctx, digest),
		CreatedAt:      a.now(),
	}
	if err := a.store.InsertOrganizationScore(ctx, snap); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist organization score")
	}
	a.pub.Publish(ctx, notify.NewOrganizationRiskScore(snap))
	return snap, nil
}

// plan runs the mitigation pass. Drafting failures skip that plan; an
// unavailable author skips the whole pass. Persistence failures are fatal.
func (c *Cycle) plan(ctx context.Context, results []*SupplierResult) ([]model.MitigationPlan, error) {
	a := c.agg
	if a.planner == nil {
		return nil, nil
	}
	statuses := c.statusesByRun()

	var plans []model.MitigationPlan
	for _, t := range planTargets(orgLabel(c.org), results) {
		plan, err := a.planner.Draft(ctx, t)
		if errors.Is(err, ErrPlannerUnavailable) {
			zap.L().Debug("pipeline: plan author unavailable, skipping mitigation pass", zap.String("organization_id", c.org.ID))
			return plans, nil
		}
		if err != nil {
			zap.L().Warn("pipeline: plan draft failed, skipping",
				zap.String("organization_id", c.org.ID),
				zap.String("kind", string(t.Kind)),
				zap.String("supplier_id", t.SupplierID),
				zap.Error(err),
			)
			continue
		}

		plan.OrganizationID = c.org.ID
		if err := a.store.InsertPlan(ctx, plan); err != nil {
			return nil, eris.Wrap(err, "pipeline: persist plan")
		}
		plans = append(plans, *plan)

		st := statuses[t.RunID]
		if st == nil || st.State.IsTerminal() {
			continue
		}
		counters := st.Counters
		counters.PlansGenerated++
		if err := a.tracker.Progress(ctx, st, t.SupplierID, "Generated plan: "+plan.Title, counters); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// complete marks every processed run Completed. Runs already in Error keep
// their state and message.
func (c *Cycle) complete(ctx context.Context) error {
	for _, rs := range c.Runs {
		st := rs.Status
		switch {
		case st.State.IsTerminal():
			continue
		case st.State == model.RunStateProcessing:
			task := fmt.Sprintf("Completed: %d risks, %d opportunities, %d plans",
				st.Counters.RisksDetected, st.Counters.OpportunitiesIdentified, st.Counters.PlansGenerated)
			if err := c.agg.tracker.Transition(ctx, st, rs.Run.SupplierID, model.RunStateCompleted, task); err != nil {
				return err
			}
		default:
			if err := c.agg.tracker.Fail(ctx, st, rs.Run.SupplierID, eris.Errorf("pipeline: run left in %s", st.State)); err != nil {
				return err
			}
		}
	}
	return nil
}

// abort marks every unfinished run Error with cause and returns cause. It
// keeps going past individual failures since the store is likely degraded.
func (c *Cycle) abort(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	zap.L().Error("pipeline: organization cycle aborted", zap.String("organization_id", c.org.ID), zap.Error(cause))
	for _, rs := range c.Runs {
		if rs.Status.State.IsTerminal() {
			continue
		}
		if err := c.agg.tracker.Fail(ctx, rs.Status, rs.Run.SupplierID, cause); err != nil {
			zap.L().Warn("pipeline: could not mark run failed",
				zap.String("run_id", rs.Run.ID),
				zap.Error(err),
			)
		}
	}
	return cause
}

func (c *Cycle) statusesByRun() map[string]*model.RunStatus {
	out := make(map[string]*model.RunStatus, len(c.Runs))
	for _, rs := range c.Runs {
		out[rs.Run.ID] = rs.Status
	}
	return out
}

// ErrInvalidScope is returned by Prepare for a scope that cannot be run.
var ErrInvalidScope = eris.New("pipeline: invalid organization scope")

func validateScope(org model.OrganizationScope) error {
	if org.ID == "" {
		return eris.Wrap(ErrInvalidScope, "organization id is required")
	}
	if len(org.Suppliers) == 0 {
		return eris.Wrapf(ErrInvalidScope, "organization %s has no suppliers", org.ID)
	}
	seen := make(map[string]bool, len(org.Suppliers))
	for i, s := range org.Suppliers {
		if s.ID == "" {
			return eris.Wrapf(ErrInvalidScope, "supplier %d has no id", i)
		}
		if seen[s.ID] {
			return eris.Wrapf(ErrInvalidScope, "duplicate supplier id %s", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func orgLabel(org model.OrganizationScope) string {
	if org.Name != "" {
		return org.Name
	}
	return org.ID
}
