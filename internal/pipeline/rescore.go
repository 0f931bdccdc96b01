package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/scorer"
)

// RescoreRun recomputes the algorithmic score of a supplier run from its
// persisted risks. Nothing is written, so rescoring an unchanged run yields
// the same snapshot values every time.
func (a *Aggregator) RescoreRun(ctx context.Context, runID string) (*model.SupplierScoreSnapshot, error) {
	rs, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: rescore run %s", runID)
	}
	risks, err := a.store.ListRisksByRun(ctx, runID, model.RiskStatusDetected)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load risks for run %s", runID)
	}

	score, breakdown, counts := a.engine.ScoreRiskSet(risks)
	snap := snapshotFromAssessment(scorer.Assessment{
		Score:          score,
		Level:          scorer.ScoreToLevel(score),
		Breakdown:      breakdown,
		SeverityCounts: counts,
		Source:         model.ScoreSourceAlgorithmic,
	}, rs.Run.OrganizationID, rs.Run.SupplierID, runID, risks)
	snap.CreatedAt = a.now()
	return snap, nil
}
