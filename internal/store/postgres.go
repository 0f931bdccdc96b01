package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/supplyrisk/internal/db"
	"github.com/sells-group/supplyrisk/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlInsertRun = `INSERT INTO workflow_runs (id, organization_id, supplier_id, run_date, run_index, created_at)
VALUES ($1, $2, $3, $4::date, $5, $6)`
	sqlInsertRunStatus = `INSERT INTO run_statuses (id, workflow_run_id, organization_id, state, current_task, last_updated)
VALUES ($1, $2, $3, $4, $5, $6)`
	sqlUpdateRunStatus = `UPDATE run_statuses SET state = $1, current_task = $2, risks_detected = $3,
	opportunities_identified = $4, plans_generated = $5, error = $6, last_updated = $7 WHERE id = $8`
	sqlHasActiveRun = `SELECT EXISTS (SELECT 1 FROM run_statuses WHERE organization_id = $1 AND state = ANY($2))`
	sqlMaxRunIndex  = `SELECT COALESCE(MAX(run_index), 0) FROM workflow_runs WHERE organization_id = $1 AND run_date = $2::date`
	sqlRunSelect    = `SELECT r.id, r.organization_id, r.supplier_id, r.run_date::text, r.run_index, r.created_at,
	s.id, s.state, s.current_task, s.risks_detected, s.opportunities_identified, s.plans_generated, s.error, s.last_updated
FROM workflow_runs r JOIN run_statuses s ON s.workflow_run_id = r.id`
	sqlUpsertSupplierScore = `INSERT INTO suppliers (organization_id, supplier_id, name, latest_score, latest_level,
	latest_run_id, scored_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (organization_id, supplier_id) DO UPDATE SET
	latest_score = EXCLUDED.latest_score, latest_level = EXCLUDED.latest_level,
	latest_run_id = EXCLUDED.latest_run_id, scored_at = EXCLUDED.scored_at, updated_at = EXCLUDED.updated_at,
	name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE suppliers.name END`
)

// preparedStatements lists queries to prepare on each new connection. Every
// supplier run issues these several times.
var preparedStatements = map[string]string{
	"update_run_status":     sqlUpdateRunStatus,
	"has_active_run":        sqlHasActiveRun,
	"upsert_supplier_score": sqlUpsertSupplierScore,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id TEXT NOT NULL,
	supplier_id     TEXT NOT NULL DEFAULT '',
	run_date        DATE NOT NULL,
	run_index       INTEGER NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (organization_id, run_date, run_index)
);

CREATE TABLE IF NOT EXISTS run_statuses (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workflow_run_id          TEXT NOT NULL UNIQUE REFERENCES workflow_runs(id),
	organization_id          TEXT NOT NULL,
	state                    TEXT NOT NULL DEFAULT 'idle',
	current_task             TEXT NOT NULL DEFAULT '',
	risks_detected           INTEGER NOT NULL DEFAULT 0,
	opportunities_identified INTEGER NOT NULL DEFAULT 0,
	plans_generated          INTEGER NOT NULL DEFAULT 0,
	error                    TEXT NOT NULL DEFAULT '',
	last_updated             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_run_statuses_org_state ON run_statuses(organization_id, state);

CREATE TABLE IF NOT EXISTS risks (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id    TEXT NOT NULL,
	supplier_id        TEXT NOT NULL DEFAULT '',
	workflow_run_id    TEXT NOT NULL REFERENCES workflow_runs(id),
	title              TEXT NOT NULL,
	description        TEXT NOT NULL,
	severity           TEXT NOT NULL,
	source_type        TEXT NOT NULL,
	source_data        JSONB,
	affected_region    TEXT NOT NULL DEFAULT '',
	affected_suppliers JSONB NOT NULL DEFAULT '[]',
	estimated_cost     DOUBLE PRECISION,
	status             TEXT NOT NULL DEFAULT 'detected',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_risks_run_status ON risks(workflow_run_id, status);

CREATE TABLE IF NOT EXISTS opportunities (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id    TEXT NOT NULL,
	supplier_id        TEXT NOT NULL DEFAULT '',
	workflow_run_id    TEXT NOT NULL REFERENCES workflow_runs(id),
	title              TEXT NOT NULL,
	description        TEXT NOT NULL,
	type               TEXT NOT NULL,
	source_type        TEXT NOT NULL,
	source_data        JSONB,
	affected_region    TEXT NOT NULL DEFAULT '',
	affected_suppliers JSONB NOT NULL DEFAULT '[]',
	estimated_value    DOUBLE PRECISION,
	status             TEXT NOT NULL DEFAULT 'detected',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_opportunities_run ON opportunities(workflow_run_id);

CREATE TABLE IF NOT EXISTS supplier_scores (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id),
	organization_id TEXT NOT NULL,
	supplier_id     TEXT NOT NULL,
	score           DOUBLE PRECISION NOT NULL,
	level           TEXT NOT NULL,
	breakdown       JSONB NOT NULL,
	severity_counts JSONB NOT NULL,
	risk_ids        JSONB NOT NULL,
	source          TEXT NOT NULL,
	reasoning       TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_supplier_scores_supplier ON supplier_scores(organization_id, supplier_id, created_at DESC);

CREATE TABLE IF NOT EXISTS organization_scores (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id TEXT NOT NULL,
	score           DOUBLE PRECISION NOT NULL,
	level           TEXT NOT NULL,
	breakdown       JSONB NOT NULL,
	severity_counts JSONB NOT NULL,
	supplier_scores JSONB NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_organization_scores_org ON organization_scores(organization_id, created_at DESC);

CREATE TABLE IF NOT EXISTS suppliers (
	organization_id TEXT NOT NULL,
	supplier_id     TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	region          TEXT NOT NULL DEFAULT '',
	country         TEXT NOT NULL DEFAULT '',
	latest_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	latest_level    TEXT NOT NULL DEFAULT '',
	latest_run_id   TEXT NOT NULL DEFAULT '',
	scored_at       TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (organization_id, supplier_id)
);

CREATE TABLE IF NOT EXISTS mitigation_plans (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id TEXT NOT NULL,
	supplier_id     TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL,
	risk_ids        JSONB NOT NULL DEFAULT '[]',
	opportunity_id  TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL,
	summary         TEXT NOT NULL,
	actions         JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_mitigation_plans_org ON mitigation_plans(organization_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRuns(ctx context.Context, orgID string, runDate time.Time, supplierIDs []string) ([]model.RunWithStatus, error) {
	if len(supplierIDs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create runs")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	day := model.DateKey(runDate)
	// Serializes the open-run check and run numbering per organization.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "runs/"+orgID); err != nil {
		return nil, eris.Wrap(err, "postgres: lock organization runs")
	}

	var open bool
	if err := tx.QueryRow(ctx, sqlHasActiveRun, orgID, openStates()).Scan(&open); err != nil {
		return nil, eris.Wrap(err, "postgres: check open runs")
	}
	if open {
		return nil, eris.Wrapf(ErrOpenRuns, "postgres: create runs for %s", orgID)
	}

	var existing int
	if err := tx.QueryRow(ctx, sqlMaxRunIndex, orgID, day).Scan(&existing); err != nil {
		return nil, eris.Wrap(err, "postgres: count runs for day")
	}

	runs := newRuns(orgID, runDate, supplierIDs, existing, time.Now().UTC())
	for _, rs := range runs {
		r, st := rs.Run, rs.Status
		if _, err := tx.Exec(ctx, sqlInsertRun,
			r.ID, r.OrganizationID, r.SupplierID, r.RunDateKey(), r.RunIndex, r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: insert run")
		}
		if _, err := tx.Exec(ctx, sqlInsertRunStatus,
			st.ID, st.WorkflowRunID, st.OrganizationID, string(st.State), st.CurrentTask, st.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: insert run status")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create runs")
	}
	return runs, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RunWithStatus, error) {
	rs, err := scanRunWithStatus(s.pool.QueryRow(ctx, sqlRunSelect+` WHERE r.id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return &rs, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunWithStatus, error) {
	query := sqlRunSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.OrganizationID != "" {
		query += fmt.Sprintf(` AND r.organization_id = $%d`, argIdx)
		args = append(args, filter.OrganizationID)
		argIdx++
	}
	if filter.SupplierID != "" {
		query += fmt.Sprintf(` AND r.supplier_id = $%d`, argIdx)
		args = append(args, filter.SupplierID)
		argIdx++
	}
	query += ` ORDER BY r.run_date DESC, r.run_index DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit, 100))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunWithStatus
	for rows.Next() {
		rs, err := scanRunWithStatus(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, rs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, st *model.RunStatus) error {
	tag, err := s.pool.Exec(ctx, sqlUpdateRunStatus,
		string(st.State), st.CurrentTask, st.Counters.RisksDetected, st.Counters.OpportunitiesIdentified,
		st.Counters.PlansGenerated, st.Error, st.LastUpdated.UTC(), st.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", st.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run status %s", st.ID)
	}
	return nil
}

func (s *PostgresStore) HasActiveRun(ctx context.Context, orgID string) (bool, error) {
	var active bool
	if err := s.pool.QueryRow(ctx, sqlHasActiveRun, orgID, openStates()).Scan(&active); err != nil {
		return false, eris.Wrap(err, "postgres: check active runs")
	}
	return active, nil
}

func openStates() []string {
	states := make([]string, len(model.OpenRunStates))
	for i, st := range model.OpenRunStates {
		states[i] = string(st)
	}
	return states
}

func (s *PostgresStore) InsertRisks(ctx context.Context, risks []model.RiskRecord) error {
	if len(risks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, len(risks))
	for i := range risks {
		prepareRisk(&risks[i], now.Add(time.Duration(i)*time.Microsecond))
		args, err := riskArgs(&risks[i])
		if err != nil {
			return err
		}
		rows[i] = args
	}
	if _, err := db.CopyFrom(ctx, s.pool, "risks", riskColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: insert risks")
	}
	return nil
}

func (s *PostgresStore) InsertOpportunities(ctx context.Context, opps []model.OpportunityRecord) error {
	if len(opps) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, len(opps))
	for i := range opps {
		prepareOpportunity(&opps[i], now.Add(time.Duration(i)*time.Microsecond))
		args, err := opportunityArgs(&opps[i])
		if err != nil {
			return err
		}
		rows[i] = args
	}
	if _, err := db.CopyFrom(ctx, s.pool, "opportunities", opportunityColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: insert opportunities")
	}
	return nil
}

func (s *PostgresStore) ListRisksByRun(ctx context.Context, runID, status string) ([]model.RiskRecord, error) {
	query := `SELECT ` + strings.Join(riskColumns, ", ") + ` FROM risks WHERE workflow_run_id = $1`
	args := []any{runID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list risks")
	}
	defer rows.Close()

	var out []model.RiskRecord
	for rows.Next() {
		r, err := scanRisk(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan risk")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list risks iterate")
}

func (s *PostgresStore) ListOpportunitiesByRun(ctx context.Context, runID string) ([]model.OpportunityRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(opportunityColumns, ", ")+` FROM opportunities WHERE workflow_run_id = $1 ORDER BY created_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list opportunities")
	}
	defer rows.Close()

	var out []model.OpportunityRecord
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list opportunities iterate")
}

func (s *PostgresStore) InsertSupplierScore(ctx context.Context, snap *model.SupplierScoreSnapshot) error {
	if snap.ID == "" {
		snap.ID = newID()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	breakdown, counts, riskIDs, err := supplierScoreJSON(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO supplier_scores (id, workflow_run_id, organization_id, supplier_id, score, level, breakdown,
			severity_counts, risk_ids, source, reasoning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		snap.ID, snap.WorkflowRunID, snap.OrganizationID, snap.SupplierID, snap.Score, string(snap.Level),
		breakdown, counts, riskIDs, string(snap.Source), snap.Reasoning, snap.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert supplier score")
}

func (s *PostgresStore) ListSupplierScores(ctx context.Context, orgID, supplierID string, limit int) ([]model.SupplierScoreSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workflow_run_id, organization_id, supplier_id, score, level, breakdown, severity_counts,
			risk_ids, source, reasoning, created_at
		FROM supplier_scores WHERE organization_id = $1 AND supplier_id = $2 ORDER BY created_at DESC, id LIMIT $3`,
		orgID, supplierID, listLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list supplier scores")
	}
	defer rows.Close()

	var out []model.SupplierScoreSnapshot
	for rows.Next() {
		snap, err := scanSupplierScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan supplier score")
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list supplier scores iterate")
}

func (s *PostgresStore) InsertOrganizationScore(ctx context.Context, snap *model.OrganizationScoreSnapshot) error {
	if snap.ID == "" {
		snap.ID = newID()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	breakdown, err := marshalJSON(nonNilMap(snap.Breakdown))
	if err != nil {
		return err
	}
	counts, err := marshalJSON(nonNilMap(snap.SeverityCounts))
	if err != nil {
		return err
	}
	suppliers, err := marshalJSON(nonNilMap(snap.SupplierScores))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO organization_scores (id, organization_id, score, level, breakdown, severity_counts,
			supplier_scores, summary, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		snap.ID, snap.OrganizationID, snap.Score, string(snap.Level), breakdown, counts, suppliers,
		snap.Summary, snap.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert organization score")
}

func (s *PostgresStore) LatestOrganizationScore(ctx context.Context, orgID string) (*model.OrganizationScoreSnapshot, error) {
	snap, err := scanOrganizationScore(s.pool.QueryRow(ctx,
		`SELECT id, organization_id, score, level, breakdown, severity_counts, supplier_scores, summary, created_at
		FROM organization_scores WHERE organization_id = $1 ORDER BY created_at DESC LIMIT 1`,
		orgID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: organization score %s", orgID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest organization score")
	}
	return snap, nil
}

// supplierUpsert refreshes descriptive columns only; the latest_* columns
// belong to UpdateSupplierScore.
var supplierUpsert = db.UpsertConfig{
	Table:        "suppliers",
	Columns:      []string{"organization_id", "supplier_id", "name", "city", "region", "country", "updated_at"},
	ConflictKeys: []string{"organization_id", "supplier_id"},
}

func (s *PostgresStore) SyncSuppliers(ctx context.Context, orgID string, suppliers []model.SupplierScope) error {
	if len(suppliers) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, len(suppliers))
	for i, sup := range suppliers {
		rows[i] = []any{orgID, sup.ID, sup.Name, sup.City, sup.Region, sup.Country, now}
	}
	if _, err := db.BulkUpsert(ctx, s.pool, supplierUpsert, rows); err != nil {
		return eris.Wrap(err, "postgres: sync suppliers")
	}
	return nil
}

func (s *PostgresStore) UpdateSupplierScore(ctx context.Context, st model.SupplierScoreState) error {
	_, err := s.pool.Exec(ctx, sqlUpsertSupplierScore,
		st.OrganizationID, st.SupplierID, st.Name, st.LatestScore, string(st.LatestLevel), st.LatestRunID,
		st.ScoredAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: update supplier score %s", st.SupplierID)
}

func (s *PostgresStore) ListSuppliers(ctx context.Context, orgID string) ([]model.SupplierScoreState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT organization_id, supplier_id, name, latest_score, latest_level, latest_run_id, scored_at
		FROM suppliers WHERE organization_id = $1 ORDER BY latest_score DESC, supplier_id`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list suppliers")
	}
	defer rows.Close()

	var out []model.SupplierScoreState
	for rows.Next() {
		var st model.SupplierScoreState
		var scoredAt *time.Time
		if err := rows.Scan(&st.OrganizationID, &st.SupplierID, &st.Name, &st.LatestScore, &st.LatestLevel,
			&st.LatestRunID, &scoredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan supplier")
		}
		if scoredAt != nil {
			st.ScoredAt = *scoredAt
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list suppliers iterate")
}

func (s *PostgresStore) InsertPlan(ctx context.Context, p *model.MitigationPlan) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	riskIDs, err := marshalJSON(nonNil(p.RiskIDs))
	if err != nil {
		return err
	}
	actions, err := marshalJSON(nonNil(p.Actions))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO mitigation_plans (id, organization_id, supplier_id, kind, risk_ids, opportunity_id, title,
			summary, actions, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.OrganizationID, p.SupplierID, string(p.Kind), riskIDs, p.OpportunityID, p.Title,
		p.Summary, actions, p.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert plan")
}

func (s *PostgresStore) ListPlans(ctx context.Context, orgID string, limit int) ([]model.MitigationPlan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, organization_id, supplier_id, kind, risk_ids, opportunity_id, title, summary, actions, created_at
		FROM mitigation_plans WHERE organization_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
		orgID, listLimit(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list plans")
	}
	defer rows.Close()

	var out []model.MitigationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan plan")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list plans iterate")
}
