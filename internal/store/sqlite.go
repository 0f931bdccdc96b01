package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/supplyrisk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps run numbering and status updates serialized.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	supplier_id     TEXT NOT NULL DEFAULT '',
	run_date        TEXT NOT NULL,
	run_index       INTEGER NOT NULL,
	created_at      DATETIME NOT NULL,
	UNIQUE (organization_id, run_date, run_index)
);

CREATE TABLE IF NOT EXISTS run_statuses (
	id                       TEXT PRIMARY KEY,
	workflow_run_id          TEXT NOT NULL UNIQUE REFERENCES workflow_runs(id),
	organization_id          TEXT NOT NULL,
	state                    TEXT NOT NULL,
	current_task             TEXT NOT NULL DEFAULT '',
	risks_detected           INTEGER NOT NULL DEFAULT 0,
	opportunities_identified INTEGER NOT NULL DEFAULT 0,
	plans_generated          INTEGER NOT NULL DEFAULT 0,
	error                    TEXT NOT NULL DEFAULT '',
	last_updated             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_statuses_org_state ON run_statuses(organization_id, state);

CREATE TABLE IF NOT EXISTS risks (
	id                 TEXT PRIMARY KEY,
	organization_id    TEXT NOT NULL,
	supplier_id        TEXT NOT NULL DEFAULT '',
	workflow_run_id    TEXT NOT NULL REFERENCES workflow_runs(id),
	title              TEXT NOT NULL,
	description        TEXT NOT NULL,
	severity           TEXT NOT NULL,
	source_type        TEXT NOT NULL,
	source_data        TEXT,
	affected_region    TEXT NOT NULL DEFAULT '',
	affected_suppliers TEXT NOT NULL DEFAULT '[]',
	estimated_cost     REAL,
	status             TEXT NOT NULL,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risks_run_status ON risks(workflow_run_id, status);

CREATE TABLE IF NOT EXISTS opportunities (
	id                 TEXT PRIMARY KEY,
	organization_id    TEXT NOT NULL,
	supplier_id        TEXT NOT NULL DEFAULT '',
	workflow_run_id    TEXT NOT NULL REFERENCES workflow_runs(id),
	title              TEXT NOT NULL,
	description        TEXT NOT NULL,
	type               TEXT NOT NULL,
	source_type        TEXT NOT NULL,
	source_data        TEXT,
	affected_region    TEXT NOT NULL DEFAULT '',
	affected_suppliers TEXT NOT NULL DEFAULT '[]',
	estimated_value    REAL,
	status             TEXT NOT NULL,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_opportunities_run ON opportunities(workflow_run_id);

CREATE TABLE IF NOT EXISTS supplier_scores (
	id              TEXT PRIMARY KEY,
	workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id),
	organization_id TEXT NOT NULL,
	supplier_id     TEXT NOT NULL,
	score           REAL NOT NULL,
	level           TEXT NOT NULL,
	breakdown       TEXT NOT NULL,
	severity_counts TEXT NOT NULL,
	risk_ids        TEXT NOT NULL,
	source          TEXT NOT NULL,
	reasoning       TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_supplier_scores_supplier ON supplier_scores(organization_id, supplier_id, created_at);

CREATE TABLE IF NOT EXISTS organization_scores (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	score           REAL NOT NULL,
	level           TEXT NOT NULL,
	breakdown       TEXT NOT NULL,
	severity_counts TEXT NOT NULL,
	supplier_scores TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_organization_scores_org ON organization_scores(organization_id, created_at);

CREATE TABLE IF NOT EXISTS suppliers (
	organization_id TEXT NOT NULL,
	supplier_id     TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	region          TEXT NOT NULL DEFAULT '',
	country         TEXT NOT NULL DEFAULT '',
	latest_score    REAL NOT NULL DEFAULT 0,
	latest_level    TEXT NOT NULL DEFAULT '',
	latest_run_id   TEXT NOT NULL DEFAULT '',
	scored_at       DATETIME,
	updated_at      DATETIME NOT NULL,
	PRIMARY KEY (organization_id, supplier_id)
);

CREATE TABLE IF NOT EXISTS mitigation_plans (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	supplier_id     TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL,
	risk_ids        TEXT NOT NULL DEFAULT '[]',
	opportunity_id  TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL,
	summary         TEXT NOT NULL,
	actions         TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mitigation_plans_org ON mitigation_plans(organization_id, created_at);
`

const sqliteRunSelect = `SELECT r.id, r.organization_id, r.supplier_id, r.run_date, r.run_index, r.created_at,
	s.id, s.state, s.current_task, s.risks_detected, s.opportunities_identified, s.plans_generated, s.error, s.last_updated
FROM workflow_runs r JOIN run_statuses s ON s.workflow_run_id = r.id`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRuns(ctx context.Context, orgID string, runDate time.Time, supplierIDs []string) ([]model.RunWithStatus, error) {
	if len(supplierIDs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create runs")
	}
	defer tx.Rollback() //nolint:errcheck

	// The store holds a single connection, so the open-run check and the
	// inserts below cannot interleave with another CreateRuns in this
	// process. Another process writing the same file fails the commit with
	// SQLITE_BUSY instead.
	open, err := hasOpenRun(ctx, tx, orgID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, eris.Wrapf(ErrOpenRuns, "sqlite: create runs for %s", orgID)
	}

	// MAX rather than COUNT so indexes stay unique if rows are ever pruned.
	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(run_index), 0) FROM workflow_runs WHERE organization_id = ? AND run_date = ?`,
		orgID, model.DateKey(runDate),
	).Scan(&existing); err != nil {
		return nil, eris.Wrap(err, "sqlite: count runs for day")
	}

	runs := newRuns(orgID, runDate, supplierIDs, existing, time.Now().UTC())
	for _, rs := range runs {
		r, st := rs.Run, rs.Status
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_runs (id, organization_id, supplier_id, run_date, run_index, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.OrganizationID, r.SupplierID, r.RunDateKey(), r.RunIndex, r.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: insert run")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_statuses (id, workflow_run_id, organization_id, state, current_task, last_updated) VALUES (?, ?, ?, ?, ?, ?)`,
			st.ID, st.WorkflowRunID, st.OrganizationID, string(st.State), st.CurrentTask, st.LastUpdated,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: insert run status")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create runs")
	}
	return runs, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunWithStatus, error) {
	rs, err := scanRunWithStatus(s.db.QueryRowContext(ctx, sqliteRunSelect+` WHERE r.id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return &rs, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunWithStatus, error) {
	var where []string
	var args []any
	if filter.OrganizationID != "" {
		where = append(where, "r.organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.SupplierID != "" {
		where = append(where, "r.supplier_id = ?")
		args = append(args, filter.SupplierID)
	}

	query := sqliteRunSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.run_date DESC, r.run_index DESC LIMIT ? OFFSET ?"
	args = append(args, listLimit(filter.Limit, 100), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RunWithStatus
	for rows.Next() {
		rs, err := scanRunWithStatus(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, rs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, st *model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_statuses SET state = ?, current_task = ?, risks_detected = ?, opportunities_identified = ?,
			plans_generated = ?, error = ?, last_updated = ? WHERE id = ?`,
		string(st.State), st.CurrentTask, st.Counters.RisksDetected, st.Counters.OpportunitiesIdentified,
		st.Counters.PlansGenerated, st.Error, st.LastUpdated.UTC(), st.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", st.ID)
	}
	return checkRowsAffected(res, "run status", st.ID)
}

func (s *SQLiteStore) HasActiveRun(ctx context.Context, orgID string) (bool, error) {
	return hasOpenRun(ctx, s.db, orgID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func hasOpenRun(ctx context.Context, q rowQuerier, orgID string) (bool, error) {
	args := []any{orgID}
	marks := make([]string, len(model.OpenRunStates))
	for i, st := range model.OpenRunStates {
		marks[i] = "?"
		args = append(args, string(st))
	}
	var open bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM run_statuses WHERE organization_id = ? AND state IN (`+strings.Join(marks, ", ")+`))`,
		args...,
	).Scan(&open)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: check open runs")
	}
	return open, nil
}

func (s *SQLiteStore) InsertRisks(ctx context.Context, risks []model.RiskRecord) error {
	now := time.Now().UTC()
	return s.insertMany(ctx, "risks", riskColumns, len(risks), func(i int) ([]any, error) {
		prepareRisk(&risks[i], now.Add(time.Duration(i)*time.Microsecond))
		return riskArgs(&risks[i])
	})
}

func (s *SQLiteStore) InsertOpportunities(ctx context.Context, opps []model.OpportunityRecord) error {
	now := time.Now().UTC()
	return s.insertMany(ctx, "opportunities", opportunityColumns, len(opps), func(i int) ([]any, error) {
		prepareOpportunity(&opps[i], now.Add(time.Duration(i)*time.Microsecond))
		return opportunityArgs(&opps[i])
	})
}

// insertMany inserts n rows in one transaction with a single prepared statement.
func (s *SQLiteStore) insertMany(ctx context.Context, table string, cols []string, n int, args func(i int) ([]any, error)) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin insert %s", table)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+` (`+strings.Join(cols, ", ")+`) VALUES (`+placeholders+`)`)
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	for i := 0; i < n; i++ {
		a, err := args(i)
		if err != nil {
			return err
		}
		for j, v := range a {
			if b, ok := v.([]byte); ok {
				a[j] = string(b)
			}
		}
		if _, err := stmt.ExecContext(ctx, a...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s", table)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit insert %s", table)
}

func (s *SQLiteStore) ListRisksByRun(ctx context.Context, runID, status string) ([]model.RiskRecord, error) {
	query := `SELECT ` + strings.Join(riskColumns, ", ") + ` FROM risks WHERE workflow_run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list risks")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RiskRecord
	for rows.Next() {
		r, err := scanRisk(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan risk")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list risks iterate")
}

func (s *SQLiteStore) ListOpportunitiesByRun(ctx context.Context, runID string) ([]model.OpportunityRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(opportunityColumns, ", ")+` FROM opportunities WHERE workflow_run_id = ? ORDER BY created_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list opportunities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.OpportunityRecord
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list opportunities iterate")
}

func (s *SQLiteStore) InsertSupplierScore(ctx context.Context, snap *model.SupplierScoreSnapshot) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO supplier_scores (id, workflow_run_id, organization_id, supplier_id, score, level, breakdown,
			severity_counts, risk_ids, source, reasoning, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.WorkflowRunID, snap.OrganizationID, snap.SupplierID, snap.Score, string(snap.Level),
		string(breakdown), string(counts), string(riskIDs), string(snap.Source), snap.Reasoning, snap.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert supplier score")
}

func (s *SQLiteStore) ListSupplierScores(ctx context.Context, orgID, supplierID string, limit int) ([]model.SupplierScoreSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_run_id, organization_id, supplier_id, score, level, breakdown, severity_counts,
			risk_ids, source, reasoning, created_at
		FROM supplier_scores WHERE organization_id = ? AND supplier_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		orgID, supplierID, listLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list supplier scores")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SupplierScoreSnapshot
	for rows.Next() {
		snap, err := scanSupplierScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan supplier score")
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list supplier scores iterate")
}

func (s *SQLiteStore) InsertOrganizationScore(ctx context.Context, snap *model.OrganizationScoreSnapshot) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO organization_scores (id, organization_id, score, level, breakdown, severity_counts,
			supplier_scores, summary, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.OrganizationID, snap.Score, string(snap.Level), string(breakdown), string(counts),
		string(suppliers), snap.Summary, snap.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert organization score")
}

func (s *SQLiteStore) LatestOrganizationScore(ctx context.Context, orgID string) (*model.OrganizationScoreSnapshot, error) {
	snap, err := scanOrganizationScore(s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, score, level, breakdown, severity_counts, supplier_scores, summary, created_at
		FROM organization_scores WHERE organization_id = ? ORDER BY created_at DESC LIMIT 1`,
		orgID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: organization score %s", orgID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest organization score")
	}
	return snap, nil
}

func (s *SQLiteStore) SyncSuppliers(ctx context.Context, orgID string, suppliers []model.SupplierScope) error {
	if len(suppliers) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin sync suppliers")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, sup := range suppliers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO suppliers (organization_id, supplier_id, name, city, region, country, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (organization_id, supplier_id) DO UPDATE SET
				name = excluded.name, city = excluded.city, region = excluded.region,
				country = excluded.country, updated_at = excluded.updated_at`,
			orgID, sup.ID, sup.Name, sup.City, sup.Region, sup.Country, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert supplier %s", sup.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit sync suppliers")
}

func (s *SQLiteStore) UpdateSupplierScore(ctx context.Context, st model.SupplierScoreState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppliers (organization_id, supplier_id, name, latest_score, latest_level, latest_run_id, scored_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, supplier_id) DO UPDATE SET
			latest_score = excluded.latest_score, latest_level = excluded.latest_level,
			latest_run_id = excluded.latest_run_id, scored_at = excluded.scored_at, updated_at = excluded.updated_at,
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE suppliers.name END`,
		st.OrganizationID, st.SupplierID, st.Name, st.LatestScore, string(st.LatestLevel), st.LatestRunID,
		st.ScoredAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: update supplier score %s", st.SupplierID)
}

func (s *SQLiteStore) ListSuppliers(ctx context.Context, orgID string) ([]model.SupplierScoreState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT organization_id, supplier_id, name, latest_score, latest_level, latest_run_id, scored_at
		FROM suppliers WHERE organization_id = ? ORDER BY latest_score DESC, supplier_id`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list suppliers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SupplierScoreState
	for rows.Next() {
		var st model.SupplierScoreState
		var scoredAt *time.Time
		if err := rows.Scan(&st.OrganizationID, &st.SupplierID, &st.Name, &st.LatestScore, &st.LatestLevel,
			&st.LatestRunID, &scoredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan supplier")
		}
		if scoredAt != nil {
			st.ScoredAt = *scoredAt
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list suppliers iterate")
}

func (s *SQLiteStore) InsertPlan(ctx context.Context, p *model.MitigationPlan) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mitigation_plans (id, organization_id, supplier_id, kind, risk_ids, opportunity_id, title,
			summary, actions, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrganizationID, p.SupplierID, string(p.Kind), string(riskIDs), p.OpportunityID, p.Title,
		p.Summary, string(actions), p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert plan")
}

func (s *SQLiteStore) ListPlans(ctx context.Context, orgID string, limit int) ([]model.MitigationPlan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, supplier_id, kind, risk_ids, opportunity_id, title, summary, actions, created_at
		FROM mitigation_plans WHERE organization_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		orgID, listLimit(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list plans")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MitigationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan plan")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list plans iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
