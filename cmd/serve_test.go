package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supplyrisk/internal/analyzer"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/notify"
	"github.com/sells-group/supplyrisk/internal/pipeline"
	"github.com/sells-group/supplyrisk/internal/scorer"
	"github.com/sells-group/supplyrisk/internal/store"
)

type testServer struct {
	*server
	agg     *pipeline.Aggregator
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	hub := notify.NewHub(8)
	agg := pipeline.NewAggregator(pipeline.Deps{
		Store:     st,
		Suite:     &analyzer.Suite{},
		Scorer:    scorer.NewSupplierScorer(scorer.MustDefault(), nil),
		Publisher: hub,
	})
	s := &server{ctx: context.Background(), store: st, runner: agg, events: hub}
	return &testServer{server: s, agg: agg, handler: s.router([]string{"*"})}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func scopeBody() model.OrganizationScope {
	return model.OrganizationScope{
		Name: "Globex",
		Suppliers: []model.SupplierScope{
			{ID: "sup-a", Name: "Acme Metals"},
			{ID: "sup-b", Name: "Bolt Plastics"},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestTriggerRun_Accepted(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/organizations/org-1/runs", scopeBody())
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var body struct {
		Status         string                `json:"status"`
		OrganizationID string                `json:"organization_id"`
		Runs           []model.RunWithStatus `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body.Status)
	assert.Equal(t, "org-1", body.OrganizationID)
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "sup-a", body.Runs[0].Run.SupplierID)

	ts.wait()

	rr = ts.do(t, http.MethodGet, "/runs/"+body.Runs[0].Run.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var run model.RunWithStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, model.RunStateCompleted, run.Status.State)

	rr = ts.do(t, http.MethodGet, "/organizations/org-1/score", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var score struct {
		Score     model.OrganizationScoreSnapshot `json:"score"`
		Suppliers []model.SupplierScoreState      `json:"suppliers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &score))
	assert.Equal(t, 0.0, score.Score.Score)
	assert.Equal(t, model.RiskLevelLow, score.Score.Level)
	assert.Len(t, score.Suppliers, 2)

	rr = ts.do(t, http.MethodGet, "/organizations/org-1/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.RunWithStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestTriggerRun_ConflictWhileInProgress(t *testing.T) {
	ts := newTestServer(t)
	scope := scopeBody()
	scope.ID = "org-1"

	cycle, err := ts.agg.Prepare(context.Background(), scope)
	require.NoError(t, err)

	rr := ts.do(t, http.MethodPost, "/organizations/org-1/runs", scopeBody())
	assert.Equal(t, http.StatusConflict, rr.Code)

	_, err = cycle.Execute(context.Background())
	require.NoError(t, err)

	rr = ts.do(t, http.MethodPost, "/organizations/org-1/runs", scopeBody())
	assert.Equal(t, http.StatusAccepted, rr.Code)
	ts.wait()
}

func TestTriggerRun_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/organizations/org-1/runs", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	mismatched := scopeBody()
	mismatched.ID = "org-2"
	rr = ts.do(t, http.MethodPost, "/organizations/org-1/runs", mismatched)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodPost, "/organizations/org-1/runs", model.OrganizationScope{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "no suppliers")
}

func TestNotFoundResponses(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodGet, "/organizations/org-9/score", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodGet, "/organizations/org-9/runs", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=5&offset=-1&bad=abc", nil)
	assert.Equal(t, 5, queryInt(req, "limit", 50))
	assert.Equal(t, 0, queryInt(req, "offset", 0))
	assert.Equal(t, 7, queryInt(req, "bad", 7))
	assert.Equal(t, 9, queryInt(req, "missing", 9))
}
