package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supplyrisk/internal/config"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/pkg/anthropic"
	anthropicmocks "github.com/sells-group/supplyrisk/pkg/anthropic/mocks"
)

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: text}}}
}

func supplierTarget() PlanTarget {
	return PlanTarget{
		Kind:         model.PlanKindSupplier,
		SupplierID:   "sup-a",
		SupplierName: "Acme Metals",
		RunID:        "run-1",
		Organization: "Globex",
		Risks: []model.RiskRecord{
			{ID: "r1", Title: "Flood warning", Description: "River flooding", Severity: model.SeverityCritical, SourceType: model.SourceWeather, AffectedRegion: "Bavaria"},
			{ID: "r2", Title: "Port congestion", Description: "Six day delay", Severity: model.SeverityHigh, SourceType: model.SourceShipping},
		},
	}
}

func TestPlanner_Draft(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5" && req.MaxTokens == 1024 &&
			strings.Contains(req.Messages[0].Content, "Supplier: Acme Metals") &&
			strings.Contains(req.Messages[0].Content, "(region: Bavaria)")
	})).Return(textResponse(`Here you go: {"title": " Dual-source castings ", "summary": "Move volume ahead of the flood.", "actions": ["Expedite PO", "", "Qualify backup"]}`), nil).Once()

	p := NewPlanner(client, nil, config.AnthropicConfig{Model: "claude-haiku", PlanModel: "claude-sonnet-4-5", MaxTokens: 256})
	plan, err := p.Draft(context.Background(), supplierTarget())
	require.NoError(t, err)

	assert.Equal(t, "Dual-source castings", plan.Title)
	assert.Equal(t, model.PlanKindSupplier, plan.Kind)
	assert.Equal(t, "sup-a", plan.SupplierID)
	assert.Equal(t, []string{"r1", "r2"}, plan.RiskIDs)
	assert.Equal(t, []string{"Expedite PO", "Qualify backup"}, plan.Actions)
}

func TestPlanner_DraftRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name string
		resp *anthropic.MessageResponse
		err  error
	}{
		{"api error", nil, errors.New("overloaded")},
		{"not json", textResponse("I cannot help with that."), nil},
		{"missing summary", textResponse(`{"title": "x", "actions": []}`), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := anthropicmocks.NewMockClient(t)
			client.On("CreateMessage", mock.Anything, mock.Anything).Return(tt.resp, tt.err).Once()

			_, err := NewPlanner(client, nil, config.AnthropicConfig{Model: "m"}).Draft(context.Background(), supplierTarget())
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrPlannerUnavailable)
		})
	}
}

func TestPlanner_NoClient(t *testing.T) {
	_, err := NewPlanner(nil, nil, config.AnthropicConfig{}).Draft(context.Background(), supplierTarget())
	assert.ErrorIs(t, err, ErrPlannerUnavailable)

	var p *Planner
	_, err = p.Draft(context.Background(), supplierTarget())
	assert.ErrorIs(t, err, ErrPlannerUnavailable)
}

func TestPlanner_CapsActions(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(
		textResponse(`{"title": "t", "summary": "s", "actions": ["1","2","3","4","5","6","7","8","9","10"]}`), nil).Once()

	plan, err := NewPlanner(client, nil, config.AnthropicConfig{Model: "m"}).Draft(context.Background(), supplierTarget())
	require.NoError(t, err)
	assert.Len(t, plan.Actions, maxPlanActions)
}

func TestPlanPrompt_Opportunity(t *testing.T) {
	opp := &model.OpportunityRecord{ID: "o1", Title: "Freight rebate", Description: "Volume rebate", Type: model.OpportunityCostSaving}
	got := planPrompt(PlanTarget{Kind: model.PlanKindOpportunity, Opportunity: opp, Organization: "Globex"})
	assert.Equal(t, "Organization: Globex\nWrite a plan to capture this cost_saving opportunity:\n- Freight rebate: Volume rebate\n", got)
}

func TestPlanPrompt_TruncatesRiskList(t *testing.T) {
	tgt := PlanTarget{Kind: model.PlanKindSupplier, SupplierName: "Acme"}
	for range maxPromptRisks + 3 {
		tgt.Risks = append(tgt.Risks, model.RiskRecord{Title: "t", Description: "d", Severity: model.SeverityLow, SourceType: model.SourceNews})
	}
	got := planPrompt(tgt)
	assert.Equal(t, maxPromptRisks, strings.Count(got, "[low/news]"))
	assert.Contains(t, got, "... and 3 more")
}

func TestPlanTargets(t *testing.T) {
	results := []*SupplierResult{
		{
			Scope: model.SupplierScope{ID: "sup-a", Name: "Acme"},
			RunID: "run-a",
			Risks: []model.RiskRecord{
				{ID: "r1", SupplierID: "sup-a", WorkflowRunID: "run-a", AffectedSuppliers: []string{"sup-a"}},
				{ID: "r2", SupplierID: "sup-a", WorkflowRunID: "run-a"},
				{ID: "r3", SupplierID: "sup-a", WorkflowRunID: "run-a", AffectedSuppliers: []string{"sup-b", "sup-a"}},
			},
			Opportunities: []model.OpportunityRecord{{ID: "o1", SupplierID: "sup-a", WorkflowRunID: "run-a"}},
		},
		{
			Scope: model.SupplierScope{ID: "sup-b"},
			RunID: "run-b",
			Risks: []model.RiskRecord{
				{ID: "r4", SupplierID: "sup-b", WorkflowRunID: "run-b", AffectedSuppliers: []string{"sup-b"}},
				{ID: "r5", SupplierID: "sup-b", WorkflowRunID: "run-b", AffectedSuppliers: []string{"sup-x"}},
			},
		},
	}

	targets := planTargets("Globex", results)
	require.Len(t, targets, 5)

	assert.Equal(t, model.PlanKindSupplier, targets[0].Kind)
	assert.Equal(t, "sup-a", targets[0].SupplierID)
	assert.Equal(t, "Acme", targets[0].SupplierName)
	assert.Equal(t, "run-a", targets[0].RunID)
	assert.Len(t, targets[0].Risks, 1)

	assert.Equal(t, "sup-b", targets[1].SupplierID)
	assert.Equal(t, "sup-b", targets[1].SupplierName)
	assert.Equal(t, "run-b", targets[1].RunID)
	ids := []string{}
	for _, r := range targets[1].Risks {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r3", "r4"}, ids)

	// Unknown supplier: labeled by id, planned under the reporting run.
	assert.Equal(t, "sup-x", targets[2].SupplierName)
	assert.Equal(t, "run-b", targets[2].RunID)

	assert.Equal(t, model.PlanKindRisk, targets[3].Kind)
	assert.Equal(t, "r2", targets[3].Risks[0].ID)

	assert.Equal(t, model.PlanKindOpportunity, targets[4].Kind)
	assert.Equal(t, "o1", targets[4].Opportunity.ID)
	assert.Equal(t, "Globex", targets[4].Organization)
}
