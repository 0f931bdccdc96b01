package scorer

import (
	"context"
	"errors"
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

func testAnthropicConfig() config.AnthropicConfig {
	return config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 256, TimeoutSecs: 5}
}

func sampleRisks() []model.RiskRecord {
	return []model.RiskRecord{
		risk(model.SeverityCritical, model.SourceWeather, nil),
		risk(model.SeverityHigh, model.SourceShipping, nil),
	}
}

func TestLLMRater_Rate(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" && len(req.Messages) == 1 &&
			assert.Contains(t, req.Messages[0].Content, "Supplier: Acme")
	})).Return(textResponse("```json\n{\"score\": 57.456, \"reasoning\": \" Flood and port delay. \"}\n```"), nil).Once()

	r := NewLLMRater(client, nil, testAnthropicConfig())
	score, reasoning, err := r.Rate(context.Background(), "Acme", sampleRisks())
	require.NoError(t, err)
	assert.Equal(t, 57.46, score)
	assert.Equal(t, "Flood and port delay.", reasoning)
}

func TestLLMRater_RejectsBadResponses(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"prose only", "This supplier is risky."},
		{"out of range", `{"score": 140}`},
		{"negative", `{"score": -1}`},
		{"missing score", `{"reasoning": "n/a"}`},
		{"string score", `{"score": "high"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := anthropicmocks.NewMockClient(t)
			client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(tt.text), nil).Once()

			_, _, err := NewLLMRater(client, nil, testAnthropicConfig()).Rate(context.Background(), "Acme", sampleRisks())
			assert.Error(t, err)
		})
	}
}

func TestLLMRater_EmptyRisks(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	_, _, err := NewLLMRater(client, nil, testAnthropicConfig()).Rate(context.Background(), "Acme", nil)
	assert.Error(t, err)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

type stubRater struct {
	score  float64
	reason string
	err    error
	calls  int
}

func (s *stubRater) Rate(context.Context, string, []model.RiskRecord) (float64, string, error) {
	s.calls++
	return s.score, s.reason, s.err
}

func TestSupplierScorer_PrefersRater(t *testing.T) {
	rater := &stubRater{score: 80, reason: "severe"}
	a := NewSupplierScorer(MustDefault(), rater).Assess(context.Background(), "Acme", sampleRisks())

	assert.Equal(t, 80.0, a.Score)
	assert.Equal(t, model.RiskLevelCritical, a.Level)
	assert.Equal(t, model.ScoreSourceLLM, a.Source)
	assert.Equal(t, "severe", a.Reasoning)
	assert.Equal(t, map[string]int{"critical": 1, "high": 1}, a.SeverityCounts)
}

func TestSupplierScorer_FallsBack(t *testing.T) {
	rater := &stubRater{err: errors.New("timeout")}
	a := NewSupplierScorer(MustDefault(), rater).Assess(context.Background(), "Acme", sampleRisks())

	assert.Equal(t, 48.23, a.Score)
	assert.Equal(t, model.RiskLevelMedium, a.Level)
	assert.Equal(t, model.ScoreSourceAlgorithmic, a.Source)
	assert.Equal(t, 1, rater.calls)
}

func TestSupplierScorer_EmptyRisksSkipsRater(t *testing.T) {
	rater := &stubRater{score: 90}
	a := NewSupplierScorer(MustDefault(), rater).Assess(context.Background(), "Acme", nil)

	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, model.RiskLevelLow, a.Level)
	assert.Zero(t, rater.calls)
}

func TestSupplierScorer_LLMDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLMEnabled = false
	e, err := New(cfg)
	require.NoError(t, err)

	rater := &stubRater{score: 90}
	a := NewSupplierScorer(e, rater).Assess(context.Background(), "Acme", sampleRisks())
	assert.Equal(t, model.ScoreSourceAlgorithmic, a.Source)
	assert.Zero(t, rater.calls)
}

func TestRiskPrompt_Truncates(t *testing.T) {
	var records []model.RiskRecord
	for i := 0; i < maxPromptRisks+5; i++ {
		records = append(records, risk(model.SeverityLow, model.SourceNews, nil))
	}
	p := riskPrompt("Acme", records)
	assert.Contains(t, p, "... and 5 more")
}
