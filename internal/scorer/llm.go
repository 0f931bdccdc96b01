package scorer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supplyrisk/internal/config"
	"github.com/sells-group/supplyrisk/internal/llmjson"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/resilience"
	"github.com/sells-group/supplyrisk/pkg/anthropic"
)

const maxPromptRisks = 30

const scoreSystemPrompt = `You are a supply chain risk analyst. Given a supplier and the risks detected for it, rate the supplier's overall risk from 0 (no risk) to 100 (severe, imminent disruption).
Respond with only a JSON object: {"score": <number 0-100>, "reasoning": "<one or two sentences>"}`

// Rater produces an advisory score for a supplier's risks.
type Rater interface {
	Rate(ctx context.Context, supplier string, risks []model.RiskRecord) (float64, string, error)
}

// LLMRater asks an Anthropic model for a 0-100 rating.
type LLMRater struct {
	client    anthropic.Client
	policy    *resilience.Policy
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewLLMRater creates a rater. policy may be nil.
func NewLLMRater(client anthropic.Client, policy *resilience.Policy, cfg config.AnthropicConfig) *LLMRater {
	r := &LLMRater{client: client, policy: policy, model: cfg.Model, maxTokens: cfg.MaxTokens, timeout: 30 * time.Second}
	if cfg.TimeoutSecs > 0 {
		r.timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	if r.maxTokens <= 0 {
		r.maxTokens = 512
	}
	return r
}

type ratingResponse struct {
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// Rate returns the model's score. Any failure, including an out-of-range or
// missing score, is returned as an error.
func (r *LLMRater) Rate(ctx context.Context, supplier string, risks []model.RiskRecord) (float64, string, error) {
	if len(risks) == 0 {
		return 0, "", eris.New("scorer: no risks to rate")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := anthropic.Prompt(r.model, r.maxTokens, scoreSystemPrompt, riskPrompt(supplier, risks))
	resp, err := resilience.Call(ctx, r.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return r.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return 0, "", eris.Wrap(err, "scorer: rate supplier")
	}
	resp.Usage.LogCost(r.model, "supplier_score")

	var out ratingResponse
	if err := llmjson.Decode(resp.Text(), &out); err != nil {
		return 0, "", eris.Wrap(err, "scorer: parse rating")
	}
	if out.Score == nil || math.IsNaN(*out.Score) || *out.Score < 0 || *out.Score > 100 {
		return 0, "", eris.New("scorer: rating missing or out of range")
	}
	return round2(*out.Score), strings.TrimSpace(out.Reasoning), nil
}

func riskPrompt(supplier string, risks []model.RiskRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Supplier: %s\nDetected risks (%d):\n", supplier, len(risks))
	for i, r := range risks {
		if i == maxPromptRisks {
			fmt.Fprintf(&b, "... and %d more\n", len(risks)-maxPromptRisks)
			break
		}
		fmt.Fprintf(&b, "- [%s/%s] %s: %s\n", r.Severity, r.SourceType, r.Title, truncate(r.Description, 240))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}

// Assessment is a supplier score with its provenance.
type Assessment struct {
	Score          float64
	Level          model.RiskLevel
	Breakdown      map[string]float64
	SeverityCounts map[string]int
	Source         model.ScoreSource
	Reasoning      string
}

// SupplierScorer prefers an advisory Rater and falls back to the algorithmic
// score on any rater failure. Breakdown and counts always come from the
// algorithm.
type SupplierScorer struct {
	engine *Engine
	rater  Rater
}

// NewSupplierScorer creates a scorer. rater may be nil. The rater is also
// ignored when LLM scoring is disabled in the engine config.
func NewSupplierScorer(engine *Engine, rater Rater) *SupplierScorer {
	if !engine.llmScores {
		rater = nil
	}
	return &SupplierScorer{engine: engine, rater: rater}
}

// Engine returns the underlying algorithmic engine.
func (s *SupplierScorer) Engine() *Engine { return s.engine }

// Assess scores risks for supplier.
func (s *SupplierScorer) Assess(ctx context.Context, supplier string, risks []model.RiskRecord) Assessment {
	score, breakdown, counts := s.engine.ScoreRiskSet(risks)
	a := Assessment{
		Score:          score,
		Breakdown:      breakdown,
		SeverityCounts: counts,
		Source:         model.ScoreSourceAlgorithmic,
	}

	if s.rater != nil && len(risks) > 0 {
		llmScore, reasoning, err := s.rater.Rate(ctx, supplier, risks)
		if err != nil {
			zap.L().Warn("scorer: llm rating failed, using algorithmic score",
				zap.String("supplier", supplier),
				zap.Float64("score", score),
				zap.Error(err),
			)
		} else {
			a.Score = llmScore
			a.Source = model.ScoreSourceLLM
			a.Reasoning = reasoning
		}
	}

	a.Level = ScoreToLevel(a.Score)
	return a
}
