package scorer

import (
	"context"
	"fmt"
	"sort"
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

const narrativeSystemPrompt = `You write short executive risk briefings for procurement teams.
Respond with only a JSON object: {"insights": ["<sentence>", ...]} containing two to four insights.`

// SupplierLine is one supplier's contribution to an organization summary.
type SupplierLine struct {
	Name      string
	Score     float64
	Level     model.RiskLevel
	RiskCount int
}

// OrganizationDigest is the input to a narrative summary.
type OrganizationDigest struct {
	Name           string
	Score          float64
	Level          model.RiskLevel
	Breakdown      map[string]float64
	SeverityCounts map[string]int
	Suppliers      []SupplierLine
	Opportunities  int
}

// Narrator writes the organization summary, preferring an LLM and falling
// back to a rule-based sentence.
type Narrator struct {
	client    anthropic.Client
	policy    *resilience.Policy
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewNarrator creates a Narrator. A nil client always uses the fallback.
func NewNarrator(client anthropic.Client, policy *resilience.Policy, cfg config.AnthropicConfig) *Narrator {
	n := &Narrator{client: client, policy: policy, model: cfg.Model, maxTokens: cfg.MaxTokens, timeout: 30 * time.Second}
	if cfg.TimeoutSecs > 0 {
		n.timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	if n.maxTokens <= 0 {
		n.maxTokens = 512
	}
	return n
}

// Summarize returns a narrative for d. It never fails.
func (n *Narrator) Summarize(ctx context.Context, d OrganizationDigest) string {
	if n == nil || n.client == nil {
		return FallbackSummary(d)
	}
	text, err := n.llmSummary(ctx, d)
	if err != nil {
		zap.L().Warn("scorer: narrative generation failed, using fallback",
			zap.String("organization", d.Name),
			zap.Error(err),
		)
		return FallbackSummary(d)
	}
	return text
}

func (n *Narrator) llmSummary(ctx context.Context, d OrganizationDigest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req := anthropic.Prompt(n.model, n.maxTokens, narrativeSystemPrompt, digestPrompt(d))
	resp, err := resilience.Call(ctx, n.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return n.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return "", eris.Wrap(err, "scorer: narrative")
	}
	resp.Usage.LogCost(n.model, "organization_narrative")

	var out struct {
		Insights []string `json:"insights"`
		Summary  string   `json:"summary"`
	}
	if err := llmjson.Decode(resp.Text(), &out); err != nil {
		return "", err
	}

	var parts []string
	for _, s := range out.Insights {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 && strings.TrimSpace(out.Summary) != "" {
		parts = append(parts, strings.TrimSpace(out.Summary))
	}
	if len(parts) == 0 {
		return "", eris.New("scorer: narrative had no insights")
	}
	return strings.Join(parts, " "), nil
}

func digestPrompt(d OrganizationDigest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Organization: %s\nOverall score: %.2f (%s)\n", d.Name, d.Score, d.Level)
	fmt.Fprintf(&b, "Severity counts: %s\n", formatCounts(d.SeverityCounts))
	fmt.Fprintf(&b, "Weight by domain: %s\n", formatBreakdown(d.Breakdown))
	fmt.Fprintf(&b, "Opportunities identified: %d\nSuppliers:\n", d.Opportunities)
	for _, s := range rankSuppliers(d.Suppliers) {
		fmt.Fprintf(&b, "- %s: %.2f (%s), %d risks\n", s.Name, s.Score, s.Level, s.RiskCount)
	}
	return b.String()
}

// FallbackSummary is the deterministic summary used without an LLM.
func FallbackSummary(d OrganizationDigest) string {
	total := 0
	for _, c := range d.SeverityCounts {
		total += c
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Overall supply chain risk is %s (%.2f) across %d suppliers.", d.Level, d.Score, len(d.Suppliers))
	if total == 0 {
		b.WriteString(" No active risks were detected.")
	} else {
		fmt.Fprintf(&b, " %d risks detected (%s).", total, formatCounts(d.SeverityCounts))
	}
	if ranked := rankSuppliers(d.Suppliers); len(ranked) > 0 && ranked[0].Score > 0 {
		fmt.Fprintf(&b, " Highest exposure: %s at %.2f (%s).", ranked[0].Name, ranked[0].Score, ranked[0].Level)
	}
	if dom := topDomain(d.Breakdown); dom != "" {
		fmt.Fprintf(&b, " Largest contributing domain: %s.", dom)
	}
	if d.Opportunities > 0 {
		fmt.Fprintf(&b, " %d opportunities identified.", d.Opportunities)
	}
	return b.String()
}

func rankSuppliers(in []SupplierLine) []SupplierLine {
	out := append([]SupplierLine(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func formatCounts(counts map[string]int) string {
	var parts []string
	for i := len(model.Severities) - 1; i >= 0; i-- {
		sev := string(model.Severities[i])
		if c := counts[sev]; c > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c, sev))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func formatBreakdown(b map[string]float64) string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.2f", k, b[k]))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func topDomain(b map[string]float64) string {
	var best string
	var top float64
	for k, v := range b {
		if v > top || (v == top && v > 0 && k < best) {
			best, top = k, v
		}
	}
	return best
}
