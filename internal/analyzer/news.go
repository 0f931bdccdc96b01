package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supplyrisk/internal/llmjson"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/normalize"
	"github.com/sells-group/supplyrisk/internal/resilience"
	"github.com/sells-group/supplyrisk/pkg/perplexity"
)

const newsSystemPrompt = `You are a supply chain intelligence analyst. Search recent news and report events that create risks or opportunities for the described supply chain.
Respond with only a JSON object:
{"risks": [{"title": "", "description": "", "severity": "low|medium|high|critical", "affected_region": "", "estimated_cost": null, "source_data": {"risk_type": "armed_conflict|labor_strike|natural_disaster|regulatory|financial|cyber|logistics|other", "url": ""}}],
 "opportunities": [{"title": "", "description": "", "type": "cost_saving|time_saving|quality_improvement|market_expansion|supplier_diversification", "affected_region": "", "estimated_value": null, "source_data": {"url": ""}}]}
Report at most 5 risks and 3 opportunities. Return empty arrays when nothing relevant happened.`

type newsPayload struct {
	Risks         []map[string]any `json:"risks"`
	Opportunities []map[string]any `json:"opportunities"`
}

// News searches recent news for events affecting one supplier, or, in global
// mode, the organization's wider supply chain.
type News struct {
	client  perplexity.Client
	policy  *resilience.Policy
	global  bool
	recency string
}

// NewSupplierNews creates the supplier-scoped news analyzer. A nil client
// disables it.
func NewSupplierNews(client perplexity.Client, policy *resilience.Policy) *News {
	return &News{client: client, policy: policy, recency: "week"}
}

// NewGlobalNews creates the organization-wide news analyzer.
func NewGlobalNews(client perplexity.Client, policy *resilience.Policy) *News {
	return &News{client: client, policy: policy, global: true, recency: "week"}
}

// Name implements Analyzer.
func (n *News) Name() string {
	if n.global {
		return "global_news"
	}
	return "news"
}

// Source implements Analyzer.
func (n *News) Source() model.SourceType {
	if n.global {
		return model.SourceGlobalNews
	}
	return model.SourceNews
}

// Analyze implements Analyzer.
func (n *News) Analyze(ctx context.Context, scope model.SupplierScope) (Result, error) {
	if n.client == nil {
		return Result{}, nil
	}
	prompt := n.prompt(scope)
	if prompt == "" {
		return Result{}, nil
	}

	resp, err := resilience.Call(ctx, n.policy, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		resp, err := n.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Messages: []perplexity.Message{
				{Role: "system", Content: newsSystemPrompt},
				{Role: "user", Content: prompt},
			},
			SearchRecencyFilter: n.recency,
		})
		return resp, retryable(err)
	})
	if err != nil {
		return Result{}, eris.Wrapf(err, "analyzer: %s search", n.Name())
	}

	var payload newsPayload
	if err := llmjson.Decode(resp.Content(), &payload); err != nil {
		return Result{}, eris.Wrapf(err, "analyzer: %s parse", n.Name())
	}

	var res Result
	for _, m := range payload.Risks {
		c := normalize.RiskFromMap(m)
		c.SourceType = string(n.Source())
		c.SourceData = enrich(c.SourceData, m, resp.Citations)
		if !n.global && c.AffectedSupplier == "" {
			c.AffectedSupplier = scope.ID
		}
		res.Risks = append(res.Risks, c)
	}
	for _, m := range payload.Opportunities {
		c := normalize.OpportunityFromMap(m)
		c.SourceType = string(n.Source())
		c.SourceData = enrich(c.SourceData, m, resp.Citations)
		if !n.global && c.AffectedSupplier == "" {
			c.AffectedSupplier = scope.ID
		}
		res.Opportunities = append(res.Opportunities, c)
	}
	return res, nil
}

func (n *News) prompt(scope model.SupplierScope) string {
	var b strings.Builder
	if n.global {
		org := scope.Organization
		if org == nil || org.Name == "" {
			return ""
		}
		fmt.Fprintf(&b, "Organization: %s\n", org.Name)
		if loc := joinNonEmpty(org.City, org.Region, org.Country); loc != "" {
			fmt.Fprintf(&b, "Headquarters: %s\n", loc)
		}
		if len(org.Commodities) > 0 {
			fmt.Fprintf(&b, "Commodities sourced: %s\n", strings.Join(org.Commodities, ", "))
		}
		b.WriteString("Find global events from the past week (trade policy, conflicts, port or canal disruptions, commodity price shocks) affecting this organization's supply chain.")
		return b.String()
	}

	if scope.Name == "" {
		return ""
	}
	fmt.Fprintf(&b, "Supplier: %s\n", scope.Name)
	if loc := scope.Location(); loc != "" {
		fmt.Fprintf(&b, "Location: %s\n", loc)
	}
	if len(scope.Commodities) > 0 {
		fmt.Fprintf(&b, "Supplies: %s\n", strings.Join(scope.Commodities, ", "))
	}
	b.WriteString("Find news from the past week about this supplier or its location (strikes, accidents, financial distress, sanctions, regional unrest, capacity expansions).")
	return b.String()
}

// enrich returns the candidate's source data as an object, lifting a
// top-level risk_type into it and attaching search citations.
func enrich(data any, raw map[string]any, citations []string) any {
	obj := normalize.StructuredData(data)
	if obj == nil {
		if data != nil {
			// Non-object source data is left for the normalizer to discard.
			return data
		}
		obj = make(map[string]any)
	}
	if rt, ok := raw["risk_type"].(string); ok && obj["risk_type"] == nil {
		obj["risk_type"] = rt
	}
	if len(citations) > 0 && obj["citations"] == nil {
		obj["citations"] = citations
	}
	return obj
}

func joinNonEmpty(vals ...string) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}
