package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supplyrisk/internal/config"
	"github.com/sells-group/supplyrisk/internal/llmjson"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/resilience"
	"github.com/sells-group/supplyrisk/pkg/anthropic"
)

// ErrPlannerUnavailable means no authoring service is configured.
var ErrPlannerUnavailable = eris.New("pipeline: plan author unavailable")

const planSystemPrompt = `You are a supply chain resilience advisor. Write a concise, practical mitigation plan.
Respond with only a JSON object: {"title": "<short title>", "summary": "<two or three sentences>", "actions": ["<action>", ...]} with three to five actions.`

const maxPlanActions = 8

// PlanTarget is one unit of the mitigation pass: a supplier's risks, a single
// ungrouped risk, or an opportunity.
type PlanTarget struct {
	Kind         model.PlanKind
	SupplierID   string
	SupplierName string
	RunID        string
	Risks        []model.RiskRecord
	Opportunity  *model.OpportunityRecord
	Organization string
}

// PlanAuthor drafts a plan for a target.
type PlanAuthor interface {
	Draft(ctx context.Context, t PlanTarget) (*model.MitigationPlan, error)
}

// Planner drafts mitigation plans with an Anthropic model.
type Planner struct {
	client    anthropic.Client
	policy    *resilience.Policy
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewPlanner creates a Planner. A nil client makes every Draft return
// ErrPlannerUnavailable.
func NewPlanner(client anthropic.Client, policy *resilience.Policy, cfg config.AnthropicConfig) *Planner {
	p := &Planner{client: client, policy: policy, model: cfg.PlanModel, maxTokens: 1024, timeout: 60 * time.Second}
	if p.model == "" {
		p.model = cfg.Model
	}
	if cfg.MaxTokens > p.maxTokens {
		p.maxTokens = cfg.MaxTokens
	}
	if cfg.TimeoutSecs > 0 {
		p.timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	return p
}

type planResponse struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Actions []string `json:"actions"`
}

// Draft asks the model for a plan. The returned plan carries the target's
// ids and kind; it is not persisted.
func (p *Planner) Draft(ctx context.Context, t PlanTarget) (*model.MitigationPlan, error) {
	if p == nil || p.client == nil {
		return nil, ErrPlannerUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := anthropic.Prompt(p.model, p.maxTokens, planSystemPrompt, planPrompt(t))
	resp, err := resilience.Call(ctx, p.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: draft plan")
	}
	resp.Usage.LogCost(p.model, "mitigation_plan")

	var out planResponse
	if err := llmjson.Decode(resp.Text(), &out); err != nil {
		return nil, eris.Wrap(err, "pipeline: parse plan")
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Title == "" || out.Summary == "" {
		return nil, eris.New("pipeline: plan missing title or summary")
	}

	var actions []string
	for _, a := range out.Actions {
		if a = strings.TrimSpace(a); a != "" && len(actions) < maxPlanActions {
			actions = append(actions, a)
		}
	}

	plan := &model.MitigationPlan{
		SupplierID: t.SupplierID,
		Kind:       t.Kind,
		Title:      out.Title,
		Summary:    out.Summary,
		Actions:    actions,
	}
	for _, r := range t.Risks {
		plan.RiskIDs = append(plan.RiskIDs, r.ID)
	}
	if t.Opportunity != nil {
		plan.OpportunityID = t.Opportunity.ID
	}
	return plan, nil
}

func planPrompt(t PlanTarget) string {
	var b strings.Builder
	if t.Organization != "" {
		fmt.Fprintf(&b, "Organization: %s\n", t.Organization)
	}
	switch t.Kind {
	case model.PlanKindSupplier:
		fmt.Fprintf(&b, "Supplier: %s\nWrite one combined plan covering these risks:\n", t.SupplierName)
	case model.PlanKindRisk:
		b.WriteString("Write a plan for this risk:\n")
	case model.PlanKindOpportunity:
		o := t.Opportunity
		fmt.Fprintf(&b, "Write a plan to capture this %s opportunity:\n- %s: %s\n", o.Type, o.Title, truncate(o.Description, 400))
		return b.String()
	}
	for i, r := range t.Risks {
		if i == maxPromptRisks {
			fmt.Fprintf(&b, "... and %d more\n", len(t.Risks)-maxPromptRisks)
			break
		}
		fmt.Fprintf(&b, "- [%s/%s] %s: %s", r.Severity, r.SourceType, r.Title, truncate(r.Description, 400))
		if r.AffectedRegion != "" {
			fmt.Fprintf(&b, " (region: %s)", r.AffectedRegion)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

const maxPromptRisks = 25

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}

// planTargets groups a cycle's findings for the mitigation pass: one target
// per supplier with risks, one per risk that names no affected supplier, and
// one per opportunity.
func planTargets(orgName string, results []*SupplierResult) []PlanTarget {
	var (
		targets []PlanTarget
		grouped = make(map[string]int)
		loose   []PlanTarget
	)
	names := make(map[string]string, len(results))
	runs := make(map[string]string, len(results))
	for _, r := range results {
		names[r.Scope.ID] = supplierLabel(r.Scope)
		runs[r.Scope.ID] = r.RunID
	}

	for _, res := range results {
		for _, risk := range res.Risks {
			if len(risk.AffectedSuppliers) == 0 {
				loose = append(loose, PlanTarget{
					Kind:         model.PlanKindRisk,
					SupplierID:   risk.SupplierID,
					RunID:        risk.WorkflowRunID,
					Risks:        []model.RiskRecord{risk},
					Organization: orgName,
				})
				continue
			}
			sup := risk.AffectedSuppliers[0]
			i, ok := grouped[sup]
			if !ok {
				name := names[sup]
				if name == "" {
					name = sup
				}
				runID := runs[sup]
				if runID == "" {
					runID = risk.WorkflowRunID
				}
				targets = append(targets, PlanTarget{
					Kind:         model.PlanKindSupplier,
					SupplierID:   sup,
					SupplierName: name,
					RunID:        runID,
					Organization: orgName,
				})
				i = len(targets) - 1
				grouped[sup] = i
			}
			targets[i].Risks = append(targets[i].Risks, risk)
		}
	}
	targets = append(targets, loose...)

	for _, res := range results {
		for i := range res.Opportunities {
			o := res.Opportunities[i]
			targets = append(targets, PlanTarget{
				Kind:         model.PlanKindOpportunity,
				SupplierID:   o.SupplierID,
				RunID:        o.WorkflowRunID,
				Opportunity:  &o,
				Organization: orgName,
			})
		}
	}
	return targets
}
