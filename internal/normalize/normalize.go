// Package normalize validates and canonicalizes raw risk and opportunity
// candidates before they reach scoring or persistence.
//
// Every function here is total: any input shape yields either a normalized
// record or nil, never a panic or an error.
package normalize

import (
	"strings"

	"github.com/sells-group/supplyrisk/internal/model"
)

var (
	validSeverities = setOf(model.Severities)
	validSources    = setOf(model.SourceTypes)
	validOppTypes   = setOf(model.OpportunityTypes)
)

// DefaultOpportunityType replaces a missing or unknown opportunity type.
const DefaultOpportunityType = model.OpportunityCostSaving

// Risk normalizes a risk candidate. It returns nil when the title or
// description is empty after trimming. An unknown severity becomes medium and
// an unknown source type becomes fallback.
func Risk(c model.RiskCandidate, fallback model.SourceType) (rec *model.RiskRecord) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
		}
	}()

	title := cleanText(c.Title)
	desc := cleanText(c.Description)
	if title == "" || desc == "" {
		return nil
	}

	return &model.RiskRecord{
		Title:             title,
		Description:       desc,
		Severity:          Severity(c.Severity),
		SourceType:        Source(c.SourceType, fallback),
		SourceData:        StructuredData(c.SourceData),
		AffectedRegion:    cleanText(c.AffectedRegion),
		AffectedSuppliers: mergeSuppliers(c.AffectedSupplier, c.AffectedSuppliers),
		EstimatedCost:     Number(c.EstimatedCost),
		Status:            model.RiskStatusDetected,
	}
}

// Opportunity normalizes an opportunity candidate with the same rules as Risk,
// substituting DefaultOpportunityType for an unknown type.
func Opportunity(c model.OpportunityCandidate, fallback model.SourceType) (rec *model.OpportunityRecord) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
		}
	}()

	title := cleanText(c.Title)
	desc := cleanText(c.Description)
	if title == "" || desc == "" {
		return nil
	}

	return &model.OpportunityRecord{
		Title:             title,
		Description:       desc,
		Type:              OpportunityType(c.Type),
		SourceType:        Source(c.SourceType, fallback),
		SourceData:        StructuredData(c.SourceData),
		AffectedRegion:    cleanText(c.AffectedRegion),
		AffectedSuppliers: mergeSuppliers(c.AffectedSupplier, c.AffectedSuppliers),
		EstimatedValue:    Number(c.EstimatedValue),
		Status:            model.RiskStatusDetected,
	}
}

// Risks normalizes a batch and reports how many candidates were dropped.
func Risks(cands []model.RiskCandidate, fallback model.SourceType) ([]model.RiskRecord, int) {
	out := make([]model.RiskRecord, 0, len(cands))
	for _, c := range cands {
		if rec := Risk(c, fallback); rec != nil {
			out = append(out, *rec)
		}
	}
	return out, len(cands) - len(out)
}

// Opportunities normalizes a batch and reports how many candidates were dropped.
func Opportunities(cands []model.OpportunityCandidate, fallback model.SourceType) ([]model.OpportunityRecord, int) {
	out := make([]model.OpportunityRecord, 0, len(cands))
	for _, c := range cands {
		if rec := Opportunity(c, fallback); rec != nil {
			out = append(out, *rec)
		}
	}
	return out, len(cands) - len(out)
}

// Severity lower-cases s and returns it when valid, medium otherwise.
func Severity(s string) model.Severity {
	sev := model.Severity(strings.ToLower(strings.TrimSpace(s)))
	if validSeverities[sev] {
		return sev
	}
	return model.SeverityMedium
}

// Source returns s when it names a known domain, fallback otherwise.
func Source(s string, fallback model.SourceType) model.SourceType {
	src := model.SourceType(strings.ToLower(strings.TrimSpace(s)))
	if validSources[src] {
		return src
	}
	return fallback
}

// OpportunityType returns s when valid, DefaultOpportunityType otherwise.
func OpportunityType(s string) model.OpportunityType {
	t := model.OpportunityType(strings.ToLower(strings.TrimSpace(s)))
	if validOppTypes[t] {
		return t
	}
	return DefaultOpportunityType
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, ""))
}

func mergeSuppliers(single string, many []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append([]string{single}, many...) {
		s = cleanText(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func setOf[T comparable](vals []T) map[T]bool {
	m := make(map[T]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}
