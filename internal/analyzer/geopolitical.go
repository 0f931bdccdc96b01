package analyzer

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/supplyrisk/internal/config"
	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/normalize"
)

// Conflict is one entry of the active-conflict list.
type Conflict struct {
	Country  string
	Aliases  []string
	Label    string
	Severity model.Severity
}

// DefaultConflicts is the maintained active-conflict list.
var DefaultConflicts = []Conflict{
	{Country: "Ukraine", Aliases: []string{"UA", "UKR"}, Label: "Russia-Ukraine war", Severity: model.SeverityCritical},
	{Country: "Russia", Aliases: []string{"Russian Federation", "RU", "RUS"}, Label: "Russia-Ukraine war and sanctions", Severity: model.SeverityHigh},
	{Country: "Israel", Aliases: []string{"IL", "ISR"}, Label: "Israel-Gaza conflict", Severity: model.SeverityHigh},
	{Country: "Palestine", Aliases: []string{"Gaza", "Gaza Strip", "West Bank", "State of Palestine", "PS", "PSE"}, Label: "Israel-Gaza conflict", Severity: model.SeverityCritical},
	{Country: "Lebanon", Aliases: []string{"LB", "LBN"}, Label: "Israel-Hezbollah hostilities", Severity: model.SeverityHigh},
	{Country: "Yemen", Aliases: []string{"YE", "YEM"}, Label: "Yemen civil war and Red Sea shipping attacks", Severity: model.SeverityCritical},
	{Country: "Sudan", Aliases: []string{"SD", "SDN"}, Label: "Sudanese civil war", Severity: model.SeverityCritical},
	{Country: "Myanmar", Aliases: []string{"Burma", "MM", "MMR"}, Label: "Myanmar civil war", Severity: model.SeverityHigh},
	{Country: "Syria", Aliases: []string{"Syrian Arab Republic", "SY", "SYR"}, Label: "Syrian conflict", Severity: model.SeverityHigh},
	{Country: "Democratic Republic of the Congo", Aliases: []string{"DR Congo", "DRC", "Congo-Kinshasa", "CD", "COD"}, Label: "Eastern Congo conflict", Severity: model.SeverityHigh},
	{Country: "Somalia", Aliases: []string{"SO", "SOM"}, Label: "Al-Shabaab insurgency", Severity: model.SeverityHigh},
	{Country: "Haiti", Aliases: []string{"HT", "HTI"}, Label: "Gang conflict", Severity: model.SeverityMedium},
	{Country: "Mali", Aliases: []string{"ML", "MLI"}, Label: "Sahel insurgency", Severity: model.SeverityMedium},
	{Country: "Burkina Faso", Aliases: []string{"BF", "BFA"}, Label: "Sahel insurgency", Severity: model.SeverityMedium},
}

// Geopolitical matches a supplier's country and region against the
// active-conflict list. It makes no network calls.
type Geopolitical struct {
	conflicts []Conflict
	index     map[string]int
	// codes holds ISO-style aliases, matched against the country field only
	// so a region such as "IL" or "CD" is not mistaken for a country.
	codes map[string]int
}

// NewGeopolitical builds the matcher from DefaultConflicts plus extra. An
// extra entry naming an existing country replaces it.
func NewGeopolitical(extra []config.ConflictCountry) *Geopolitical {
	g := &Geopolitical{index: make(map[string]int), codes: make(map[string]int)}
	for _, c := range DefaultConflicts {
		g.add(c)
	}
	for _, c := range extra {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		sev := model.SeverityHigh
		if c.Severity != "" {
			sev = normalize.Severity(c.Severity)
		}
		label := c.Conflict
		if label == "" {
			label = "Active conflict"
		}
		g.add(Conflict{Country: c.Name, Aliases: c.Aliases, Label: label, Severity: sev})
	}
	return g
}

func (g *Geopolitical) add(c Conflict) {
	pos, ok := g.index[foldKey(c.Country)]
	if ok {
		g.conflicts[pos] = c
	} else {
		pos = len(g.conflicts)
		g.conflicts = append(g.conflicts, c)
	}
	for _, name := range append([]string{c.Country}, c.Aliases...) {
		k := foldKey(name)
		switch {
		case k == "":
		case isCode(name):
			g.codes[k] = pos
		default:
			g.index[k] = pos
		}
	}
}

func isCode(s string) bool {
	if len(s) < 2 || len(s) > 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Name implements Analyzer.
func (g *Geopolitical) Name() string { return "geopolitical" }

// Source implements Analyzer.
func (g *Geopolitical) Source() model.SourceType { return model.SourceGeopolitical }

// Analyze implements Analyzer.
func (g *Geopolitical) Analyze(_ context.Context, scope model.SupplierScope) (Result, error) {
	return Result{Risks: g.Detect(scope)}, nil
}

// Lookup returns the conflict entry for a country name, alias or code.
func (g *Geopolitical) Lookup(name string) (Conflict, bool) {
	return g.lookup(name, true)
}

func (g *Geopolitical) lookup(name string, withCodes bool) (Conflict, bool) {
	k := foldKey(name)
	pos, ok := g.index[k]
	if !ok && withCodes {
		pos, ok = g.codes[k]
	}
	if !ok {
		return Conflict{}, false
	}
	return g.conflicts[pos], true
}

// Detect returns one risk per distinct conflict matched by the supplier's
// country or region.
func (g *Geopolitical) Detect(scope model.SupplierScope) []model.RiskCandidate {
	var out []model.RiskCandidate
	seen := make(map[string]bool)
	for i, field := range []string{scope.Country, scope.Region} {
		c, ok := g.lookup(field, i == 0)
		if !ok || seen[c.Country] {
			continue
		}
		seen[c.Country] = true

		out = append(out, model.RiskCandidate{
			Title:       fmt.Sprintf("Active conflict exposure: %s", c.Country),
			Description: fmt.Sprintf("%s is located in %s, which is affected by the %s. Expect disruption to production, logistics, payments and sanctions compliance.", supplierName(scope), c.Country, c.Label),
			Severity:    string(c.Severity),
			SourceType:  string(model.SourceGeopolitical),
			SourceData: map[string]any{
				"country":       c.Country,
				"matched_value": field,
				"conflict":      c.Label,
				"risk_type":     "armed_conflict",
			},
			AffectedRegion:   c.Country,
			AffectedSupplier: scope.ID,
		})
	}
	return out
}

// foldKey normalizes a place name for comparison: accents stripped, case
// folded, punctuation dropped, whitespace collapsed.
func foldKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	var b strings.Builder
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case r == '\'' || r == '’' || r == '.':
		default:
			space = true
		}
	}
	return b.String()
}

func supplierName(scope model.SupplierScope) string {
	if scope.Name != "" {
		return scope.Name
	}
	return "The supplier"
}
