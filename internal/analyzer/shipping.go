package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/resilience"
	"github.com/sells-group/supplyrisk/pkg/shiptrack"
)

// Shipment labels used in source data. The scorer boosts "critical".
const (
	labelNone     = "none"
	labelMinor    = "minor"
	labelMajor    = "major"
	labelCritical = "critical"
)

// Shipment flags delayed or stalled shipments for a supplier's tracking ids.
type Shipment struct {
	client shiptrack.Client
	policy *resilience.Policy
	now    func() time.Time
}

// NewShipment creates the shipment analyzer. A nil client disables it.
func NewShipment(client shiptrack.Client, policy *resilience.Policy) *Shipment {
	return &Shipment{client: client, policy: policy, now: time.Now}
}

// Name implements Analyzer.
func (s *Shipment) Name() string { return "shipping" }

// Source implements Analyzer.
func (s *Shipment) Source() model.SourceType { return model.SourceShipping }

// Analyze implements Analyzer. A failed lookup skips that shipment; an error
// is returned only when every lookup failed.
func (s *Shipment) Analyze(ctx context.Context, scope model.SupplierScope) (Result, error) {
	if s.client == nil || len(scope.TrackingIDs) == 0 {
		return Result{}, nil
	}

	var res Result
	var firstErr error
	failed := 0
	for _, id := range scope.TrackingIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		sh, err := resilience.Call(ctx, s.policy, func(ctx context.Context) (*shiptrack.Shipment, error) {
			sh, err := s.client.Track(ctx, id)
			return sh, retryable(err)
		})
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			zap.L().Debug("analyzer: shipment lookup failed", zap.String("tracking_id", id), zap.Error(err))
			continue
		}
		if sh == nil {
			continue
		}
		s.assess(scope, sh, &res)
	}

	if failed > 0 && failed == len(scope.TrackingIDs) {
		return Result{}, eris.Wrapf(firstErr, "analyzer: all %d shipment lookups failed", failed)
	}
	return res, nil
}

func (s *Shipment) assess(scope model.SupplierScope, sh *shiptrack.Shipment, res *Result) {
	delay := sh.DelayDays()
	stagnant := sh.StagnantDays(s.now())
	delayLabel := label(delay, 1, 3, 7)
	stagnationLabel := label(stagnant, 2, 4, 7)
	exception := sh.Status == shiptrack.StatusException

	data := map[string]any{
		"tracking_id":      sh.TrackingID,
		"carrier":          sh.Carrier,
		"mode":             sh.Mode,
		"delay_status":     sh.Status,
		"origin":           sh.Origin,
		"destination":      sh.Destination,
		"delay_days":       round1(delay),
		"delay_label":      delayLabel,
		"stagnation_days":  round1(stagnant),
		"stagnation_label": stagnationLabel,
	}
	if !sh.EstimatedETA.IsZero() {
		data["estimated_eta"] = sh.EstimatedETA.UTC().Format(time.RFC3339)
	}

	sev := labelSeverity(delayLabel, stagnationLabel)
	if exception && severityRank(sev) < severityRank(model.SeverityHigh) {
		sev = model.SeverityHigh
	}

	if sev != "" {
		var reasons []string
		if delayLabel != labelNone {
			reasons = append(reasons, fmt.Sprintf("arrival slipped %.1f days", delay))
		}
		if stagnationLabel != labelNone {
			reasons = append(reasons, fmt.Sprintf("no tracking update for %.1f days", stagnant))
		}
		if exception {
			reasons = append(reasons, "carrier reported an exception")
		}
		res.Risks = append(res.Risks, model.RiskCandidate{
			Title:            fmt.Sprintf("Shipment %s disrupted (%s)", sh.TrackingID, sh.Carrier),
			Description:      fmt.Sprintf("Shipment %s from %s to %s: %s.", sh.TrackingID, orUnknown(sh.Origin), orUnknown(sh.Destination), strings.Join(reasons, "; ")),
			Severity:         string(sev),
			SourceType:       string(model.SourceShipping),
			SourceData:       data,
			AffectedRegion:   sh.Origin,
			AffectedSupplier: scope.ID,
		})
		return
	}

	if early := earlyDays(sh); early >= 2 && sh.Status != shiptrack.StatusDelivered {
		res.Opportunities = append(res.Opportunities, model.OpportunityCandidate{
			Title:            fmt.Sprintf("Shipment %s running ahead of schedule", sh.TrackingID),
			Description:      fmt.Sprintf("Shipment %s is expected %.1f days early. Downstream production can be pulled forward.", sh.TrackingID, early),
			Type:             string(model.OpportunityTimeSaving),
			SourceType:       string(model.SourceShipping),
			SourceData:       data,
			AffectedRegion:   sh.Destination,
			AffectedSupplier: scope.ID,
		})
	}
}

func label(days, minor, major, critical float64) string {
	switch {
	case days >= critical:
		return labelCritical
	case days >= major:
		return labelMajor
	case days >= minor:
		return labelMinor
	default:
		return labelNone
	}
}

func labelSeverity(labels ...string) model.Severity {
	var sev model.Severity
	for _, l := range labels {
		var s model.Severity
		switch l {
		case labelCritical:
			s = model.SeverityCritical
		case labelMajor:
			s = model.SeverityHigh
		case labelMinor:
			s = model.SeverityMedium
		default:
			continue
		}
		if severityRank(s) > severityRank(sev) {
			sev = s
		}
	}
	return sev
}

func severityRank(s model.Severity) int {
	for i, v := range model.Severities {
		if v == s {
			return i + 1
		}
	}
	return 0
}

func earlyDays(sh *shiptrack.Shipment) float64 {
	if sh.PlannedETA.IsZero() || sh.EstimatedETA.IsZero() {
		return 0
	}
	return sh.PlannedETA.Sub(sh.EstimatedETA).Hours() / 24
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
