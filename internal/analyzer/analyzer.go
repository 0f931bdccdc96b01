// Package analyzer holds the domain analyzers that turn a supplier scope into
// risk and opportunity candidates, and the wrapper that keeps one failing
// analyzer from affecting the others.
package analyzer

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/resilience"
	"github.com/sells-group/supplyrisk/internal/tracing"
	"github.com/sells-group/supplyrisk/pkg/openmeteo"
	"github.com/sells-group/supplyrisk/pkg/perplexity"
	"github.com/sells-group/supplyrisk/pkg/shiptrack"
)

// DefaultTimeout bounds a single analyzer call.
const DefaultTimeout = 45 * time.Second

// Result is what an analyzer found for one supplier.
type Result struct {
	Risks         []model.RiskCandidate
	Opportunities []model.OpportunityCandidate
}

// Empty reports whether r holds no candidates.
func (r Result) Empty() bool {
	return len(r.Risks) == 0 && len(r.Opportunities) == 0
}

// Analyzer produces candidates for one supplier. Implementations return an
// empty Result rather than an error when they are not configured.
type Analyzer interface {
	Name() string
	// Source is the source type substituted when a candidate carries none.
	Source() model.SourceType
	Analyze(ctx context.Context, scope model.SupplierScope) (Result, error)
}

// Invoke runs a under its own timeout. Errors, panics and timeouts are logged
// and produce an empty Result; Invoke itself never fails.
func Invoke(ctx context.Context, a Analyzer, scope model.SupplierScope, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, span := tracing.Start(ctx, "analyzer."+a.Name(),
		attribute.String("supplier_id", scope.ID),
		attribute.String("organization_id", scope.OrganizationID),
	)

	res, err := invoke(ctx, a, scope, timeout)
	if err == nil {
		span.SetAttributes(attribute.Int("risks", len(res.Risks)), attribute.Int("opportunities", len(res.Opportunities)))
	}
	tracing.End(span, err)
	if err != nil {
		zap.L().Warn("analyzer: failed, using empty result",
			zap.String("analyzer", a.Name()),
			zap.String("supplier_id", scope.ID),
			zap.String("class", resilience.Classify(err)),
			zap.Error(err),
		)
		return Result{}
	}
	return res
}

type outcome struct {
	res Result
	err error
}

func invoke(ctx context.Context, a Analyzer, scope model.SupplierScope, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an analyzer that ignores ctx can still finish and exit.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: eris.Errorf("analyzer: %s panicked: %v", a.Name(), r)}
			}
		}()
		res, err := a.Analyze(ctx, scope)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, eris.Wrapf(ctx.Err(), "analyzer: %s timed out after %s", a.Name(), timeout)
	}
}

// retryable marks upstream status errors that are worth retrying so the
// resilience policy picks them up.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	var code int
	var pe *perplexity.StatusError
	var oe *openmeteo.StatusError
	var se *shiptrack.StatusError
	switch {
	case errors.As(err, &pe):
		code = pe.StatusCode
	case errors.As(err, &oe):
		code = oe.StatusCode
	case errors.As(err, &se):
		code = se.StatusCode
	default:
		return err
	}
	if resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(err, code)
	}
	return err
}
