package resilience

import (
	"context"
	"time"

	"github.com/sells-group/supplyrisk/internal/config"
)

// FromConfig converts the resilience config section into retry and breaker
// settings. Zero values keep the package defaults.
func FromConfig(c config.ResilienceConfig) (RetryConfig, CircuitBreakerConfig) {
	rc := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		rc.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		rc.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		rc.JitterFraction = c.JitterFraction
	}

	cc := DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		cc.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		cc.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return rc, cc
}

// Policy pairs a retry schedule with a circuit breaker for one upstream. Each
// attempt passes through the breaker, so an open circuit fails fast instead of
// burning retries.
type Policy struct {
	Name    string
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewPolicy builds a Policy for the named upstream from the resilience config.
func NewPolicy(name string, c config.ResilienceConfig) *Policy {
	rc, cc := FromConfig(c)
	rc.OnRetry = RetryLogger(name, "call")
	rc.ShouldRetry = func(err error) bool {
		return IsTransient(err) && !isCircuitOpen(err)
	}
	return &Policy{Name: name, Retry: rc, Breaker: NewCircuitBreaker(cc)}
}

// Call runs fn under p. A nil Policy runs fn directly.
func Call[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}
	return DoVal(ctx, p.Retry, func(ctx context.Context) (T, error) {
		return ExecuteVal(ctx, p.Breaker, fn)
	})
}
