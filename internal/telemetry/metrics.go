package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	policydomain "zero-trust-session-guard/internal/policy/domain"
)

const instrumentationName = "zero-trust-session-guard"

// Tracer returns the tracer used for spans around validation, refresh and transport calls.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Recorder holds the OTel metric instruments for decisions, refreshes and transport auth failures.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	decisions    metric.Int64Counter
	duration     metric.Float64Histogram
	refreshes    metric.Int64Counter
	authFailures metric.Int64Counter
}

// NewRecorder creates instruments on provider, or on the global MeterProvider when provider is nil.
func NewRecorder(provider metric.MeterProvider) (*Recorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)
	decisions, err := meter.Int64Counter("ztguard.validation.decisions",
		metric.WithDescription("Validation decisions by outcome, risk level and denial code."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("ztguard.validation.duration",
		metric.WithDescription("Time spent validating a request."), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	refreshes, err := meter.Int64Counter("ztguard.token.refreshes",
		metric.WithDescription("Token refresh exchanges by outcome."))
	if err != nil {
		return nil, err
	}
	authFailures, err := meter.Int64Counter("ztguard.transport.auth_failures",
		metric.WithDescription("401/403 responses that ended the session."))
	if err != nil {
		return nil, err
	}
	return &Recorder{decisions: decisions, duration: duration, refreshes: refreshes, authFailures: authFailures}, nil
}

// Decision records one validation outcome.
func (r *Recorder) Decision(ctx context.Context, res policydomain.Result, elapsed time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("allowed", res.Allowed),
		attribute.String("risk_level", string(res.RiskLevel)),
		attribute.String("code", string(res.Code)),
	)
	r.decisions.Add(ctx, 1, attrs)
	r.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// Refresh records one refresh exchange; outcome is "ok" or an error class.
func (r *Recorder) Refresh(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// AuthFailure records a session teardown triggered by status.
func (r *Recorder) AuthFailure(ctx context.Context, status int) {
	if r == nil {
		return
	}
	r.authFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("status", strconv.Itoa(status))))
}
