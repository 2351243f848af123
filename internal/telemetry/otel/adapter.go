package otel

import (
	"context"
	"strconv"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"zero-trust-session-guard/internal/securityevent/domain"
	"zero-trust-session-guard/internal/telemetry"
)

const loggerName = "ztguard.security_events"

// RecordEmitter is the subset of otellog.Logger the emitter needs.
type RecordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends security events as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(loggerName)}
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger directly.
func NewEventEmitterWithLogger(logger RecordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger RecordEmitter
}

// Emit converts the security event to an OTel log record. Denied events are logged at WARN.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())

	verdict := "ALLOWED"
	rec.SetSeverity(otellog.SeverityInfo)
	if !event.Allowed {
		verdict = "DENIED"
		rec.SetSeverity(otellog.SeverityWarn)
	}
	rec.SetSeverityText(verdict)
	rec.SetBody(otellog.StringValue(string(event.Action) + " -> " + verdict))

	rec.AddAttributes(
		otellog.String("event_id", event.ID),
		otellog.String("user_id", event.UserID),
		otellog.String("action", string(event.Action)),
		otellog.String("risk_level", string(event.RiskLevel)),
		otellog.Bool("allowed", event.Allowed),
	)
	if event.Resource != "" {
		rec.AddAttributes(otellog.String("resource", event.Resource))
	}
	if event.Reason != "" {
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	if event.UserAgent != "" {
		rec.AddAttributes(otellog.String("user_agent", event.UserAgent))
	}
	if event.Latency > 0 {
		rec.AddAttributes(otellog.String("latency_ms", strconv.FormatInt(event.Latency.Milliseconds(), 10)))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
