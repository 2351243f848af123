package telemetry

import (
	"context"

	"zero-trust-session-guard/internal/securityevent/domain"
)

// EventEmitter ships security events to the diagnostic pipeline (e.g. OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}
