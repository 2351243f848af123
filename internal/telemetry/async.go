package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"zero-trust-session-guard/internal/securityevent/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait before shutting down OTel providers so in-flight
// async emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// emitter and event may be nil; EmitAsync then returns without starting a goroutine.
// The goroutine uses a context detached from ctx so cancellation of the caller does not abort the emit.
func EmitAsync(ctx context.Context, emitter EventEmitter, event *domain.Event, logger *zap.Logger) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil && logger != nil {
			logger.Warn("telemetry: async emit failed", zap.Error(err), zap.String("event_id", event.ID))
		}
	}()
}
