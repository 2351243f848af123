package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"zero-trust-session-guard/internal/securityevent/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	done    chan struct{}
}

func newMockEmitter(expected int) *mockEventEmitter {
	return &mockEventEmitter{done: make(chan struct{}, expected)}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	m.done <- struct{}{}
	return m.emitErr
}

func (m *mockEventEmitter) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for emit %d of %d", i+1, n)
		}
	}
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Event(nil), m.events...)
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	EmitAsync(context.Background(), nil, &domain.Event{UserID: "u1"}, nil)
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := newMockEmitter(1)
	EmitAsync(context.Background(), emitter, nil, nil)
	time.Sleep(10 * time.Millisecond)
	if got := len(emitter.getEvents()); got != 0 {
		t.Errorf("expected 0 events, got %d", got)
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := newMockEmitter(1)
	EmitAsync(context.Background(), emitter, &domain.Event{ID: "ev-1", UserID: "user-1", Action: "view_map"}, nil)
	emitter.wait(t, 1)

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].UserID != "user-1" || events[0].Action != "view_map" {
		t.Errorf("unexpected event %+v", events[0])
	}
}

func TestEmitAsync_CanceledCallerContext(t *testing.T) {
	emitter := newMockEmitter(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(ctx, emitter, &domain.Event{ID: "ev-1"}, nil)
	emitter.wait(t, 1)
	if got := len(emitter.getEvents()); got != 1 {
		t.Errorf("expected 1 event, got %d", got)
	}
}

func TestEmitAsync_ErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	emitter := newMockEmitter(1)
	emitter.emitErr = errors.New("collector unavailable")

	EmitAsync(context.Background(), emitter, &domain.Event{ID: "ev-err"}, zap.New(core))
	emitter.wait(t, 1)

	deadline := time.Now().Add(2 * time.Second)
	for logs.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	entries := logs.FilterMessage("telemetry: async emit failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 warn entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["event_id"]; got != "ev-err" {
		t.Errorf("event_id field = %v, want ev-err", got)
	}
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := newMockEmitter(10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(context.Background(), emitter, &domain.Event{UserID: "u"}, nil)
		}()
	}
	wg.Wait()
	emitter.wait(t, 10)
	if got := len(emitter.getEvents()); got != 10 {
		t.Errorf("expected 10 events, got %d", got)
	}
}
