package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"zero-trust-session-guard/internal/securityevent/domain"
)

// MemoryRepository keeps events in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*domain.Event
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, e *domain.Event) error {
	cp := *e
	r.mu.Lock()
	r.events = append(r.events, &cp)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, q Query) ([]*domain.Event, error) {
	r.mu.RLock()
	var out []*domain.Event
	for _, e := range r.events {
		if e.UserID == userID && q.Matches(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) CountByUser(_ context.Context, userID string, q Query) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.events {
		if e.UserID == userID && q.Matches(e) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var removed int64
	for _, e := range r.events {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return removed, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }
