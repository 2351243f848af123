package repository

import (
	"context"
	"time"

	"zero-trust-session-guard/internal/securityevent/domain"
)

// Query narrows a per-user event lookup. Zero values mean "no constraint".
type Query struct {
	// Since is an inclusive lower bound on CreatedAt.
	Since time.Time
	// Action restricts results to one action.
	Action string
	// Allowed restricts results to allowed (true) or denied (false) events.
	Allowed *bool
	// Limit caps the number of events returned.
	Limit int
}

// Matches reports whether e satisfies every constraint of q except Limit.
func (q Query) Matches(e *domain.Event) bool {
	if e == nil {
		return false
	}
	if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
		return false
	}
	if q.Action != "" && string(e.Action) != q.Action {
		return false
	}
	if q.Allowed != nil && e.Allowed != *q.Allowed {
		return false
	}
	return true
}

// Repository defines persistence for security events.
type Repository interface {
	Create(ctx context.Context, e *domain.Event) error
	// ListByUser returns the user's events matching q, newest first.
	ListByUser(ctx context.Context, userID string, q Query) ([]*domain.Event, error)
	// CountByUser counts the user's events matching q; q.Limit is ignored.
	CountByUser(ctx context.Context, userID string, q Query) (int, error)
	// DeleteBefore removes events created before cutoff and returns how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}
