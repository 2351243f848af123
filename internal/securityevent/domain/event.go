package domain

import (
	"time"

	policydomain "zero-trust-session-guard/internal/policy/domain"
)

// AnonymousUserID is recorded for validations attempted without a signed-in user.
const AnonymousUserID = "anonymous"

// UnknownUserID is recorded when validation failed before the user could be determined.
const UnknownUserID = "unknown"

// Event is one validation decision. Events are append-only.
type Event struct {
	ID        string
	UserID    string
	Action    policydomain.Action
	Resource  string
	RiskLevel policydomain.RiskLevel
	Allowed   bool
	Reason    string
	UserAgent string
	Latency   time.Duration // set on allowed events; time spent in validation
	CreatedAt time.Time
}

// Metrics summarizes a user's recent events.
type Metrics struct {
	TotalEvents    int
	AllowedEvents  int
	DeniedEvents   int
	HighRiskEvents int
	LastEventAt    time.Time // zero when there are no events
}

// Summarize computes Metrics over events, which must be ordered newest first.
func Summarize(events []*Event) Metrics {
	var m Metrics
	for _, e := range events {
		if e == nil {
			continue
		}
		m.TotalEvents++
		if e.Allowed {
			m.AllowedEvents++
		} else {
			m.DeniedEvents++
		}
		if e.RiskLevel == policydomain.RiskHigh {
			m.HighRiskEvents++
		}
		if e.CreatedAt.After(m.LastEventAt) {
			m.LastEventAt = e.CreatedAt
		}
	}
	return m
}
