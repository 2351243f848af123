// Package securityevent records validation decisions and answers the windowed
// history queries the session validator relies on.
package securityevent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zero-trust-session-guard/internal/logging"
	"zero-trust-session-guard/internal/securityevent/domain"
	"zero-trust-session-guard/internal/securityevent/repository"
	"zero-trust-session-guard/internal/telemetry"
)

// AggregateLimit caps the number of events Aggregate summarizes.
const AggregateLimit = 100

// DefaultRecentLimit is used by RecentEvents when limit <= 0.
const DefaultRecentLimit = 10

const defaultWriteTimeout = 500 * time.Millisecond

// Sink accepts security events. Append never fails and never panics; persistence
// problems are reported to the diagnostic log only.
type Sink interface {
	Append(ctx context.Context, e *domain.Event)
}

// Log is the security event log: a Sink plus read queries over a Repository.
type Log struct {
	repo         repository.Repository
	emitter      telemetry.EventEmitter
	logger       *zap.Logger
	now          func() time.Time
	userAgent    string
	writeTimeout time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

var _ Sink = (*Log)(nil)

// Option configures a Log.
type Option func(*Log)

// WithClock overrides time.Now for timestamps and window bounds.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithUserAgent sets the user agent stamped on events that do not carry one.
func WithUserAgent(ua string) Option {
	return func(l *Log) { l.userAgent = ua }
}

// WithWriteTimeout bounds each repository write made by Append.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.writeTimeout = d
		}
	}
}

// NewLog returns a Log persisting to repo. emitter and logger may be nil.
func NewLog(repo repository.Repository, emitter telemetry.EventEmitter, logger *zap.Logger, opts ...Option) *Log {
	l := &Log{
		repo:         repo,
		emitter:      emitter,
		logger:       logging.OrNop(logger),
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
		last:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stores e, filling ID, CreatedAt and UserAgent when empty. Timestamps are
// made strictly increasing per user. The write uses a context detached from ctx so
// a canceled caller still leaves an audit record.
func (l *Log) Append(ctx context.Context, e *domain.Event) {
	if e == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("securityevent: append panicked", zap.Any("panic", r), zap.String("user_id", e.UserID))
		}
	}()

	ev := *e
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.UserAgent == "" {
		ev.UserAgent = l.userAgent
	}
	ev.CreatedAt = l.stamp(ev.UserID, ev.CreatedAt)

	if l.repo != nil {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
		err := l.repo.Create(writeCtx, &ev)
		cancel()
		if err != nil {
			l.logger.Warn("securityevent: persist failed",
				zap.Error(err),
				zap.String("event_id", ev.ID),
				zap.String("user_id", ev.UserID),
				zap.String("action", string(ev.Action)),
				zap.String("risk_level", string(ev.RiskLevel)),
				zap.Bool("allowed", ev.Allowed),
				zap.String("reason", ev.Reason),
			)
		}
	}
	telemetry.EmitAsync(ctx, l.emitter, &ev, l.logger)
}

func (l *Log) stamp(userID string, ts time.Time) time.Time {
	if ts.IsZero() {
		ts = l.now()
	}
	ts = ts.UTC().Truncate(time.Microsecond)
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.last[userID]; ok && !ts.After(prev) {
		ts = prev.Add(time.Microsecond)
	}
	l.last[userID] = ts
	return ts
}

// Count counts the user's events matching q; q.Limit is ignored.
func (l *Log) Count(ctx context.Context, userID string, q repository.Query) (int, error) {
	if l.repo == nil {
		return 0, errNoRepository
	}
	return l.repo.CountByUser(ctx, userID, q)
}

// Query returns the user's events matching q, newest first.
func (l *Log) Query(ctx context.Context, userID string, q repository.Query) ([]*domain.Event, error) {
	if l.repo == nil {
		return nil, errNoRepository
	}
	return l.repo.ListByUser(ctx, userID, q)
}

// Aggregate summarizes the user's newest AggregateLimit events.
func (l *Log) Aggregate(ctx context.Context, userID string) (domain.Metrics, error) {
	events, err := l.Query(ctx, userID, repository.Query{Limit: AggregateLimit})
	if err != nil {
		return domain.Metrics{}, err
	}
	return domain.Summarize(events), nil
}

// RecentEvents returns up to limit of the user's newest events, or DefaultRecentLimit when limit <= 0.
func (l *Log) RecentEvents(ctx context.Context, userID string, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return l.Query(ctx, userID, repository.Query{Limit: limit})
}

// Cleanup deletes events older than olderThan and returns how many were removed.
func (l *Log) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("securityevent: retention must be positive")
	}
	if l.repo == nil {
		return 0, errNoRepository
	}
	n, err := l.repo.DeleteBefore(ctx, l.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	l.logger.Info("securityevent: cleanup", zap.Int64("deleted", n), zap.Duration("older_than", olderThan))
	return n, nil
}

// Ping reports whether the backing repository is reachable.
func (l *Log) Ping(ctx context.Context) error {
	if l.repo == nil {
		return errNoRepository
	}
	return l.repo.Ping(ctx)
}

var errNoRepository = errors.New("securityevent: no repository configured")
