package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	policydomain "zero-trust-session-guard/internal/policy/domain"
	"zero-trust-session-guard/internal/securityevent/domain"
)

const defaultRedisKeyPrefix = "ztguard:security_events"

// RedisRepository stores each user's events in a sorted set scored by creation time in microseconds.
// A companion set tracks which users have events so DeleteBefore can sweep them.
type RedisRepository struct {
	client redis.Cmdable
	prefix string
}

var _ Repository = (*RedisRepository)(nil)

// RedisOption configures a RedisRepository.
type RedisOption func(*RedisRepository)

// WithKeyPrefix overrides the key prefix (default "ztguard:security_events").
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisRepository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedisRepository returns a repository backed by client.
func NewRedisRepository(client redis.Cmdable, opts ...RedisOption) *RedisRepository {
	r := &RedisRepository{client: client, prefix: defaultRedisKeyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisRepositoryFromURL parses a redis:// URL and returns a repository with its own client.
func NewRedisRepositoryFromURL(url string, opts ...RedisOption) (*RedisRepository, *redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(options)
	return NewRedisRepository(client, opts...), client, nil
}

type redisEvent struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	Resource  string `json:"resource,omitempty"`
	RiskLevel string `json:"risk_level"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	CreatedAt int64  `json:"created_at"` // unix microseconds
}

func (r *RedisRepository) userKey(userID string) string { return r.prefix + ":user:" + userID }
func (r *RedisRepository) usersKey() string             { return r.prefix + ":users" }

func (r *RedisRepository) Create(ctx context.Context, e *domain.Event) error {
	payload, err := json.Marshal(redisEvent{
		ID: e.ID, UserID: e.UserID, Action: string(e.Action), Resource: e.Resource,
		RiskLevel: string(e.RiskLevel), Allowed: e.Allowed, Reason: e.Reason, UserAgent: e.UserAgent,
		LatencyMs: e.Latency.Milliseconds(), CreatedAt: e.CreatedAt.UnixMicro(),
	})
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, r.userKey(e.UserID), redis.Z{Score: float64(e.CreatedAt.UnixMicro()), Member: payload})
		p.SAdd(ctx, r.usersKey(), e.UserID)
		return nil
	})
	return err
}

func (r *RedisRepository) ListByUser(ctx context.Context, userID string, q Query) ([]*domain.Event, error) {
	rng := &redis.ZRangeBy{Min: minScore(q.Since), Max: "+inf"}
	filtered := q.Action != "" || q.Allowed != nil
	if q.Limit > 0 && !filtered {
		rng.Count = int64(q.Limit)
	}
	members, err := r.client.ZRevRangeByScore(ctx, r.userKey(userID), rng).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Event, 0, len(members))
	for _, m := range members {
		e, err := decodeRedisEvent(m)
		if err != nil {
			return nil, err
		}
		if !q.Matches(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (r *RedisRepository) CountByUser(ctx context.Context, userID string, q Query) (int, error) {
	if q.Action == "" && q.Allowed == nil {
		n, err := r.client.ZCount(ctx, r.userKey(userID), minScore(q.Since), "+inf").Result()
		return int(n), err
	}
	q.Limit = 0
	events, err := r.ListByUser(ctx, userID, q)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func (r *RedisRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	users, err := r.client.SMembers(ctx, r.usersKey()).Result()
	if err != nil {
		return 0, err
	}
	upper := "(" + strconv.FormatInt(cutoff.UnixMicro(), 10)
	var removed int64
	for _, u := range users {
		n, err := r.client.ZRemRangeByScore(ctx, r.userKey(u), "-inf", upper).Result()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func minScore(since time.Time) string {
	if since.IsZero() {
		return "-inf"
	}
	return strconv.FormatInt(since.UnixMicro(), 10)
}

func decodeRedisEvent(member string) (*domain.Event, error) {
	var re redisEvent
	if err := json.Unmarshal([]byte(member), &re); err != nil {
		return nil, fmt.Errorf("decode security event: %w", err)
	}
	return &domain.Event{
		ID:        re.ID,
		UserID:    re.UserID,
		Action:    policydomain.Action(re.Action),
		Resource:  re.Resource,
		RiskLevel: policydomain.RiskLevel(re.RiskLevel),
		Allowed:   re.Allowed,
		Reason:    re.Reason,
		UserAgent: re.UserAgent,
		Latency:   time.Duration(re.LatencyMs) * time.Millisecond,
		CreatedAt: time.UnixMicro(re.CreatedAt).UTC(),
	}, nil
}
