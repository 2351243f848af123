package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	policydomain "zero-trust-session-guard/internal/policy/domain"
	"zero-trust-session-guard/internal/securityevent/domain"
)

const selectEventColumns = `SELECT id, user_id, action, resource, risk_level, allowed, reason, user_agent, latency_ms, created_at FROM security_events`

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a security event repository that uses the given db for persistence.
// The schema comes from the embedded migrations in internal/db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the event. The event must have ID and CreatedAt set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO security_events (id, user_id, action, resource, risk_level, allowed, reason, user_agent, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.UserID, string(e.Action), nullString(e.Resource), string(e.RiskLevel), e.Allowed,
		nullString(e.Reason), nullString(e.UserAgent), e.Latency.Milliseconds(), e.CreatedAt,
	)
	return err
}

// ListByUser returns the user's events matching q, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, q Query) ([]*domain.Event, error) {
	where, args := whereClause(userID, q)
	stmt := selectEventColumns + where + ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		stmt += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByUser counts the user's events matching q.
func (r *PostgresRepository) CountByUser(ctx context.Context, userID string, q Query) (int, error) {
	where, args := whereClause(userID, q)
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events`+where, args...).Scan(&n)
	return n, err
}

// DeleteBefore removes events older than cutoff.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func whereClause(userID string, q Query) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if q.Action != "" {
		args = append(args, q.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if q.Allowed != nil {
		args = append(args, *q.Allowed)
		conds = append(conds, fmt.Sprintf("allowed = $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner) (*domain.Event, error) {
	var (
		e                       domain.Event
		action, risk            string
		resource, reason, agent sql.NullString
		latencyMs               sql.NullInt64
	)
	if err := s.Scan(&e.ID, &e.UserID, &action, &resource, &risk, &e.Allowed, &reason, &agent, &latencyMs, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Action = policydomain.Action(action)
	e.RiskLevel = policydomain.RiskLevel(risk)
	e.Resource = resource.String
	e.Reason = reason.String
	e.UserAgent = agent.String
	e.Latency = time.Duration(latencyMs.Int64) * time.Millisecond
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
