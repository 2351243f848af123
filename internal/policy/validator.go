// Package policy implements the session risk validator: it decides whether an
// action may run now and records every decision in the security event log.
package policy

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"zero-trust-session-guard/internal/logging"
	"zero-trust-session-guard/internal/policy/domain"
	"zero-trust-session-guard/internal/policy/engine"
	evdomain "zero-trust-session-guard/internal/securityevent/domain"
	"zero-trust-session-guard/internal/securityevent/repository"
	"zero-trust-session-guard/internal/session"
	sessiondomain "zero-trust-session-guard/internal/session/domain"
	"zero-trust-session-guard/internal/telemetry"
)

// Behavioral check windows and thresholds.
const (
	BehaviorWindow    = 30 * time.Minute
	BehaviorLimit     = 20
	FailureWindow     = 5 * time.Minute
	MaxRecentFailures = 5
	HighRiskWindow    = 10 * time.Minute
	MaxRecentHighRisk = 3
)

// Reasons shown to the user and recorded on events.
const (
	ReasonUnauthenticated   = "Usuario no autenticado"
	ReasonInvalidSession    = "Sesión inválida"
	ReasonTooManyFailures   = "Demasiados intentos fallidos recientemente"
	ReasonUnusualHighRisk   = "Actividad de alto riesgo inusual detectada"
	ReasonReauthRequired    = "Reautenticación requerida para esta acción sensible"
	ReasonSystemError       = "Error de seguridad del sistema. Intente más tarde."
	eventReasonReauth       = "Reautenticación requerida para acción de alto riesgo"
	eventReasonSystemPrefix = "Error de sistema: "
)

// EventLog is what the validator needs from the security event log.
type EventLog interface {
	Append(ctx context.Context, e *evdomain.Event)
	Query(ctx context.Context, userID string, q repository.Query) ([]*evdomain.Event, error)
	Count(ctx context.Context, userID string, q repository.Query) (int, error)
	Aggregate(ctx context.Context, userID string) (evdomain.Metrics, error)
	RecentEvents(ctx context.Context, userID string, limit int) ([]*evdomain.Event, error)
	Ping(ctx context.Context) error
}

// Refresher forces a token refresh.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Validator runs the validation pipeline. Denials are results, never errors.
type Validator struct {
	sessions   session.Provider
	events     EventLog
	privileges engine.Evaluator
	refresher  Refresher
	recorder   *telemetry.Recorder
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithRecorder records decision metrics on r.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(v *Validator) { v.recorder = r }
}

// WithRefresher enables RequireReauthentication.
func WithRefresher(r Refresher) Option {
	return func(v *Validator) { v.refresher = r }
}

// NewValidator returns a Validator. A nil privileges evaluator skips the privilege step.
func NewValidator(sessions session.Provider, events EventLog, privileges engine.Evaluator, logger *zap.Logger, opts ...Option) *Validator {
	v := &Validator{
		sessions:   sessions,
		events:     events,
		privileges: privileges,
		logger:     logging.OrNop(logger),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateRequest decides whether req may proceed. Each step that denies records a
// denied event before returning; a full pass records an allowed event with its latency.
// Internal errors and panics fail closed with CodeSystemError.
func (v *Validator) ValidateRequest(ctx context.Context, req domain.Request) (res domain.Result) {
	start := v.now()
	ctx, span := telemetry.Tracer().Start(ctx, "ValidateRequest",
		trace.WithAttributes(attribute.String("action", string(req.Action))))
	defer span.End()

	var userID string
	defer func() {
		if r := recover(); r != nil {
			res = v.systemError(ctx, req, userID, fmt.Errorf("panic: %v", r))
		}
		if !res.Allowed {
			span.SetStatus(codes.Error, string(res.Code))
		}
		span.SetAttributes(
			attribute.Bool("allowed", res.Allowed),
			attribute.String("risk_level", string(res.RiskLevel)),
		)
		v.recorder.Decision(ctx, res, v.now().Sub(start))
	}()

	res, err := v.evaluate(ctx, req, start, &userID)
	if err != nil {
		return v.systemError(ctx, req, userID, err)
	}
	return res
}

func (v *Validator) evaluate(ctx context.Context, req domain.Request, start time.Time, userID *string) (domain.Result, error) {
	sess, err := v.sessions.Current(ctx)
	if err != nil {
		return domain.Result{}, err
	}
	if sess == nil {
		risk := domain.DefaultRisk
		if req.RiskLevel.Valid() {
			risk = req.RiskLevel
		}
		return v.deny(ctx, evdomain.AnonymousUserID, req, risk, domain.CodeUnauthenticated, ReasonUnauthenticated, ReasonUnauthenticated), nil
	}
	*userID = sess.UserID

	risk := domain.Classify(req.Action, req.RiskLevel)
	if req.RiskLevel != "" && !req.RiskLevel.Valid() {
		v.logger.Warn("policy: ignoring invalid risk level", zap.String("action", string(req.Action)), zap.String("risk_level", string(req.RiskLevel)))
	}
	if !req.Action.Known() && !req.RiskLevel.Valid() {
		v.logger.Warn("policy: unknown action classified with default risk",
			zap.String("action", string(req.Action)), zap.String("risk_level", string(risk)))
	}

	if reason, ok := v.checkSession(sess, risk, start); !ok {
		return v.deny(ctx, sess.UserID, req, risk, domain.CodeSessionExpired, reason, reason), nil
	}
	if reason, ok := v.checkBehavior(ctx, sess.UserID, start); !ok {
		return v.deny(ctx, sess.UserID, req, risk, domain.CodeSuspiciousBehavior, reason, reason), nil
	}
	if reason, ok := v.checkFrequency(ctx, sess.UserID, req.Action, start); !ok {
		return v.deny(ctx, sess.UserID, req, risk, domain.CodeRateLimited, reason, reason), nil
	}
	if risk == domain.RiskHigh && !(sess.HasSignInTime() && sess.Age(start) < domain.ReauthWindow) {
		return v.deny(ctx, sess.UserID, req, risk, domain.CodeReauthRequired, eventReasonReauth, ReasonReauthRequired), nil
	}
	if v.privileges != nil {
		dec, err := v.privileges.EvaluatePrivilege(ctx, engine.PrivilegeInput{
			Action:        req.Action,
			Resource:      req.Resource,
			RiskLevel:     risk,
			UserID:        sess.UserID,
			Email:         sess.Email,
			EmailVerified: sess.EmailVerified,
		})
		if err != nil {
			return domain.Result{}, err
		}
		if !dec.Allowed {
			return v.deny(ctx, sess.UserID, req, risk, domain.CodePrivilegeDenied, dec.Reason, dec.Reason), nil
		}
	}

	latency := v.now().Sub(start)
	v.events.Append(ctx, &evdomain.Event{
		UserID:    sess.UserID,
		Action:    req.Action,
		Resource:  req.Resource,
		RiskLevel: risk,
		Allowed:   true,
		Reason:    fmt.Sprintf("Validación Zero Trust exitosa (%dms)", latency.Milliseconds()),
		Latency:   latency,
		CreatedAt: v.now(),
	})
	v.logger.Debug("policy: allowed",
		zap.String("user_id", sess.UserID),
		zap.String("action", string(req.Action)),
		zap.String("risk_level", string(risk)),
		zap.Duration("latency", latency),
	)
	return domain.Allow(risk), nil
}

// checkSession enforces the per-tier maximum session age.
func (v *Validator) checkSession(sess *sessiondomain.Session, risk domain.RiskLevel, now time.Time) (string, bool) {
	if !sess.HasSignInTime() {
		return ReasonInvalidSession, false
	}
	if sess.Age(now) > risk.SessionTimeout() {
		return fmt.Sprintf("Sesión expirada por inactividad (%s risk)", risk), false
	}
	return "", true
}

// checkBehavior looks for bursts of denials or high-risk activity. Query errors fail open.
func (v *Validator) checkBehavior(ctx context.Context, userID string, now time.Time) (string, bool) {
	recent, err := v.events.Query(ctx, userID, repository.Query{Since: now.Add(-BehaviorWindow), Limit: BehaviorLimit})
	if err != nil {
		v.logger.Warn("policy: behavior check unavailable", zap.Error(err), zap.String("user_id", userID), zap.Bool("fail_open", true))
		return "", true
	}
	failureSince := now.Add(-FailureWindow)
	highRiskSince := now.Add(-HighRiskWindow)
	var failures, highRisk int
	for _, e := range recent {
		if !e.Allowed && e.CreatedAt.After(failureSince) {
			failures++
		}
		if e.RiskLevel == domain.RiskHigh && e.CreatedAt.After(highRiskSince) {
			highRisk++
		}
	}
	if failures > MaxRecentFailures {
		return ReasonTooManyFailures, false
	}
	if highRisk > MaxRecentHighRisk {
		return ReasonUnusualHighRisk, false
	}
	return "", true
}

// checkFrequency caps allowed events per action within domain.RateWindow. Query errors fail open.
func (v *Validator) checkFrequency(ctx context.Context, userID string, action domain.Action, now time.Time) (string, bool) {
	allowed := true
	n, err := v.events.Count(ctx, userID, repository.Query{
		Since:   now.Add(-domain.RateWindow),
		Action:  string(action),
		Allowed: &allowed,
	})
	if err != nil {
		v.logger.Warn("policy: frequency check unavailable", zap.Error(err), zap.String("user_id", userID), zap.Bool("fail_open", true))
		return "", true
	}
	if n >= action.RateLimit() {
		return fmt.Sprintf(`Demasiadas solicitudes de "%s" recientemente`, action), false
	}
	return "", true
}

func (v *Validator) deny(ctx context.Context, userID string, req domain.Request, risk domain.RiskLevel, code domain.Code, eventReason, reason string) domain.Result {
	v.events.Append(ctx, &evdomain.Event{
		UserID:    userID,
		Action:    req.Action,
		Resource:  req.Resource,
		RiskLevel: risk,
		Allowed:   false,
		Reason:    eventReason,
		CreatedAt: v.now(),
	})
	v.logger.Info("policy: denied",
		zap.String("user_id", userID),
		zap.String("action", string(req.Action)),
		zap.String("risk_level", string(risk)),
		zap.String("code", string(code)),
		zap.String("reason", eventReason),
	)
	return domain.Deny(code, reason, risk)
}

func (v *Validator) systemError(ctx context.Context, req domain.Request, userID string, err error) domain.Result {
	if userID == "" {
		userID = evdomain.UnknownUserID
	}
	risk := domain.RiskHigh
	if req.RiskLevel.Valid() {
		risk = req.RiskLevel
	}
	v.logger.Error("policy: validation failed", zap.Error(err), zap.String("user_id", userID), zap.String("action", string(req.Action)))
	v.events.Append(ctx, &evdomain.Event{
		UserID:    userID,
		Action:    req.Action,
		Resource:  req.Resource,
		RiskLevel: risk,
		Allowed:   false,
		Reason:    eventReasonSystemPrefix + err.Error(),
		CreatedAt: v.now(),
	})
	return domain.Deny(domain.CodeSystemError, ReasonSystemError, domain.RiskHigh)
}

// Metrics summarizes the user's newest events. Errors yield zero metrics.
func (v *Validator) Metrics(ctx context.Context, userID string) evdomain.Metrics {
	m, err := v.events.Aggregate(ctx, userID)
	if err != nil {
		v.logger.Warn("policy: metrics unavailable", zap.Error(err), zap.String("user_id", userID))
		return evdomain.Metrics{}
	}
	return m
}

// RecentEvents returns the user's newest events. Errors yield an empty list.
func (v *Validator) RecentEvents(ctx context.Context, userID string, limit int) []*evdomain.Event {
	events, err := v.events.RecentEvents(ctx, userID, limit)
	if err != nil {
		v.logger.Warn("policy: recent events unavailable", zap.Error(err), zap.String("user_id", userID))
		return []*evdomain.Event{}
	}
	return events
}

// RequireReauthentication forces a token refresh for the signed-in user.
// It reports false when nobody is signed in or the refresh fails.
func (v *Validator) RequireReauthentication(ctx context.Context) bool {
	sess, err := v.sessions.Current(ctx)
	if err != nil || sess == nil || v.refresher == nil {
		return false
	}
	v.logger.Info("policy: reauthentication required", zap.String("user_id", sess.UserID))
	if _, err := v.refresher.Refresh(ctx); err != nil {
		v.logger.Warn("policy: reauthentication failed", zap.Error(err), zap.String("user_id", sess.UserID))
		return false
	}
	return true
}

// Status reports whether the event log is reachable and whether a user is signed in.
type Status struct {
	EventLogConnected bool
	Authenticated     bool
	UserID            string
}

// Status probes the event log and the session provider. A failed probe reports false.
func (v *Validator) Status(ctx context.Context) Status {
	var st Status
	if err := v.events.Ping(ctx); err != nil {
		v.logger.Warn("policy: event log unreachable", zap.Error(err))
	} else {
		st.EventLogConnected = true
	}
	sess, err := v.sessions.Current(ctx)
	if err != nil {
		v.logger.Warn("policy: session unavailable", zap.Error(err))
	} else if sess != nil {
		st.Authenticated = true
		st.UserID = sess.UserID
	}
	return st
}
