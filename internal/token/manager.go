// Package token owns the access/refresh token pair: reading, saving, clearing,
// and a single-flight refresh exchange.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"zero-trust-session-guard/internal/logging"
	"zero-trust-session-guard/internal/securestore"
	"zero-trust-session-guard/internal/telemetry"
)

// Secure store keys for the token pair.
const (
	AccessTokenKey  = "session:accessToken"
	RefreshTokenKey = "session:refreshToken"
)

const defaultRefreshTimeout = 15 * time.Second

// Pair is an access/refresh token pair.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Exchanger trades a refresh token for a new pair. It must not go through the
// authorized transport.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (Pair, error)
}

// Manager reads and writes the token pair and coalesces concurrent refreshes into one exchange.
type Manager struct {
	store     securestore.Store
	exchanger Exchanger
	logger    *zap.Logger
	recorder  *telemetry.Recorder
	timeout   time.Duration

	// mu keeps pair writes atomic relative to reads.
	mu    sync.RWMutex
	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder records refresh outcomes on r.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithRefreshTimeout bounds a single refresh exchange.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewManager returns a Manager over store. logger may be nil.
func NewManager(store securestore.Store, exchanger Exchanger, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		exchanger: exchanger,
		logger:    logging.OrNop(logger),
		timeout:   defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AccessToken returns the stored access token, or "" when none is stored.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, _, err := m.store.Get(ctx, AccessTokenKey)
	if err != nil {
		return "", fmt.Errorf("token: read access token: %w", err)
	}
	return v, nil
}

// Save stores p after login, registration or refresh. An empty refresh token keeps the stored one.
func (m *Manager) Save(ctx context.Context, p Pair) error {
	if p.AccessToken == "" {
		return errors.New("token: access token is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(ctx, AccessTokenKey, p.AccessToken); err != nil {
		return fmt.Errorf("token: write access token: %w", err)
	}
	if p.RefreshToken == "" {
		return nil
	}
	if err := m.store.Set(ctx, RefreshTokenKey, p.RefreshToken); err != nil {
		return fmt.Errorf("token: write refresh token: %w", err)
	}
	return nil
}

// Clear removes both tokens. Clearing an empty store is not an error.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(
		m.store.Remove(ctx, AccessTokenKey),
		m.store.Remove(ctx, RefreshTokenKey),
	)
}

// Refresh exchanges the stored refresh token for a new pair and returns the new access token.
// Concurrent callers share one in-flight exchange and all observe its outcome. A caller whose
// ctx ends returns early; the exchange itself keeps running for the others.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	ch := m.group.DoChan("refresh", func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.refresh(runCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "Token.Refresh")
	defer span.End()

	access, err := m.exchange(ctx)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNoRefreshToken):
		outcome = "no_refresh_token"
	case errors.Is(err, ErrRefreshRejected):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	m.recorder.Refresh(ctx, outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("token: refresh failed", zap.Error(err), zap.String("outcome", outcome))
		return "", err
	}
	m.logger.Debug("token: refreshed")
	return access, nil
}

func (m *Manager) exchange(ctx context.Context) (string, error) {
	m.mu.RLock()
	refreshToken, ok, err := m.store.Get(ctx, RefreshTokenKey)
	m.mu.RUnlock()
	if err != nil {
		return "", fmt.Errorf("%w: read refresh token: %w", ErrRefreshFailed, err)
	}
	if !ok || refreshToken == "" {
		return "", ErrNoRefreshToken
	}
	if m.exchanger == nil {
		return "", fmt.Errorf("%w: no exchanger configured", ErrRefreshRejected)
	}

	pair, err := m.exchanger.Exchange(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrRefreshRejected, err)
	}
	if pair.AccessToken == "" {
		return "", fmt.Errorf("%w: response carried no access token", ErrRefreshRejected)
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	if err := m.Save(ctx, pair); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return pair.AccessToken, nil
}
