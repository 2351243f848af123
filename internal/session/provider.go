// Package session exposes the current signed-in user to the validator.
package session

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"zero-trust-session-guard/internal/session/domain"
)

// ErrInvalidToken is returned when the stored access token cannot be read as a session.
var ErrInvalidToken = errors.New("session: invalid access token")

// Provider reports the current session. Current returns (nil, nil) when no user is signed in.
type Provider interface {
	Current(ctx context.Context) (*domain.Session, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*domain.Session, error)

func (f ProviderFunc) Current(ctx context.Context) (*domain.Session, error) { return f(ctx) }

// AccessTokenSource returns the stored access token, or "" when none is stored.
type AccessTokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Claims are the identity provider claims read from the access token.
type Claims struct {
	jwt.RegisteredClaims
	Email         string           `json:"email,omitempty"`
	EmailVerified bool             `json:"email_verified,omitempty"`
	AuthTime      *jwt.NumericDate `json:"auth_time,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
}

// ClaimsProvider derives the session from the claims of the stored access token.
// Expiry is not enforced here: an expired token still names the user, and the
// transport refreshes it on the next 401.
type ClaimsProvider struct {
	tokens AccessTokenSource
	key    crypto.PublicKey
	issuer string
}

// ClaimsOption configures a ClaimsProvider.
type ClaimsOption func(*ClaimsProvider)

// WithVerificationKey makes the provider verify token signatures with pub (RS256 or ES256).
// Without it, claims are read unverified; the API server remains the authority on the token.
func WithVerificationKey(pub crypto.PublicKey) ClaimsOption {
	return func(p *ClaimsProvider) { p.key = pub }
}

// WithIssuer rejects tokens whose iss differs from issuer.
func WithIssuer(issuer string) ClaimsOption {
	return func(p *ClaimsProvider) { p.issuer = issuer }
}

// NewClaimsProvider returns a provider reading tokens from src.
func NewClaimsProvider(src AccessTokenSource, opts ...ClaimsOption) *ClaimsProvider {
	p := &ClaimsProvider{tokens: src}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Current parses the stored access token. No token means no session.
func (p *ClaimsProvider) Current(ctx context.Context) (*domain.Session, error) {
	raw, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	claims, err := p.parse(raw)
	if err != nil {
		return nil, err
	}
	if p.issuer != "" && claims.Issuer != p.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	var last time.Time
	switch {
	case claims.AuthTime != nil:
		last = claims.AuthTime.Time
	case claims.IssuedAt != nil:
		last = claims.IssuedAt.Time
	}
	return &domain.Session{
		UserID:         claims.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		SessionID:      claims.SessionID,
		LastSignInTime: last,
	}, nil
}

func (p *ClaimsProvider) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	if p.key == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return claims, nil
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return p.key, nil
	}, jwt.WithValidMethods([]string{keyAlg(p.key)}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
