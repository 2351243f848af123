package session

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"zero-trust-session-guard/internal/session/domain"
)

// tokenSource is a fixed AccessTokenSource.
type tokenSource struct {
	token string
	err   error
}

func (s tokenSource) AccessToken(context.Context) (string, error) { return s.token, s.err }

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func publicPEM(t *testing.T, key *ecdsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, key *ecdsa.PrivateKey, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestClaimsProvider_NoToken(t *testing.T) {
	p := NewClaimsProvider(tokenSource{})
	s, err := p.Current(context.Background())
	if err != nil || s != nil {
		t.Errorf("Current = %v, %v; want nil, nil", s, err)
	}
}

func TestClaimsProvider_SourceError(t *testing.T) {
	want := errors.New("store locked")
	p := NewClaimsProvider(tokenSource{err: want})
	if _, err := p.Current(context.Background()); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestClaimsProvider_UnverifiedClaims(t *testing.T) {
	authTime := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tok := sign(t, newKey(t), Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(authTime.Add(time.Hour)),
			ExpiresAt: jwt.NewNumericDate(authTime.Add(-time.Hour)), // expired tokens still name the user
		},
		Email:         "a@example.com",
		EmailVerified: true,
		AuthTime:      jwt.NewNumericDate(authTime),
		SessionID:     "sess-1",
	})

	s, err := NewClaimsProvider(tokenSource{token: tok}).Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if s.UserID != "user-1" || s.Email != "a@example.com" || !s.EmailVerified || s.SessionID != "sess-1" {
		t.Errorf("session = %+v", s)
	}
	if !s.LastSignInTime.Equal(authTime) {
		t.Errorf("LastSignInTime = %v, want auth_time %v", s.LastSignInTime, authTime)
	}
}

func TestClaimsProvider_FallsBackToIssuedAt(t *testing.T) {
	iat := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tok := sign(t, newKey(t), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", IssuedAt: jwt.NewNumericDate(iat)}})
	s, err := NewClaimsProvider(tokenSource{token: tok}).Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !s.LastSignInTime.Equal(iat) {
		t.Errorf("LastSignInTime = %v, want %v", s.LastSignInTime, iat)
	}
}

func TestClaimsProvider_NoSignInTime(t *testing.T) {
	tok := sign(t, newKey(t), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}})
	s, err := NewClaimsProvider(tokenSource{token: tok}).Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if s.HasSignInTime() {
		t.Error("session should report no sign-in time")
	}
}

func TestClaimsProvider_InvalidTokens(t *testing.T) {
	key := newKey(t)
	tests := []struct {
		name  string
		token string
		opts  []ClaimsOption
	}{
		{"garbage", "not-a-jwt", nil},
		{"missing subject", sign(t, key, Claims{Email: "x@example.com"}), nil},
		{"wrong issuer", sign(t, key, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "evil"}}), []ClaimsOption{WithIssuer("idp")}},
		{"wrong key", sign(t, newKey(t), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}), []ClaimsOption{WithVerificationKey(&key.PublicKey)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClaimsProvider(tokenSource{token: tt.token}, tt.opts...).Current(context.Background())
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestClaimsProvider_VerifiedWithPEMKey(t *testing.T) {
	key := newKey(t)
	path := filepath.Join(t.TempDir(), "idp.pem")
	if err := os.WriteFile(path, []byte(publicPEM(t, key)), 0o600); err != nil {
		t.Fatal(err)
	}
	pub, err := ParsePublicKey(path)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	tok := sign(t, key, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "idp",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})

	s, err := NewClaimsProvider(tokenSource{token: tok}, WithVerificationKey(pub), WithIssuer("idp")).Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if s.UserID != "user-1" {
		t.Errorf("UserID = %q", s.UserID)
	}
}

func TestParsePublicKey(t *testing.T) {
	key := newKey(t)
	inline := publicPEM(t, key)
	if _, err := ParsePublicKey(inline); err != nil {
		t.Errorf("inline PEM: %v", err)
	}
	for _, bad := range []string{"", "-----BEGIN PUBLIC KEY-----\nnope\n-----END PUBLIC KEY-----"} {
		if _, err := ParsePublicKey(bad); err == nil {
			t.Errorf("ParsePublicKey(%q) should fail", bad)
		}
	}
	if _, err := ParsePublicKey(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestProviderFunc(t *testing.T) {
	called := false
	p := ProviderFunc(func(context.Context) (*domain.Session, error) {
		called = true
		return nil, nil
	})
	_, _ = p.Current(context.Background())
	if !called {
		t.Error("ProviderFunc not invoked")
	}
}
