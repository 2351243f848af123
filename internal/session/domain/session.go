package domain

import "time"

// Session is the signed-in user as reported by the identity provider. It is derived
// from the current access token and never persisted.
type Session struct {
	UserID        string
	Email         string
	EmailVerified bool
	// SessionID is the identity provider's session identifier, if the token carries one.
	SessionID string
	// LastSignInTime is zero when the provider did not report one.
	LastSignInTime time.Time
}

// HasSignInTime reports whether the provider reported a sign-in time.
func (s *Session) HasSignInTime() bool {
	return s != nil && !s.LastSignInTime.IsZero()
}

// Age returns how long ago the user last signed in.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.LastSignInTime)
}
