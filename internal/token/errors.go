package token

import (
	"errors"
	"fmt"
)

// ErrRefreshFailed is the parent of every refresh failure.
var ErrRefreshFailed = errors.New("token: refresh failed")

var (
	// ErrNoRefreshToken is returned by Refresh when no refresh token is stored.
	ErrNoRefreshToken = fmt.Errorf("%w: no refresh token stored", ErrRefreshFailed)
	// ErrRefreshRejected is returned when the refresh exchange did not yield a new access token.
	ErrRefreshRejected = fmt.Errorf("%w: exchange rejected", ErrRefreshFailed)
)
