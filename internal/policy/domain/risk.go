package domain

import (
	"strings"
	"time"
)

// RiskLevel is the coarse tier that drives session freshness and reauthentication requirements.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Maximum session age per tier, measured from the last sign-in.
var sessionTimeouts = map[RiskLevel]time.Duration{
	RiskLow:    24 * time.Hour,
	RiskMedium: 8 * time.Hour,
	RiskHigh:   2 * time.Hour,
}

// ReauthWindow is how recent the last sign-in must be for a high-risk action.
const ReauthWindow = 5 * time.Minute

// ParseRiskLevel parses "low", "medium" or "high" (case-insensitive).
func ParseRiskLevel(s string) (RiskLevel, bool) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Valid reports whether r is one of the three known tiers.
func (r RiskLevel) Valid() bool {
	_, ok := sessionTimeouts[r]
	return ok
}

// SessionTimeout returns the maximum session age for r. Unknown tiers get the strictest timeout.
func (r RiskLevel) SessionTimeout() time.Duration {
	if d, ok := sessionTimeouts[r]; ok {
		return d
	}
	return sessionTimeouts[RiskHigh]
}

func (r RiskLevel) String() string { return string(r) }
