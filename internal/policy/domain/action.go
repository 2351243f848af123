package domain

import "time"

// Action names a user-initiated operation that must pass validation before it runs.
type Action string

// Known actions. Anything else is classified as low risk and rate-limited with DefaultRateLimit.
const (
	ActionAccessHome     Action = "access_home"
	ActionViewWeather    Action = "view_weather"
	ActionTestError      Action = "test_error"
	ActionRefreshStatus  Action = "refresh_status"
	ActionTestAPI        Action = "test_api"
	ActionLogout         Action = "logout"
	ActionViewMap        Action = "view_map"
	ActionToggleWeather  Action = "toggle_weather"
	ActionModifyMFA      Action = "modify_mfa"
	ActionSecureAction   Action = "secure_action"
	ActionChangeSecurity Action = "change_security"
	ActionDeleteAccount  Action = "delete_account"
	ActionChangePhone    Action = "change_phone"
)

// DefaultRisk is the tier for actions not listed in the classification table.
const DefaultRisk = RiskLow

// RateWindow is the window over which RateLimit applies.
const RateWindow = time.Minute

// DefaultRateLimit is the per-minute cap for actions without an explicit limit.
const DefaultRateLimit = 20

var actionRisk = map[Action]RiskLevel{
	ActionAccessHome:     RiskLow,
	ActionViewWeather:    RiskLow,
	ActionTestError:      RiskLow,
	ActionRefreshStatus:  RiskLow,
	ActionTestAPI:        RiskMedium,
	ActionLogout:         RiskMedium,
	ActionViewMap:        RiskMedium,
	ActionToggleWeather:  RiskMedium,
	ActionModifyMFA:      RiskHigh,
	ActionSecureAction:   RiskHigh,
	ActionChangeSecurity: RiskHigh,
	ActionDeleteAccount:  RiskHigh,
	ActionChangePhone:    RiskHigh,
}

// Allowed events per action within RateWindow.
var rateLimits = map[Action]int{
	ActionModifyMFA:    2,
	ActionSecureAction: 5,
	ActionTestAPI:      10,
}

// Known reports whether a is in the classification table.
func (a Action) Known() bool {
	_, ok := actionRisk[a]
	return ok
}

// Risk returns the static tier for a, or DefaultRisk when a is unknown.
func (a Action) Risk() RiskLevel {
	if r, ok := actionRisk[a]; ok {
		return r
	}
	return DefaultRisk
}

// RateLimit returns how many allowed events of a are permitted per RateWindow.
func (a Action) RateLimit() int {
	if n, ok := rateLimits[a]; ok {
		return n
	}
	return DefaultRateLimit
}

func (a Action) String() string { return string(a) }

// Classify returns explicit when it is a valid tier, otherwise the static tier of a.
func Classify(a Action, explicit RiskLevel) RiskLevel {
	if explicit.Valid() {
		return explicit
	}
	return a.Risk()
}
