package domain

// Code identifies why a request was denied. It is empty for allowed requests.
type Code string

const (
	CodeUnauthenticated    Code = "unauthenticated"
	CodeSessionExpired     Code = "session_expired"
	CodeSuspiciousBehavior Code = "suspicious_behavior"
	CodeRateLimited        Code = "rate_limited"
	CodeReauthRequired     Code = "reauth_required"
	CodePrivilegeDenied    Code = "privilege_denied"
	CodeSystemError        Code = "system_error"
)

// Request is the input to a validation: the action, an optional resource, and an optional explicit tier.
type Request struct {
	Action    Action
	Resource  string
	RiskLevel RiskLevel
}

// Result is the outcome of a validation. Denials carry a human-readable Reason and a Code.
type Result struct {
	Allowed   bool
	Reason    string
	RiskLevel RiskLevel
	Code      Code
}

// Allow returns an allowed result for risk.
func Allow(risk RiskLevel) Result {
	return Result{Allowed: true, RiskLevel: risk}
}

// Deny returns a denied result.
func Deny(code Code, reason string, risk RiskLevel) Result {
	return Result{Allowed: false, Reason: reason, RiskLevel: risk, Code: code}
}
