package engine

import (
	"context"

	policydomain "zero-trust-session-guard/internal/policy/domain"
)

// PrivilegeInput is what privilege rules see about the request and the user.
type PrivilegeInput struct {
	Action        policydomain.Action
	Resource      string
	RiskLevel     policydomain.RiskLevel
	UserID        string
	Email         string
	EmailVerified bool
}

// PrivilegeDecision is the outcome of the action-specific precondition check.
type PrivilegeDecision struct {
	Allowed bool
	// Reason is the first denial reason when Allowed is false.
	Reason string
}

// Evaluator checks action-specific preconditions.
type Evaluator interface {
	EvaluatePrivilege(ctx context.Context, in PrivilegeInput) (PrivilegeDecision, error)
}
