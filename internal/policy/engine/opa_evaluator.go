package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const privilegeQuery = "data.ztguard.privilege.deny"

// ReasonEmailNotVerified is the denial reason for MFA changes by an unverified email.
const ReasonEmailNotVerified = "Verificación de email requerida para modificar MFA"

// Default Rego policy. Custom policies must keep the package name and expose a
// deny set of reason strings.
const defaultRegoPolicy = `package ztguard.privilege

deny contains "Verificación de email requerida para modificar MFA" if {
	input.action == "modify_mfa"
	not input.user.email_verified
}
`

// OPAEvaluator evaluates privilege rules with OPA Rego. The query is prepared once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles module, or the default policy when module is empty.
func NewOPAEvaluator(ctx context.Context, module string) (*OPAEvaluator, error) {
	if module == "" {
		module = defaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"privilege.rego": module})
	if err != nil {
		return nil, fmt.Errorf("policy: compile privilege policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(privilegeQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: prepare privilege query: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// NewOPAEvaluatorFromFile loads the Rego module at path; an empty path selects the default policy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// HealthCheck evaluates the prepared query against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluatePrivilege(ctx, PrivilegeInput{Action: "access_home", RiskLevel: "low"})
	return err
}

// EvaluatePrivilege returns a denial when the policy's deny set is non-empty.
// Evaluation errors are returned to the caller, which must treat them as a denial.
func (e *OPAEvaluator) EvaluatePrivilege(ctx context.Context, in PrivilegeInput) (PrivilegeDecision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return PrivilegeDecision{}, fmt.Errorf("policy: eval privilege: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		// Undefined deny set: nothing matched.
		return PrivilegeDecision{Allowed: true}, nil
	}
	raw, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return PrivilegeDecision{}, errors.New("policy: deny is not a set")
	}
	reasons := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return PrivilegeDecision{}, fmt.Errorf("policy: deny reason %v is not a string", v)
		}
		reasons = append(reasons, s)
	}
	if len(reasons) == 0 {
		return PrivilegeDecision{Allowed: true}, nil
	}
	sort.Strings(reasons)
	return PrivilegeDecision{Allowed: false, Reason: reasons[0]}, nil
}

func buildInput(in PrivilegeInput) map[string]interface{} {
	return map[string]interface{}{
		"action":     string(in.Action),
		"resource":   in.Resource,
		"risk_level": string(in.RiskLevel),
		"user": map[string]interface{}{
			"id":             in.UserID,
			"email":          in.Email,
			"email_verified": in.EmailVerified,
		},
	}
}
