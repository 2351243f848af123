package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"zero-trust-session-guard/internal/policy/domain"
)

type validateOutput struct {
	Action    string `json:"action"`
	Allowed   bool   `json:"allowed"`
	RiskLevel string `json:"risk_level"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func newValidateCmd(c *cli) *cobra.Command {
	var resource, risk string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate <action>",
		Short: "Decide whether an action may run now",
		Long: `Runs the Zero Trust validation for an action and records the decision in the
security event log. Exits 1 when the action is denied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.Request{Action: domain.Action(args[0]), Resource: resource}
			if risk != "" {
				level, ok := domain.ParseRiskLevel(risk)
				if !ok {
					return fmt.Errorf("invalid --risk %q: want low, medium or high", risk)
				}
				req.RiskLevel = level
			}

			res := c.app.Validator.ValidateRequest(cmd.Context(), req)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(validateOutput{
					Action:    args[0],
					Allowed:   res.Allowed,
					RiskLevel: string(res.RiskLevel),
					Code:      string(res.Code),
					Reason:    res.Reason,
				}); err != nil {
					return err
				}
			} else if res.Allowed {
				fmt.Fprintf(out, "ALLOWED %s (risk %s)\n", args[0], res.RiskLevel)
			} else {
				fmt.Fprintf(out, "DENIED %s [%s] %s (risk %s)\n", args[0], res.Code, res.Reason, res.RiskLevel)
			}
			if !res.Allowed {
				return errDenied
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "Resource the action targets")
	cmd.Flags().StringVar(&risk, "risk", "", "Override the risk tier: low, medium or high")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the result as JSON")
	return cmd
}
