package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report event log connectivity and the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := c.app.Validator.Status(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "event log (%s): %s\n", c.app.Config.EventLogBackend, connected(st.EventLogConnected))
			policy := "ready"
			if err := c.app.Privilege.HealthCheck(cmd.Context()); err != nil {
				policy = "error: " + err.Error()
			}
			fmt.Fprintf(out, "privilege policy: %s\n", policy)
			if st.Authenticated {
				fmt.Fprintf(out, "session:        signed in as %s\n", st.UserID)
			} else {
				fmt.Fprintln(out, "session:        signed out")
			}
			return nil
		},
	}
}

func connected(ok bool) string {
	if ok {
		return "connected"
	}
	return "unreachable"
}
