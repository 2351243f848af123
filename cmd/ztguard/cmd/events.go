package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"zero-trust-session-guard/internal/securityevent"
	"zero-trust-session-guard/internal/securityevent/domain"
)

func newEventsCmd(c *cli) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the security event log",
	}

	var user string
	var limit int
	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's newest events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := c.userOrCurrent(cmd, user)
			if err != nil {
				return err
			}
			events := c.app.Validator.RecentEvents(cmd.Context(), userID, limit)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}
	listCmd.Flags().StringVar(&user, "user", "", "User ID; defaults to the signed-in user")
	listCmd.Flags().IntVar(&limit, "limit", securityevent.DefaultRecentLimit, "Maximum number of events")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Output events as JSON")

	var metricsUser string
	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize a user's recent events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := c.userOrCurrent(cmd, metricsUser)
			if err != nil {
				return err
			}
			m := c.app.Validator.Metrics(cmd.Context(), userID)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:      %s\n", userID)
			fmt.Fprintf(out, "total:     %d\n", m.TotalEvents)
			fmt.Fprintf(out, "allowed:   %d\n", m.AllowedEvents)
			fmt.Fprintf(out, "denied:    %d\n", m.DeniedEvents)
			fmt.Fprintf(out, "high risk: %d\n", m.HighRiskEvents)
			if !m.LastEventAt.IsZero() {
				fmt.Fprintf(out, "last:      %s\n", m.LastEventAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	metricsCmd.Flags().StringVar(&metricsUser, "user", "", "User ID; defaults to the signed-in user")

	var olderThan time.Duration
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			age := olderThan
			if age <= 0 {
				age = c.app.Config.Retention()
			}
			n, err := c.app.Events.Cleanup(cmd.Context(), age)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d event(s) older than %s.\n", n, age)
			return nil
		},
	}
	cleanupCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff; defaults to EVENT_RETENTION_DAYS")

	eventsCmd.AddCommand(listCmd, metricsCmd, cleanupCmd)
	return eventsCmd
}

// userOrCurrent returns user, or the signed-in user when user is empty.
func (c *cli) userOrCurrent(cmd *cobra.Command, user string) (string, error) {
	if user != "" {
		return user, nil
	}
	sess, err := c.app.Sessions.Current(cmd.Context())
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", errors.New("no user signed in; pass --user")
	}
	return sess.UserID, nil
}

func printEvents(w io.Writer, events []*domain.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tRISK\tVERDICT\tREASON")
	for _, e := range events {
		verdict := "DENIED"
		if e.Allowed {
			verdict = "ALLOWED"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Action, e.RiskLevel, verdict, e.Reason)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
