package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"zero-trust-session-guard/internal/token"
)

func newTokenCmd(c *cli) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored session token pair",
	}

	var access, refresh string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the token pair issued at sign-in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Tokens.Save(cmd.Context(), token.Pair{AccessToken: access, RefreshToken: refresh}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tokens stored.")
			return nil
		},
	}
	setCmd.Flags().StringVar(&access, "access", "", "Access token (JWT)")
	setCmd.Flags().StringVar(&refresh, "refresh", "", "Refresh token; keeps the stored one when empty")
	_ = setCmd.MarkFlagRequired("access")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored tokens and the session they describe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			access, err := c.app.Tokens.AccessToken(ctx)
			if err != nil {
				return err
			}
			_, hasRefresh, err := c.app.Store.Get(ctx, token.RefreshTokenKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "access token:  %s\n", mask(access))
			fmt.Fprintf(out, "refresh token: %s\n", presence(hasRefresh))

			sess, err := c.app.Sessions.Current(ctx)
			if err != nil {
				return err
			}
			if sess == nil {
				fmt.Fprintln(out, "session:       signed out")
				return nil
			}
			verified := "unverified"
			if sess.EmailVerified {
				verified = "verified"
			}
			fmt.Fprintf(out, "user:          %s (%s, %s)\n", sess.UserID, sess.Email, verified)
			if sess.HasSignInTime() {
				fmt.Fprintf(out, "signed in:     %s (%s ago)\n",
					sess.LastSignInTime.Format(time.RFC3339), sess.Age(time.Now()).Round(time.Second))
			}
			return nil
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.app.Tokens.Refresh(cmd.Context()); err != nil {
				if errors.Is(err, token.ErrNoRefreshToken) {
					fmt.Fprintln(cmd.ErrOrStderr(), signInPrompt)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tokens refreshed.")
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete both stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Tokens.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tokens cleared.")
			return nil
		},
	}

	tokenCmd.AddCommand(setCmd, showCmd, refreshCmd, clearCmd)
	return tokenCmd
}

// mask shows enough of a token to tell tokens apart.
func mask(tok string) string {
	if tok == "" {
		return "none"
	}
	if len(tok) <= 12 {
		return "****"
	}
	return tok[:8] + "…" + tok[len(tok)-4:]
}

func presence(ok bool) string {
	if ok {
		return "stored"
	}
	return "none"
}
