package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"zero-trust-session-guard/internal/transport"
)

func newRequestCmd(c *cli) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "request <METHOD> <path>",
		Short: "Send an authorized JSON request to the API",
		Long: `Sends a request with the stored bearer token. A 401 is retried once after a
token refresh; a 403 or a second 401 ends the session.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in any
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				in = json.RawMessage(data)
			}
			var out json.RawMessage
			err := c.app.Transport.DoJSON(cmd.Context(), strings.ToUpper(args[0]), args[1], in, &out)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), transport.UserMessage(err))
				return err
			}
			if len(out) == 0 {
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	return cmd
}
