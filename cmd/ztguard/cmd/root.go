package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"zero-trust-session-guard/internal/app"
	"zero-trust-session-guard/internal/config"
	"zero-trust-session-guard/internal/logging"
	"zero-trust-session-guard/internal/transport"
)

// errDenied is returned when a validation denies; Execute exits 1 without printing it again.
var errDenied = errors.New("denied")

const signInPrompt = "Sesión finalizada. Inicie sesión nuevamente con `ztguard token set`."

// cli is the state shared by every subcommand of one invocation.
type cli struct {
	envFile string
	appOpts []app.Option
	app     *app.App
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "ztguard",
		Short: "Zero Trust session guard",
		Long: `ztguard stores the session token pair, validates sensitive actions against session
age, recent behavior and per-action rate limits, and sends authorized API requests.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.open,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Optional env file read before the environment")

	root.AddCommand(
		newTokenCmd(c),
		newValidateCmd(c),
		newEventsCmd(c),
		newRequestCmd(c),
		newStatusCmd(c),
	)
	return root
}

// open loads config and wires the app before any subcommand runs.
func (c *cli) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(c.envFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	stderr := cmd.ErrOrStderr()
	nav := transport.NavigatorFunc(func() { fmt.Fprintln(stderr, signInPrompt) })
	opts := append([]app.Option{app.WithNavigator(nav)}, c.appOpts...)
	c.app, err = app.New(cmd.Context(), cfg, logger, opts...)
	return err
}

// run executes one command line and releases the app afterwards.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...app.Option) error {
	c := &cli{appOpts: opts}
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if c.app != nil {
		if cerr := c.app.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
		_ = c.app.Logger.Sync()
	}
	return err
}

// Execute runs the CLI with os.Args and exits non-zero on failure or denial.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err == nil {
		return
	}
	if !errors.Is(err, errDenied) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(1)
}
