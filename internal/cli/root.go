// Package cli implements leadsctl, the operator command line for order
// recovery, lead replacement, refunds and suppression reconciliation.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xavierca1/lead-market/internal/app"
	"github.com/xavierca1/lead-market/internal/config"
	"github.com/xavierca1/lead-market/internal/infra/http/middleware"
	"github.com/xavierca1/lead-market/internal/infra/logger"
	"github.com/xavierca1/lead-market/internal/usecase"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	Token  string

	// NewApp builds the runtime. Tests replace it with a memory-backed app.
	NewApp func(ctx context.Context) (*app.App, error)
}

var ValidFormats = []string{"text", "json"}

func defaultApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger.NewWithWriter(os.Stderr, cfg.LogLevel))
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{NewApp: defaultApp})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leadsctl",
		Short: "Operator tools for the lead marketplace",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("LEADSCTL_TOKEN"), "admin token, resolved against ADMIN_TOKENS")

	cmd.AddCommand(newRecoverCommand(opts))
	cmd.AddCommand(newRecoverStuckCommand(opts))
	cmd.AddCommand(newReplaceLeadsCommand(opts))
	cmd.AddCommand(newRefundCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withApp builds the runtime, attaches the operator identity and runs fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := opts.NewApp(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer a.Close()

	if opts.Token != "" {
		tokens, err := middleware.ParseAdminTokens(a.Cfg.AdminTokens)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid ADMIN_TOKENS", err)
		}
		if actor, ok := tokens.Lookup(opts.Token); ok {
			ctx = usecase.WithActor(ctx, actor)
		}
	}
	return fn(ctx, a)
}
