package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xavierca1/lead-market/internal/app"
	"github.com/xavierca1/lead-market/internal/infra/http/handlers"
	"github.com/xavierca1/lead-market/internal/usecase"
)

// decodePayload fills dst from --payload when given. Flags set explicitly
// win over payload fields.
func decodePayload(payload string, dst any) error {
	if payload == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return WrapExitError(ExitCommandError, "invalid --payload", err)
	}
	return nil
}

func newRecoverCommand(opts *RootOptions) *cobra.Command {
	var (
		input   usecase.RecoverFromPaymentInput
		payload string
	)
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Rebuild the order for a payment whose webhook never completed",
		Example: `  leadsctl recover --payment-intent pi_3Nx...
  leadsctl recover --payload '{"payment_intent_id":"pi_3Nx..."}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flagValue := input.PaymentIntentID
			if err := decodePayload(payload, &input); err != nil {
				return err
			}
			if cmd.Flags().Changed("payment-intent") {
				input.PaymentIntentID = flagValue
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Recover.Execute(ctx, input)
				return printResult(cmd.OutOrStdout(), opts.Format, report, err)
			})
		},
	}
	cmd.Flags().StringVar(&input.PaymentIntentID, "payment-intent", "", "payment intent id (pi_...)")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON input")
	return cmd
}

func newRecoverStuckCommand(opts *RootOptions) *cobra.Command {
	var (
		input   usecase.RecoverStuckOrderInput
		payload string
	)
	cmd := &cobra.Command{
		Use:   "recover-stuck",
		Short: "Resume an order left in processing by a failed run",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := input
			if err := decodePayload(payload, &input); err != nil {
				return err
			}
			if cmd.Flags().Changed("order-id") {
				input.OrderID = flags.OrderID
			}
			if cmd.Flags().Changed("payment-intent") {
				input.PaymentIntentID = flags.PaymentIntentID
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, err := a.RecoverStuck.Execute(ctx, input)
				return printResult(cmd.OutOrStdout(), opts.Format, report, err)
			})
		},
	}
	cmd.Flags().StringVar(&input.OrderID, "order-id", "", "pending order id")
	cmd.Flags().StringVar(&input.PaymentIntentID, "payment-intent", "", "payment intent id (pi_...)")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON input")
	return cmd
}

func newReplaceLeadsCommand(opts *RootOptions) *cobra.Command {
	var (
		orderID string
		req     handlers.ReplaceLeadsRequest
		payload string
	)
	cmd := &cobra.Command{
		Use:   "replace-leads",
		Short: "Swap leads in a completed order for fresh leads of the same type",
		Example: `  leadsctl replace-leads --order-id 6f1c... --reject-state CA --reject-state NY
  leadsctl replace-leads --order-id 6f1c... --payload '{"reject_states":["CA"],"allow_states":["TX","FL"]}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := req
			if err := decodePayload(payload, &req); err != nil {
				return err
			}
			if cmd.Flags().Changed("reject-state") {
				req.RejectStates = flags.RejectStates
			}
			if cmd.Flags().Changed("allow-state") {
				req.AllowStates = flags.AllowStates
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				out, err := a.Replace.Execute(ctx, req.Input(orderID))
				return printResult(cmd.OutOrStdout(), opts.Format, out, err)
			})
		},
	}
	cmd.Flags().StringVar(&orderID, "order-id", "", "completed order id")
	cmd.Flags().StringSliceVar(&req.RejectStates, "reject-state", nil, "state whose leads are replaced (repeatable)")
	cmd.Flags().StringSliceVar(&req.AllowStates, "allow-state", nil, "restrict replacements to these states (repeatable)")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON input")
	_ = cmd.MarkFlagRequired("order-id")
	return cmd
}

func newRefundCommand(opts *RootOptions) *cobra.Command {
	var (
		input   usecase.RefundInput
		payload string
	)
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Refund part or all of a payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := input
			if err := decodePayload(payload, &input); err != nil {
				return err
			}
			if cmd.Flags().Changed("payment-reference") {
				input.PaymentReference = flags.PaymentReference
			}
			if cmd.Flags().Changed("amount-cents") {
				input.AmountCents = flags.AmountCents
			}
			if cmd.Flags().Changed("reason") {
				input.Reason = flags.Reason
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				out, err := a.Refund.Execute(ctx, input)
				return printResult(cmd.OutOrStdout(), opts.Format, out, err)
			})
		},
	}
	cmd.Flags().StringVar(&input.PaymentReference, "payment-reference", "", "payment intent id (pi_...)")
	cmd.Flags().Int64Var(&input.AmountCents, "amount-cents", 0, "amount to refund in cents")
	cmd.Flags().StringVar(&input.Reason, "reason", "", "operator note kept with the refund")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON input")
	return cmd
}

func newReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Write missing suppression records and list stale processing orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				summary, err := a.Reconcile.Execute(ctx)
				return printResult(cmd.OutOrStdout(), opts.Format, summary, err)
			})
		},
	}
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return WrapExitError(ExitFailure, "migration failed", err)
				}
				if opts.Format == "json" {
					return printResult(cmd.OutOrStdout(), opts.Format, map[string]string{"schema": "applied"}, nil)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			})
		},
	}
}
