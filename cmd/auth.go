package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/workflow"
)

func newAuthCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the Google connection of a user",
		Long: `Manage the Google Sheets connection of a user through the OAuth device
flow: start an authorization, check it for approval, show the stored state or
delete the stored credential.`,
	}
	cmd.PersistentFlags().StringVarP(&userID, "user", "u", workflow.DefaultUserID, "User whose connection to manage")

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start or resume a device authorization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				resp := a.engine.Handle(ctx, workflow.Request{UserID: userID, Text: workflow.AuthCommand})
				if err := printResponse(cmd.OutOrStdout(), resp, false); err != nil {
					return err
				}
				if resp.Status == workflow.StateFailed && resp.Failure != nil {
					return fmt.Errorf("authorization failed: %s", resp.Failure.Kind)
				}
				return nil
			})
		},
	})

	var (
		wait     bool
		interval time.Duration
	)
	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Check a pending authorization for approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if wait {
					return waitForAuthorization(ctx, a.auth, userID, interval, out)
				}
				res, err := a.auth.Poll(ctx, userID)
				if err != nil {
					return fmt.Errorf("failed to poll authorization: %w", err)
				}
				_, _ = fmt.Fprintf(out, "status: %s\n", res.Status)
				if res.Prompt != nil {
					_, _ = fmt.Fprintln(out, res.Prompt.Message())
				}
				return nil
			})
		},
	}
	pollCmd.Flags().BoolVar(&wait, "wait", false, "Keep polling until the authorization is approved, declined or expired")
	pollCmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Polling interval with --wait")
	cmd.AddCommand(pollCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				state, err := a.auth.Status(ctx, userID)
				if err != nil {
					return fmt.Errorf("failed to read authorization state: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", userID, describeState(state))
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke",
		Short: "Delete the stored credential and any pending authorization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.auth.Revoke(ctx, userID); err != nil {
					return fmt.Errorf("failed to revoke authorization: %w", err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Google disconnected for user %q.\n", userID)
				return err
			})
		},
	})

	return cmd
}

func describeState(state auth.State) string {
	switch state {
	case auth.StateAuthenticated:
		return "connected"
	case auth.StatePending:
		return "authorization pending (run 'homesheet auth poll')"
	case auth.StateExpired:
		return "credential expired (run 'homesheet auth start')"
	default:
		return "not connected (run 'homesheet auth start')"
	}
}
