package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/tools/housing_tools"
	"github.com/teemow/homesheet/internal/workflow"
)

// requestOptions holds the flags shared by search and followup.
type requestOptions struct {
	userID       string
	jsonOutput   bool
	waitAuth     bool
	pollInterval time.Duration
}

func (o *requestOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.userID, "user", "u", workflow.DefaultUserID, "User the request runs for")
	cmd.Flags().BoolVar(&o.jsonOutput, "json", false, "Print the full response as JSON")
	cmd.Flags().BoolVar(&o.waitAuth, "wait-auth", false, "When Google authorization is required, wait for approval and re-run the request")
	cmd.Flags().DurationVar(&o.pollInterval, "poll-interval", 5*time.Second, "Interval between authorization checks with --wait-auth")
}

func newSearchCmd() *cobra.Command {
	var opts requestOptions
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Run a housing search and create a results sheet",
		Example: `  homesheet search "2 bedroom apartment in Austin under $2500"
  homesheet search --user alice --wait-auth "house in Denver with a garage"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, workflow.RequestSearch, strings.Join(args, " "))
		},
	}
	opts.register(cmd)
	return cmd
}

func newFollowupCmd() *cobra.Command {
	var opts requestOptions
	cmd := &cobra.Command{
		Use:   "followup MESSAGE...",
		Short: "Refine the previous search of a user",
		Long: `Send a follow-up message for the previous search of a user. Sessions live
in process memory, so follow-ups only see earlier requests of a running
server; from the command line they start a fresh session.`,
		Example: `  homesheet followup --user alice "only show places with parking"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, workflow.RequestFollowup, strings.Join(args, " "))
		},
	}
	opts.register(cmd)
	return cmd
}

// withApp builds the service graph for a single command and tears it down
// afterwards. The context is cancelled on SIGINT and SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(ctx, a)
}

func runRequest(cmd *cobra.Command, opts requestOptions, typ workflow.RequestType, text string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		req := workflow.Request{UserID: opts.userID, Text: text, Type: typ}

		resp := a.engine.Handle(ctx, req)
		if resp.Status == workflow.StateAuthRequired && opts.waitAuth {
			if err := printResponse(out, resp, opts.jsonOutput); err != nil {
				return err
			}
			if err := waitForAuthorization(ctx, a.auth, opts.userID, opts.pollInterval, out); err != nil {
				return err
			}
			resp = a.engine.Handle(ctx, req)
		}

		if err := printResponse(out, resp, opts.jsonOutput); err != nil {
			return err
		}
		if resp.Status == workflow.StateFailed && resp.Failure != nil {
			return fmt.Errorf("request failed: %s", resp.Failure.Kind)
		}
		return nil
	})
}

func printResponse(w io.Writer, resp workflow.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	_, err := fmt.Fprintln(w, housing_tools.ChatReply(resp))
	return err
}

// poller is the part of the auth manager waitForAuthorization needs.
type poller interface {
	Poll(ctx context.Context, userID string) (auth.PollResult, error)
}

// waitForAuthorization polls the pending device authorization of userID
// until it is approved, declined or expired.
func waitForAuthorization(ctx context.Context, p poller, userID string, interval time.Duration, w io.Writer) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		res, err := p.Poll(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to poll authorization: %w", err)
		}
		switch res.Status {
		case auth.PollAuthenticated:
			_, _ = fmt.Fprintln(w, "Google authorization complete.")
			return nil
		case auth.PollPending:
			continue
		default:
			return fmt.Errorf("authorization ended without approval: %s", res.Status)
		}
	}
}
