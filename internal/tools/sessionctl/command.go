package sessionctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fitpulse/session-service/internal/tools/common"
	"github.com/fitpulse/session-service/internal/tools/loadgen"
	"github.com/fitpulse/session-service/internal/tools/ui"
)

type options struct {
	baseURL    string
	adminToken string
	envFile    string
	timeout    time.Duration
	ci         bool
}

// NewRootCommand builds the sessionctl CLI. Admin subcommands call the
// service's admin HTTP routes with the configured bearer token.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "sessionctl",
		Short: "Operate a running session service instance",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(opts.envFile); err != nil {
				return err
			}
			if opts.adminToken == "" {
				opts.adminToken = os.Getenv("SESSIONCTL_ADMIN_TOKEN")
			}
			if v := os.Getenv("SESSIONCTL_BASE_URL"); v != "" && !cmd.Flags().Changed("base-url") {
				opts.baseURL = v
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "session service base URL")
	cmd.PersistentFlags().StringVar(&opts.adminToken, "admin-token", "", "admin bearer token (or SESSIONCTL_ADMIN_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file with SESSIONCTL_* defaults")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(
		newRevokeSessionCommand(opts),
		newRevokeUserCommand(opts),
		newCleanupCommand(opts),
		newLoadcheckCommand(opts),
	)
	return cmd
}

func newRevokeSessionCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-session <session-id>",
		Short: "Revoke a single session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(opts, "revoke-session", func(ctx context.Context) ([]string, error) {
				body, err := postAdmin(ctx, opts, "/api/v1/admin/revoke_session", map[string]string{"session_id": args[0]})
				if err != nil {
					return nil, err
				}
				return []string{"session " + args[0] + " revoked", body}, nil
			})
		},
	}
}

func newRevokeUserCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-user <user-id>",
		Short: "Revoke every session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(opts, "revoke-user", func(ctx context.Context) ([]string, error) {
				body, err := postAdmin(ctx, opts, "/api/v1/admin/revoke_user_sessions", map[string]string{"userId": args[0]})
				if err != nil {
					return nil, err
				}
				return []string{"sessions revoked for user " + args[0], body}, nil
			})
		},
	}
}

func newCleanupCommand(opts *options) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sessions past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(opts, "cleanup", func(ctx context.Context) ([]string, error) {
				payload := map[string]int{}
				if days > 0 {
					payload["days"] = days
				}
				body, err := postAdmin(ctx, opts, "/api/v1/admin/cleanup_refresh_tokens", payload)
				if err != nil {
					return nil, err
				}
				return []string{body}, nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "override retention window in days")
	return cmd
}

func newLoadcheckCommand(opts *options) *cobra.Command {
	var (
		profile     string
		duration    time.Duration
		rps         int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "loadcheck",
		Short: "Generate traffic and verify the service stays healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(opts, "loadcheck", func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:     opts.baseURL,
					Profile:     profile,
					Duration:    duration,
					RPS:         rps,
					Concurrency: concurrency,
					Seed:        42,
				})
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("traffic generated total=%d failures=%d classes=%v", res.TotalRequests, res.Failures, res.StatusClasses)}
				if res.Failures > 0 {
					return details, fmt.Errorf("%d requests failed", res.Failures)
				}
				if err := checkHealth(ctx, opts); err != nil {
					return details, err
				}
				details = append(details, "health probes: ok")
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "mixed", "traffic profile: mixed, refresh or health")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "run duration")
	cmd.Flags().IntVar(&rps, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "worker count")
	return cmd
}

func runAdmin(opts *options, check string, fn func(context.Context) ([]string, error)) error {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		details, err := fn(ctx)
		common.PrintCIResult(err == nil, check, details, err)
		return err
	}
	_, err := ui.Run("sessionctl "+check, fn)
	return err
}

func postAdmin(ctx context.Context, opts *options, path string, payload any) (string, error) {
	if opts.adminToken == "" {
		return "", fmt.Errorf("admin token is required (use --admin-token or SESSIONCTL_ADMIN_TOKEN)")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(opts.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+opts.adminToken)

	resp, err := (&http.Client{Timeout: opts.timeout}).Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func checkHealth(ctx context.Context, opts *options) error {
	for _, path := range []string{"/health/live", "/health/ready"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(opts.baseURL, "/")+path, nil)
		if err != nil {
			return err
		}
		resp, err := (&http.Client{Timeout: opts.timeout}).Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s returned %s", path, resp.Status)
		}
	}
	return nil
}
