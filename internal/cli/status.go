package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskline/deskline/internal/config"
	"github.com/deskline/deskline/internal/version"
)

func newStatusCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deskline status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Deskline %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Media:   %s\n", paths.Media)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "         (config file not found, using defaults)")
			}
			fmt.Fprintln(out)

			auth := "none"
			if cfg.Backend.Token != "" {
				auth = "bearer"
			}
			fmt.Fprintf(out, "Backend: %s auth=%s timeout=%s retries=%d\n",
				cfg.Backend.BaseURL, auth, cfg.Backend.RequestTimeoutDuration(), cfg.Backend.Retries)
			fmt.Fprintf(out, "Stream:  %s\n", cfg.Backend.GatewayURL)

			sc := cfg.Session
			fmt.Fprintf(out, "Session: representative=%q pageSize=%d connectTimeout=%s maxRetries=%d window=%s\n",
				sc.Representative, sc.PageSize, sc.ConnectTimeoutDuration(), sc.MaxRetries, sc.Window())
			fmt.Fprintf(out, "Gateway: port=%d bind=%s store=%s\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.StoreDriver)

			if probe {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				stack := newClientStack(cfg, log)
				if _, err := stack.backend.History(ctx, "status-probe", 1, 1); err != nil {
					fmt.Fprintf(out, "Probe:   backend unreachable: %v\n", err)
				} else {
					fmt.Fprintln(out, "Probe:   backend ok")
				}
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "check that the backend answers")
	return cmd
}
