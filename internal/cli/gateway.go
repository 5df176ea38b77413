package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deskline/deskline/internal/config"
	"github.com/deskline/deskline/internal/gateway"
	"github.com/deskline/deskline/internal/hooks"
	"github.com/deskline/deskline/internal/store"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run or feed the development backend",
	}

	cmd.AddCommand(newGatewayRunCmd())
	cmd.AddCommand(newGatewayInboundCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port   int
		bind   string
		driver string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the development backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if driver != "" {
				cfg.Gateway.StoreDriver = driver
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data dirs: %w", err)
			}

			st, err := store.OpenStore(cfg.Gateway.StoreDriver, paths.Data, log)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()
			log.Info().Str("driver", cfg.Gateway.StoreDriver).Str("data", paths.Data).Msg("message store ready")

			hookMgr := hooks.NewManager(log)
			hookMgr.On(hooks.EventGatewayStart, "cli", func(_ context.Context, p hooks.Payload) error {
				fmt.Fprintf(cmd.OutOrStdout(), "gateway listening on %v\n", p.Data["addr"])
				return nil
			})

			srv := gateway.New(cfg, st, log,
				gateway.WithHooks(hookMgr),
				gateway.WithMediaDir(paths.Media),
			)

			ctx, stop := signalContext()
			defer stop()
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, auto, custom)")
	cmd.Flags().StringVar(&driver, "store", "", "override store driver (sqlite, memory)")

	return cmd
}

func newGatewayInboundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbound <conversation> <text>...",
		Short: "Store a customer message on the backend, as the WhatsApp webhook would",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack := newClientStack(cfg, log)
			msg, err := stack.backend.Inbound(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stored at %s\n", msg.Sender, msg.Timestamp)
			return nil
		},
	}
}
