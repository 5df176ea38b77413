package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/session"
)

func newEscalateCmd() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "escalate <conversation>",
		Short: "Hand a conversation to a live representative, or back with --off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			stack := newClientStack(cfg, log)

			meta, err := stack.backend.Meta(ctx, id)
			if err != nil {
				return err
			}
			if meta.EscalationStatus == !off {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already %s\n", id, escalationLabel(!off))
				return nil
			}

			if off {
				err = stack.backend.Deescalate(ctx, id)
			} else {
				last, perr := domain.ParseTimestamp(meta.LastCustomerAt)
				if !session.WindowOpen(last, perr == nil, time.Now(), cfg.Session.Window()) {
					return session.ErrWindowClosed
				}
				err = stack.backend.Escalate(ctx, id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", id, escalationLabel(!off))
			return nil
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "hand the conversation back to automation")
	return cmd
}

func escalationLabel(escalated bool) string {
	if escalated {
		return "escalated"
	}
	return "handled by automation"
}
