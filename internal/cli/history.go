package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deskline/deskline/internal/view"
)

func newHistoryCmd() *cobra.Command {
	var (
		page     int
		pageSize int
		purge    bool
	)

	cmd := &cobra.Command{
		Use:   "history <conversation>",
		Short: "Print one page of a conversation's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			id := args[0]
			stack := newClientStack(cfg, log)

			if purge {
				if err := stack.backend.Purge(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(out, "Purged %s\n", id)
				return nil
			}

			if pageSize <= 0 {
				pageSize = cfg.Session.PageSize
			}
			res, err := stack.backend.History(cmd.Context(), id, page, pageSize)
			if err != nil {
				return err
			}
			if len(res.Messages) == 0 {
				fmt.Fprintln(out, "(no messages)")
				return nil
			}
			// Pages arrive newest first.
			for i := len(res.Messages) - 1; i >= 0; i-- {
				fmt.Fprintln(out, view.FormatMessage(res.Messages[i]))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number, 1 is the newest")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "messages per page (default from config)")
	cmd.Flags().BoolVar(&purge, "purge", false, "delete every message of the conversation")
	return cmd
}
