package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskline/deskline/internal/session"
	"github.com/deskline/deskline/internal/view"
)

const tailHelp = `commands:
  <enter>        redraw every row
  /read [id]     clear the unread counter of one or every conversation
  /close <id>    stop following a conversation
  /list          print the followed conversations
  /quit`

// tailRegistry is the part of *session.Registry the tail loop drives.
type tailRegistry interface {
	List() []string
	Count() int
	Close(id string) error
}

func newTailCmd() *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "tail <conversation>...",
		Short: "Follow several conversations in the compact panel view",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			out := cmd.OutOrStdout()
			stack := newClientStack(cfg, log)
			reg := session.NewRegistry(stack.newSession, log)
			defer reg.CloseAll()

			panel := view.NewPanel(out)
			unbind := panel.Bind(stack.hooks)
			defer unbind()

			for _, id := range args {
				s, err := reg.Open(ctx, id)
				if s == nil {
					return fmt.Errorf("open %s: %w", id, err)
				}
				if err != nil {
					log.Warn().Err(err).Str("conversation", id).Msg("history unavailable")
				}
				panel.Track(s)
			}
			panel.Render()

			var tick <-chan time.Time
			if every > 0 {
				ticker := time.NewTicker(every)
				defer ticker.Stop()
				tick = ticker.C
			}
			return tailLoop(ctx, reg, panel, readLines(ctx, cmd.InOrStdin()), tick, out)
		},
	}

	cmd.Flags().DurationVar(&every, "refresh", time.Minute, "redraw every row at this interval (0 disables)")
	return cmd
}

// tailLoop follows the panel until /quit, cancellation or the last
// conversation is closed. End of input keeps following.
func tailLoop(ctx context.Context, reg tailRegistry, panel *view.Panel, lines <-chan string, tick <-chan time.Time, out io.Writer) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			fmt.Fprintln(out, "──")
			panel.Render()
			continue
		case l, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			line = strings.TrimSpace(l)
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "":
			panel.Render()
		case "/quit", "/q":
			return nil
		case "/help", "/?":
			fmt.Fprintln(out, tailHelp)
		case "/list":
			fmt.Fprintf(out, "%d open: %s\n", reg.Count(), strings.Join(reg.List(), ", "))
		case "/read":
			ids := reg.List()
			if arg != "" {
				ids = []string{arg}
			}
			for _, id := range ids {
				panel.MarkRead(id)
			}
			panel.Render()
		case "/close":
			if arg == "" {
				fmt.Fprintln(out, "   usage: /close <id>")
				continue
			}
			panel.Untrack(arg)
			if err := reg.Close(arg); err != nil {
				fmt.Fprintf(out, "   ✖ %v\n", err)
			}
			if reg.Count() == 0 {
				return nil
			}
		default:
			fmt.Fprintf(out, "   unknown command %s, try /help\n", cmd)
		}
	}
}
