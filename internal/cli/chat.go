package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/session"
	"github.com/deskline/deskline/internal/view"
)

const chatHelp = `commands:
  /older               load the previous page of history
  /up [n], /down [n]   scroll the transcript
  /escalate            hand the conversation to a live representative
  /deescalate          hand it back to automation
  /reconnect           retry the live connection
  /attach path [caption]
  /quit
anything else is sent as a message`

// chatSession is the part of *session.Session the chat loop drives.
type chatSession interface {
	Send(ctx context.Context, text string) (domain.Message, error)
	SendMedia(ctx context.Context, name string, r io.Reader, caption string) (domain.Message, error)
	LoadOlder(ctx context.Context) (int, error)
	SetEscalated(ctx context.Context, want bool) error
	Reconnect() error
}

// scroller is the part of *view.Transcript the chat loop drives.
type scroller interface {
	Up(n int)
	Down(n int)
}

func newChatCmd() *cobra.Command {
	var height int

	cmd := &cobra.Command{
		Use:   "chat <conversation>",
		Short: "Open a conversation in the full transcript view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			out := cmd.OutOrStdout()
			stack := newClientStack(cfg, log)
			s, err := stack.newSession(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			tr := view.NewTranscript(out, s, height)
			unbind := tr.Bind(stack.hooks)
			defer unbind()

			if err := s.Open(ctx); err != nil {
				// History failures leave the session usable; the transcript
				// already shows the warning.
				log.Warn().Err(err).Msg("history unavailable")
			}
			fmt.Fprintln(out, tr.Header())

			return chatLoop(ctx, s, tr, readLines(ctx, cmd.InOrStdin()), out)
		},
	}

	cmd.Flags().IntVar(&height, "height", 20, "transcript lines shown at a time")
	return cmd
}

// readLines delivers input lines until r is exhausted or ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// chatLoop runs input lines against the session until /quit, end of input
// or cancellation. Session failures are reported through hook
// notifications, so only local problems are printed here.
func chatLoop(ctx context.Context, s chatSession, sc scroller, lines <-chan string, out io.Writer) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := s.Send(ctx, line); err != nil {
				log.Debug().Err(err).Msg("send failed")
			}
			continue
		}

		cmd, rest, _ := strings.Cut(line[1:], " ")
		rest = strings.TrimSpace(rest)
		switch cmd {
		case "quit", "q":
			return nil
		case "help", "?":
			fmt.Fprintln(out, chatHelp)
		case "older":
			if _, err := s.LoadOlder(ctx); err != nil {
				log.Debug().Err(err).Msg("load older failed")
			}
		case "up":
			sc.Up(count(rest))
		case "down":
			sc.Down(count(rest))
		case "escalate", "deescalate":
			if err := s.SetEscalated(ctx, cmd == "escalate"); errors.Is(err, session.ErrNoEscalation) {
				fmt.Fprintf(out, "   ✖ %v\n", err)
			}
		case "reconnect":
			if err := s.Reconnect(); err != nil {
				fmt.Fprintf(out, "   ✖ %v\n", err)
			}
		case "attach":
			if err := attach(ctx, s, rest); err != nil {
				fmt.Fprintf(out, "   ✖ %v\n", err)
			}
		default:
			fmt.Fprintf(out, "   unknown command /%s, try /help\n", cmd)
		}
	}
}

// attach sends the file named by the first word of args with the rest as
// caption. Validation and upload errors are notified by the session.
func attach(ctx context.Context, s chatSession, args string) error {
	path, caption, _ := strings.Cut(args, " ")
	if path == "" {
		return errors.New("usage: /attach path [caption]")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := s.SendMedia(ctx, filepath.Base(path), f, strings.TrimSpace(caption)); err != nil {
		log.Debug().Err(err).Str("file", path).Msg("attach failed")
	}
	return nil
}

func count(s string) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return 5
}
