package view

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/hooks"
)

type panelRow struct {
	src    Source
	last   domain.Message
	unread int
	notice string
}

// Panel is the compact shell: one summary line per conversation.
type Panel struct {
	out io.Writer
	now func() time.Time

	mu   sync.Mutex
	rows map[string]*panelRow
}

// NewPanel creates an empty panel.
func NewPanel(out io.Writer) *Panel {
	return &Panel{out: out, now: time.Now, rows: make(map[string]*panelRow)}
}

// Track adds a conversation to the panel.
func (p *Panel) Track(src Source) {
	row := &panelRow{src: src}
	if msgs := src.Messages(); len(msgs) > 0 {
		row.last = msgs[len(msgs)-1]
	}
	p.mu.Lock()
	p.rows[src.ID()] = row
	p.mu.Unlock()
}

// Untrack removes a conversation.
func (p *Panel) Untrack(id string) {
	p.mu.Lock()
	delete(p.rows, id)
	p.mu.Unlock()
}

// Bind follows every tracked conversation through hm until the returned
// func is called.
func (p *Panel) Bind(hm *hooks.Manager) func() {
	return bind(hm, "panel", p.handle)
}

func (p *Panel) handle(_ context.Context, pl hooks.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.rows[pl.Conversation()]
	if !ok {
		return nil
	}

	switch pl.Event {
	case hooks.EventMessageReceived:
		if m, ok := payloadMessage(pl); ok {
			row.last = m
			if m.Sender != domain.SenderRepresentative {
				row.unread++
			}
		}
	case hooks.EventMessageSent:
		if m, ok := payloadMessage(pl); ok {
			row.last = m
			row.unread = 0
		}
	case hooks.EventHistoryLoaded:
		if _, prepended := payloadInt(pl, hooks.KeyPrepended); prepended {
			return nil
		}
		if msgs := row.src.Messages(); len(msgs) > 0 {
			row.last = msgs[len(msgs)-1]
		}
	case hooks.EventNotification:
		row.notice, _ = pl.Data[hooks.KeyText].(string)
	case hooks.EventStateChanged:
		if st, ok := pl.Data[hooks.KeyState].(domain.ConnStatus); ok && st.State == domain.StateConnected {
			row.notice = ""
		}
	}
	fmt.Fprintln(p.out, p.formatRow(row))
	return nil
}

// MarkRead clears the unread counter of a conversation.
func (p *Panel) MarkRead(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if row, ok := p.rows[id]; ok {
		row.unread = 0
	}
}

// Unread returns the unread counter of a conversation.
func (p *Panel) Unread(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if row, ok := p.rows[id]; ok {
		return row.unread
	}
	return 0
}

// Render writes every row, sorted by conversation id.
func (p *Panel) Render() {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.rows))
	for id := range p.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintln(p.out, p.formatRow(p.rows[id]))
	}
}

func (p *Panel) formatRow(row *panelRow) string {
	var b strings.Builder
	st := row.src.Status()
	mark := "○"
	if st.State == domain.StateConnected {
		mark = "●"
	}
	fmt.Fprintf(&b, "%s %-16s", mark, row.src.ID())
	if row.src.Escalated() {
		b.WriteString(" ⚑")
	}
	if !row.src.CanSend() {
		b.WriteString(" ⏸")
	}
	if row.unread > 0 {
		fmt.Fprintf(&b, " (%d)", row.unread)
	}
	if row.last.Sender != "" {
		fmt.Fprintf(&b, "  %s: %s", row.last.Sender, truncate(FormatContent(row.last), 48))
		if t, err := row.last.Time(); err == nil {
			fmt.Fprintf(&b, " · %s", Ago(t, p.now()))
		}
	}
	if row.notice != "" {
		fmt.Fprintf(&b, "  ! %s", row.notice)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
