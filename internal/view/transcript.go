package view

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/hooks"
)

// Transcript is the full-page shell: one conversation, every message, and
// the connection and escalation indicators.
type Transcript struct {
	src Source
	out io.Writer

	mu     sync.Mutex
	lines  []string
	drawn  map[domain.MessageKey]bool
	scroll *Scroll
}

// NewTranscript creates a transcript of src showing height lines at a time.
func NewTranscript(out io.Writer, src Source, height int) *Transcript {
	return &Transcript{
		src:    src,
		out:    out,
		drawn:  make(map[domain.MessageKey]bool),
		scroll: NewScroll(height),
	}
}

// Bind follows src through hm until the returned func is called.
func (t *Transcript) Bind(hm *hooks.Manager) func() {
	return bind(hm, "transcript:"+t.src.ID(), t.handle)
}

func (t *Transcript) handle(_ context.Context, p hooks.Payload) error {
	if p.Conversation() != t.src.ID() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch p.Event {
	case hooks.EventHistoryLoaded:
		if n, ok := payloadInt(p, hooks.KeyPrepended); ok {
			above, fresh := t.sync()
			t.scroll.Prepend(above)
			switch {
			case n > 0:
				t.printf("── %d earlier messages ──\n", n)
			case !t.src.HasMore():
				t.printf("── start of conversation ──\n")
			}
			t.showNew(fresh)
			t.scroll.SetTotal(len(t.lines))
			return nil
		}
		t.sync()
		t.scroll.Reset(len(t.lines))
		t.renderLocked()

	case hooks.EventMessageReceived, hooks.EventMessageSent:
		m, ok := payloadMessage(p)
		if !ok || t.drawn[m.Key()] {
			return nil
		}
		t.lines = append(t.lines, FormatMessage(m))
		t.drawn[m.Key()] = true
		t.showNew([]domain.Message{m})
		t.scroll.SetTotal(len(t.lines))

	case hooks.EventStateChanged:
		if st, ok := p.Data[hooks.KeyState].(domain.ConnStatus); ok {
			t.printf("   %s\n", FormatStatus(st))
		}

	case hooks.EventEscalationChanged:
		if esc, _ := p.Data[hooks.KeyEscalated].(bool); esc {
			t.printf("   ⚑ escalated to a representative\n")
		} else {
			t.printf("   ⚐ handled by automation\n")
		}

	case hooks.EventNotification:
		text, _ := p.Data[hooks.KeyText].(string)
		if sev, _ := p.Data[hooks.KeySeverity].(string); sev == hooks.SeverityError {
			t.printf("   ✖ %s\n", text)
		} else {
			t.printf("   ! %s\n", text)
		}
	}
	return nil
}

// sync rebuilds the lines from the session window. It returns how many
// lines now sit above the first line drawn before, and the messages below
// the last drawn one that were never drawn. Their message events arrive
// later and are skipped. With nothing drawn before, both are zero.
func (t *Transcript) sync() (above int, fresh []domain.Message) {
	msgs := t.src.Messages()
	first, last := -1, -1
	for i, m := range msgs {
		if t.drawn[m.Key()] {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if last >= 0 {
		above = first
		for _, m := range msgs[last+1:] {
			if !t.drawn[m.Key()] {
				fresh = append(fresh, m)
			}
		}
	}

	t.lines = make([]string, len(msgs))
	t.drawn = make(map[domain.MessageKey]bool, len(msgs))
	for i, m := range msgs {
		t.lines[i] = FormatMessage(m)
		t.drawn[m.Key()] = true
	}
	return above, fresh
}

// showNew accounts for messages added below the content, printing them if
// the viewport follows the bottom.
func (t *Transcript) showNew(msgs []domain.Message) {
	if len(msgs) == 0 {
		return
	}
	if t.scroll.Append(len(msgs)) {
		for _, m := range msgs {
			t.printf("%s\n", FormatMessage(m))
		}
		return
	}
	for _, m := range msgs {
		t.printf("   ↓ new message from %s\n", m.Sender)
	}
}

// Render redraws the visible lines.
func (t *Transcript) Render() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderLocked()
}

func (t *Transcript) renderLocked() {
	start, end := t.scroll.Visible()
	if start > 0 {
		t.printf("   ↑ %d earlier\n", start)
	} else if t.src.HasMore() {
		t.printf("   ↑ /older for more\n")
	}
	for _, l := range t.lines[start:end] {
		t.printf("%s\n", l)
	}
	if below := len(t.lines) - end; below > 0 {
		t.printf("   ↓ %d newer\n", below)
	}
}

// Up scrolls toward older messages and redraws.
func (t *Transcript) Up(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scroll.Up(n)
	t.renderLocked()
}

// Down scrolls toward newer messages and redraws.
func (t *Transcript) Down(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scroll.Down(n)
	t.renderLocked()
}

// Header renders the indicators line.
func (t *Transcript) Header() string {
	esc := "automation"
	if t.src.Escalated() {
		esc = "escalated"
	}
	send := "replies open"
	if !t.src.CanSend() {
		send = "window closed"
	}
	return fmt.Sprintf("%s · %s · %s · %s", t.src.ID(), FormatStatus(t.src.Status()), esc, send)
}

// Lines returns a copy of the rendered message lines, oldest first.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// Offset returns the scroll offset.
func (t *Transcript) Offset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scroll.Offset()
}

func (t *Transcript) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}
