// Package view renders chat sessions for a terminal. Both shells read the
// session through Source and follow it through hook events; neither holds
// conversation state of its own beyond what it has drawn.
package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/hooks"
)

// Source is the read side of a chat session. *session.Session satisfies it.
type Source interface {
	ID() string
	Messages() []domain.Message
	Status() domain.ConnStatus
	Escalated() bool
	CanSend() bool
	HasMore() bool
}

// boundEvents are the session events both shells follow.
var boundEvents = []string{
	hooks.EventHistoryLoaded,
	hooks.EventMessageReceived,
	hooks.EventMessageSent,
	hooks.EventStateChanged,
	hooks.EventEscalationChanged,
	hooks.EventNotification,
}

// bind registers fn for every bound event under name and returns a func
// that removes the registrations.
func bind(hm *hooks.Manager, name string, fn hooks.Handler) func() {
	for _, ev := range boundEvents {
		hm.On(ev, name, fn)
	}
	return func() {
		for _, ev := range boundEvents {
			hm.Off(ev, name)
		}
	}
}

// FormatMessage renders one message as a single line.
func FormatMessage(m domain.Message) string {
	clock := m.Timestamp
	if t, err := m.Time(); err == nil {
		clock = t.Local().Format("15:04")
	}
	return fmt.Sprintf("%s %-14s %s", clock, m.Sender, FormatContent(m))
}

// FormatContent renders message content, spelling out media references.
func FormatContent(m domain.Message) string {
	caption, url, image, ok := domain.DecodeMediaContent(m.Content)
	if !ok {
		return strings.ReplaceAll(m.Content, "\n", " ⏎ ")
	}
	kind := m.Kind
	if image {
		kind = domain.KindImage
	}
	if kind == "" || kind == domain.KindText {
		kind = domain.KindDocument
	}
	if caption == "" {
		return fmt.Sprintf("[%s] %s", kind, url)
	}
	return fmt.Sprintf("[%s] %s <%s>", kind, caption, url)
}

// FormatStatus renders the connection indicator.
func FormatStatus(st domain.ConnStatus) string {
	switch st.State {
	case domain.StateConnected:
		return "● connected"
	case domain.StateConnecting:
		return "○ connecting"
	}
	label := "○ " + string(st.State)
	switch {
	case st.Exhausted:
		label += " · gave up, /reconnect to retry"
	case st.NextRetry > 0:
		label += fmt.Sprintf(" · retry %d in %s", st.Attempt, st.NextRetry)
	}
	if st.LastError != "" {
		label += " (" + st.LastError + ")"
	}
	return label
}

// Ago renders t relative to now, e.g. "3 minutes ago".
func Ago(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func payloadMessage(p hooks.Payload) (domain.Message, bool) {
	m, ok := p.Data[hooks.KeyMessage].(domain.Message)
	return m, ok
}

func payloadInt(p hooks.Payload, key string) (int, bool) {
	n, ok := p.Data[key].(int)
	return n, ok
}
