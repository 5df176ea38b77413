package session

import (
	"slices"
	"time"

	"github.com/deskline/deskline/internal/domain"
)

// Window is the materialized, oldest-first message list of one conversation.
// It is not safe for concurrent use; Session guards it with its own lock.
type Window struct {
	msgs []domain.Message
	keys map[domain.MessageKey]struct{}
}

// NewWindow returns an empty window.
func NewWindow() *Window {
	return &Window{keys: make(map[domain.MessageKey]struct{})}
}

// Reset replaces the window with a newest-first history page.
func (w *Window) Reset(newestFirst []domain.Message) {
	w.msgs = w.msgs[:0]
	clear(w.keys)
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		if _, dup := w.keys[m.Key()]; dup {
			continue
		}
		w.keys[m.Key()] = struct{}{}
		w.msgs = append(w.msgs, m)
	}
}

// Prepend adds an older newest-first page in front of the window. Messages
// already present are skipped because page boundaries shift as live messages
// arrive. It returns how many messages were added.
func (w *Window) Prepend(newestFirst []domain.Message) int {
	older := make([]domain.Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		if _, dup := w.keys[m.Key()]; dup {
			continue
		}
		w.keys[m.Key()] = struct{}{}
		older = append(older, m)
	}
	if len(older) > 0 {
		w.msgs = append(older, w.msgs...)
	}
	return len(older)
}

// AppendUnique appends m unless a message with the same key is present.
func (w *Window) AppendUnique(m domain.Message) bool {
	k := m.Key()
	if _, dup := w.keys[k]; dup {
		return false
	}
	w.keys[k] = struct{}{}
	w.msgs = append(w.msgs, m)
	return true
}

// Remove drops the message with key k. Used to undo an optimistic append.
func (w *Window) Remove(k domain.MessageKey) bool {
	if _, ok := w.keys[k]; !ok {
		return false
	}
	delete(w.keys, k)
	for i := len(w.msgs) - 1; i >= 0; i-- {
		if w.msgs[i].Key() == k {
			w.msgs = slices.Delete(w.msgs, i, i+1)
			break
		}
	}
	return true
}

// Contains reports whether a message with key k is in the window.
func (w *Window) Contains(k domain.MessageKey) bool {
	_, ok := w.keys[k]
	return ok
}

// Len returns the number of messages.
func (w *Window) Len() int { return len(w.msgs) }

// Messages returns a copy of the window, oldest first.
func (w *Window) Messages() []domain.Message {
	return slices.Clone(w.msgs)
}

// Last returns the newest message in window order.
func (w *Window) Last() (domain.Message, bool) {
	if len(w.msgs) == 0 {
		return domain.Message{}, false
	}
	return w.msgs[len(w.msgs)-1], true
}

// LatestFrom returns the time of the most recent message from sender.
// Messages with unparseable timestamps are ignored.
func (w *Window) LatestFrom(sender string) (time.Time, bool) {
	var (
		latest time.Time
		found  bool
	)
	for _, m := range w.msgs {
		if m.Sender != sender {
			continue
		}
		t, err := m.Time()
		if err != nil {
			continue
		}
		if !found || t.After(latest) {
			latest, found = t, true
		}
	}
	return latest, found
}
