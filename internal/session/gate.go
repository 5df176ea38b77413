package session

import (
	"time"

	"github.com/deskline/deskline/internal/domain"
)

// DefaultWindow is how long after a customer's last message outbound
// messages remain allowed. The provider's limit is 24h; an hour of margin
// is kept locally.
const DefaultWindow = 23 * time.Hour

// WindowOpen reports whether a reply is allowed at now, given the newest
// customer message time. A customer timestamp in the future counts as open.
func WindowOpen(lastCustomer time.Time, found bool, now time.Time, window time.Duration) bool {
	if !found {
		return false
	}
	return now.Sub(lastCustomer) <= window
}

// GateOpen applies WindowOpen to a message list.
func GateOpen(msgs []domain.Message, now time.Time, window time.Duration) bool {
	w := NewWindow()
	for _, m := range msgs {
		w.AppendUnique(m)
	}
	last, found := w.LatestFrom(domain.SenderCustomer)
	return WindowOpen(last, found, now, window)
}
