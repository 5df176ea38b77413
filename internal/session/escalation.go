package session

import (
	"context"
	"fmt"

	"github.com/deskline/deskline/internal/hooks"
)

// SetEscalated hands the conversation to a live representative (true) or
// back to automation (false). The flag flips immediately and is reverted if
// the control plane call fails. Escalating is subject to the messaging
// window; de-escalating is not.
func (s *Session) SetEscalated(ctx context.Context, want bool) error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.escalation == nil {
		s.mu.Unlock()
		return ErrNoEscalation
	}
	if want && !s.gateOpenLocked() {
		s.mu.Unlock()
		return s.fail(ErrWindowClosed)
	}
	prev := s.escalated
	if prev == want {
		s.mu.Unlock()
		return nil
	}
	s.escalated = want
	s.mu.Unlock()

	s.emit(hooks.EventEscalationChanged, map[string]any{hooks.KeyEscalated: want})

	var err error
	if want {
		err = s.escalation.Escalate(ctx, s.id)
	} else {
		err = s.escalation.Deescalate(ctx, s.id)
	}
	if err == nil {
		s.log.Info().Bool("escalated", want).Msg("escalation updated")
		return nil
	}

	s.mu.Lock()
	reverted := s.escalated == want
	if reverted {
		s.escalated = prev
	}
	s.mu.Unlock()

	if reverted {
		s.emit(hooks.EventEscalationChanged, map[string]any{hooks.KeyEscalated: prev})
	}
	action := "escalate"
	if !want {
		action = "de-escalate"
	}
	return s.fail(fmt.Errorf("%s: %w", action, err))
}
