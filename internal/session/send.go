package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/hooks"
)

// Send delivers a text reply. With the realtime connection up the text is
// written to the gateway and appended to the window right away; otherwise it
// goes through the history service and is appended only if that succeeds.
func (s *Session) Send(ctx context.Context, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	return s.deliver(ctx, text, domain.KindText)
}

func (s *Session) deliver(ctx context.Context, content string, kind domain.Kind) (domain.Message, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return domain.Message{}, err
	}
	if !s.gateOpenLocked() {
		s.mu.Unlock()
		return domain.Message{}, s.fail(ErrWindowClosed)
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.mu.Unlock()
		return domain.Message{}, s.fail(ErrRateLimited)
	}

	msg := domain.Message{
		Sender:    domain.SenderRepresentative,
		Content:   content,
		Kind:      kind,
		Timestamp: domain.FormatTimestamp(s.clock.Now()),
	}

	conn := s.conn
	if conn != nil && s.status.State == domain.StateConnected {
		added := s.msgs.AppendUnique(msg)
		s.mu.Unlock()

		err := conn.WriteText(content)
		if err == nil {
			s.log.Debug().Str("via", "realtime").Msg("message sent")
			s.emit(hooks.EventMessageSent, map[string]any{hooks.KeyMessage: msg})
			return msg, nil
		}
		s.log.Warn().Err(err).Msg("realtime write failed, falling back to http")
		if added {
			s.mu.Lock()
			s.msgs.Remove(msg.Key())
			s.mu.Unlock()
		}
	} else {
		s.mu.Unlock()
	}

	return s.sendHTTP(ctx, msg)
}

func (s *Session) sendHTTP(ctx context.Context, msg domain.Message) (domain.Message, error) {
	sent, err := s.history.Send(ctx, s.id, domain.SendRequest{
		Content: msg.Content,
		Sender:  msg.Sender,
		Kind:    msg.Kind,
		Name:    s.representative,
	})
	if err != nil {
		return domain.Message{}, s.fail(fmt.Errorf("send message: %w", err))
	}
	if sent.Timestamp == "" || sent.Sender == "" {
		sent = msg
	}
	if sent.Kind == "" {
		sent.Kind = msg.Kind
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return sent, nil
	}
	s.msgs.AppendUnique(sent)
	s.mu.Unlock()

	s.log.Debug().Str("via", "http").Msg("message sent")
	s.emit(hooks.EventMessageSent, map[string]any{hooks.KeyMessage: sent})
	return sent, nil
}
