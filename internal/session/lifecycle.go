package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/hooks"
)

// stateEvent is a status change captured under the lock and emitted after
// it is released. A non-zero dialGen starts a dial once the change is out,
// so listeners never see connected before connecting.
type stateEvent struct {
	status  domain.ConnStatus
	dialGen uint64
}

// Backoff returns the delay before automatic retry number attempt (0-based).
func Backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// Reconnect starts a new connection attempt and resets the retry budget.
// It is a no-op while a connection is up or being established.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.dialer == nil {
		s.mu.Unlock()
		return errors.New("session: no realtime gateway configured")
	}
	switch s.status.State {
	case domain.StateConnected, domain.StateConnecting:
		s.mu.Unlock()
		return nil
	}
	s.attempt = 0
	ev := s.startConnectLocked()
	s.mu.Unlock()

	s.log.Info().Msg("manual reconnect")
	s.emitState(ev)
	return nil
}

// startConnectLocked moves to connecting under a fresh generation and
// cancels any pending retry. The dial itself starts in emitState.
func (s *Session) startConnectLocked() *stateEvent {
	s.stopRetryLocked()
	s.gen++
	s.status = domain.ConnStatus{State: domain.StateConnecting, Attempt: s.attempt}
	return &stateEvent{status: s.status, dialGen: s.gen}
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Session) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	conn, err := s.dialer.Dial(ctx, s.id)
	cancel()

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close(domain.CloseNormal, "superseded")
		}
		return
	}
	if err != nil {
		state := domain.StateError
		if errors.Is(err, context.DeadlineExceeded) {
			state = domain.StateDisconnected
		}
		ev := s.failLocked(state, err)
		s.mu.Unlock()
		s.log.Warn().Err(err).Int("attempt", ev.status.Attempt).Msg("realtime connect failed")
		s.emitState(ev)
		return
	}

	s.conn = conn
	s.attempt = 0
	resync := s.everUp
	s.everUp = true
	s.status = domain.ConnStatus{State: domain.StateConnected}
	ev := &stateEvent{status: s.status}
	s.mu.Unlock()

	s.log.Info().Msg("realtime connected")
	s.emitState(ev)
	go s.readLoop(gen, conn)
	if resync {
		go s.resync(gen)
	}
}

func (s *Session) readLoop(gen uint64, conn domain.RealtimeConn) {
	for {
		data, err := conn.Read()
		if err != nil {
			s.connLost(gen, conn, err)
			return
		}
		s.receive(gen, data)
	}
}

// receive decodes one inbound frame and appends it unless it is already in
// the window.
func (s *Session) receive(gen uint64, data []byte) {
	var m domain.Message
	if err := json.Unmarshal(data, &m); err != nil {
		s.log.Warn().Err(err).Msg("dropping undecodable frame")
		return
	}
	if err := m.Validate(); err != nil {
		s.log.Warn().Err(err).Msg("dropping invalid frame")
		return
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	added := s.msgs.AppendUnique(m)
	s.mu.Unlock()

	if !added {
		s.log.Debug().Str("sender", m.Sender).Msg("duplicate message dropped")
		return
	}
	s.emit(hooks.EventMessageReceived, map[string]any{hooks.KeyMessage: m})
}

func (s *Session) connLost(gen uint64, conn domain.RealtimeConn, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	var ev *stateEvent
	if errors.Is(err, domain.ErrNormalClosure) {
		s.status = domain.ConnStatus{State: domain.StateDisconnected}
		ev = &stateEvent{status: s.status}
	} else {
		ev = s.failLocked(domain.StateError, err)
	}
	s.mu.Unlock()

	_ = conn.Close(domain.CloseNormal, "")
	s.log.Info().Err(err).Str("state", string(ev.status.State)).Msg("realtime connection lost")
	s.emitState(ev)
}

// failLocked records a failed cycle and schedules the next automatic
// attempt, or marks the retry budget exhausted.
func (s *Session) failLocked(state domain.ConnState, err error) *stateEvent {
	s.status = domain.ConnStatus{State: state, LastError: err.Error()}
	if s.attempt >= s.maxRetries {
		s.status.Exhausted = true
		s.status.Attempt = s.attempt
		return &stateEvent{status: s.status}
	}
	delay := Backoff(s.attempt)
	s.attempt++
	s.status.Attempt = s.attempt
	s.status.NextRetry = delay

	gen := s.gen
	s.stopRetryLocked()
	s.retry = s.clock.AfterFunc(delay, func() { s.retryFired(gen) })
	return &stateEvent{status: s.status}
}

func (s *Session) retryFired(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.retry == nil {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	ev := s.startConnectLocked()
	s.mu.Unlock()
	s.emitState(ev)
}

// resync merges messages that arrived while the connection was down.
// Only messages not older than the current tail are appended so the window
// stays ordered.
func (s *Session) resync(gen uint64) {
	page, err := s.history.History(context.Background(), s.id, 1, s.pageSize)
	if err != nil {
		s.warn(err)
		return
	}

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	var tail time.Time
	if last, ok := s.msgs.Last(); ok {
		tail, _ = last.Time()
	}
	var added []domain.Message
	for i := len(page.Messages) - 1; i >= 0; i-- {
		m := page.Messages[i]
		if t, err := m.Time(); err != nil || t.Before(tail) {
			continue
		}
		if s.msgs.AppendUnique(m) {
			added = append(added, m)
		}
	}
	s.mu.Unlock()

	for _, m := range added {
		s.emit(hooks.EventMessageReceived, map[string]any{hooks.KeyMessage: m})
	}
}

func (s *Session) emitState(ev *stateEvent) {
	if ev == nil {
		return
	}
	s.emit(hooks.EventStateChanged, map[string]any{hooks.KeyState: ev.status})
	if ev.dialGen != 0 {
		go s.dial(ev.dialGen)
	}
}
