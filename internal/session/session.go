// Package session implements the chat session client: one open
// conversation with its realtime connection, message window, escalation
// flag and outbound send path.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/hooks"
	"github.com/deskline/deskline/internal/logging"
)

var (
	ErrWindowClosed = errors.New("session: the customer's last message is older than the messaging window")
	ErrEmptyMessage = errors.New("session: message is empty")
	ErrRateLimited  = errors.New("session: sending too fast")
	ErrClosed       = errors.New("session: closed")
	ErrNotOpen      = errors.New("session: not open")
	ErrNoEscalation = errors.New("session: escalation control plane not configured")
)

const (
	DefaultPageSize       = 20
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxRetries     = 5
)

// Options configures a Session. History is required; Dialer and Escalation
// may be nil, in which case the session is HTTP-only or cannot escalate.
type Options struct {
	ConversationID string
	// Representative is the display name sent along with outbound messages.
	Representative string

	PageSize       int
	ConnectTimeout time.Duration
	MaxRetries     int
	Window         time.Duration
	// SendRate is outbound messages per second; zero disables limiting.
	SendRate  float64
	SendBurst int

	History    domain.HistoryService
	Escalation domain.EscalationService
	Dialer     domain.RealtimeDialer

	Hooks  *hooks.Manager
	Clock  Clock
	Logger *logging.Logger
}

// Session is one open conversation.
type Session struct {
	id             string
	representative string
	pageSize       int
	connectTimeout time.Duration
	maxRetries     int
	window         time.Duration

	history    domain.HistoryService
	escalation domain.EscalationService
	dialer     domain.RealtimeDialer
	hooks      *hooks.Manager
	clock      Clock
	limiter    *rate.Limiter
	log        *logging.Logger

	mu           sync.Mutex
	msgs         *Window
	status       domain.ConnStatus
	conn         domain.RealtimeConn
	gen          uint64
	attempt      int
	retry        Timer
	everUp       bool
	escalated    bool
	opened       bool
	closed       bool
	loadingOlder bool
	hasMore      bool
	nextPage     int
}

// New creates a session. Nothing touches the network until Open.
func New(opts Options) (*Session, error) {
	if opts.ConversationID == "" {
		return nil, errors.New("session: conversation id is required")
	}
	if opts.History == nil {
		return nil, errors.New("session: history service is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(nil, "silent")
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	s := &Session{
		id:             opts.ConversationID,
		representative: opts.Representative,
		pageSize:       opts.PageSize,
		connectTimeout: opts.ConnectTimeout,
		maxRetries:     opts.MaxRetries,
		window:         opts.Window,
		history:        opts.History,
		escalation:     opts.Escalation,
		dialer:         opts.Dialer,
		hooks:          opts.Hooks,
		clock:          opts.Clock,
		log:            opts.Logger.Sub("session").With("conversation", opts.ConversationID),
		msgs:           NewWindow(),
		status:         domain.ConnStatus{State: domain.StateDisconnected},
		hasMore:        true,
		nextPage:       1,
	}
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}
	return s, nil
}

// ID returns the conversation id.
func (s *Session) ID() string { return s.id }

// Open loads the most recent history page and the escalation flag, then
// starts the realtime connection. A history error is returned and reported
// as a warning; the connection is started regardless.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.mu.Unlock()

	s.emit(hooks.EventSessionOpen, nil)

	var (
		page             domain.HistoryPage
		meta             domain.ConversationMeta
		histErr, metaErr error
		g                errgroup.Group
	)
	g.Go(func() error {
		page, histErr = s.history.History(ctx, s.id, 1, s.pageSize)
		return histErr
	})
	if s.escalation != nil {
		g.Go(func() error {
			meta, metaErr = s.escalation.Meta(ctx, s.id)
			return metaErr
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if histErr == nil {
		s.msgs.Reset(page.Messages)
		s.nextPage = 2
		s.hasMore = len(page.Messages) > 0
	}
	if s.escalation != nil && metaErr == nil {
		s.escalated = meta.EscalationStatus
	}
	loaded := s.msgs.Len()
	escalated := s.escalated
	var ev *stateEvent
	if s.dialer != nil {
		ev = s.startConnectLocked()
	}
	s.mu.Unlock()

	if histErr == nil {
		s.log.Debug().Int("messages", loaded).Msg("history loaded")
		s.emit(hooks.EventHistoryLoaded, map[string]any{hooks.KeyMessages: loaded})
	} else {
		s.warn(fmt.Errorf("load history: %w", histErr))
	}
	if metaErr != nil {
		s.warn(fmt.Errorf("load conversation: %w", metaErr))
	} else if s.escalation != nil {
		s.emit(hooks.EventEscalationChanged, map[string]any{hooks.KeyEscalated: escalated})
	}
	s.emitState(ev)

	if histErr != nil {
		return fmt.Errorf("load history: %w", histErr)
	}
	return nil
}

// Close tears the session down: the transport is closed with the normal
// closure code, the pending retry is cancelled and later results are
// discarded. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	s.stopRetryLocked()
	conn := s.conn
	s.conn = nil
	s.status = domain.ConnStatus{State: domain.StateDisconnected}
	ev := &stateEvent{status: s.status}
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(domain.CloseNormal, "conversation closed")
	}
	s.emitState(ev)
	s.emit(hooks.EventSessionClose, nil)
	s.log.Debug().Msg("session closed")
	return err
}

// Messages returns the window, oldest first.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs.Messages()
}

// Status returns the connection indicator.
func (s *Session) Status() domain.ConnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// HasMore reports whether older history may still exist.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Escalated returns the current escalation flag.
func (s *Session) Escalated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalated
}

// CanSend reports whether the messaging window currently allows replies.
func (s *Session) CanSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateOpenLocked()
}

func (s *Session) gateOpenLocked() bool {
	last, found := s.msgs.LatestFrom(domain.SenderCustomer)
	return WindowOpen(last, found, s.clock.Now(), s.window)
}

// usableLocked returns ErrClosed or ErrNotOpen when the session cannot act.
func (s *Session) usableLocked() error {
	if s.closed {
		return ErrClosed
	}
	if !s.opened {
		return ErrNotOpen
	}
	return nil
}

func (s *Session) emit(event string, data map[string]any) {
	if s.hooks == nil {
		return
	}
	if data == nil {
		data = make(map[string]any, 1)
	}
	data[hooks.KeyConversation] = s.id
	s.hooks.Emit(context.Background(), event, data)
}

func (s *Session) notify(severity string, err error) {
	s.emit(hooks.EventNotification, map[string]any{
		hooks.KeySeverity: severity,
		hooks.KeyError:    err,
		hooks.KeyText:     err.Error(),
	})
}

// warn reports a dismissible problem, such as a failed history fetch.
func (s *Session) warn(err error) {
	s.log.Warn().Err(err).Msg("session warning")
	s.notify(hooks.SeverityWarn, err)
}

// fail reports an error that blocked a user action.
func (s *Session) fail(err error) error {
	s.log.Error().Err(err).Msg("session action failed")
	s.notify(hooks.SeverityError, err)
	return err
}
