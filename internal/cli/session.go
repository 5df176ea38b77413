package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/deskline/deskline/internal/backend"
	"github.com/deskline/deskline/internal/config"
	"github.com/deskline/deskline/internal/hooks"
	"github.com/deskline/deskline/internal/logging"
	"github.com/deskline/deskline/internal/realtime"
	"github.com/deskline/deskline/internal/session"
)

// clientStack is what a command needs to open conversations against the
// configured backend.
type clientStack struct {
	backend *backend.Client
	dialer  *realtime.Dialer
	hooks   *hooks.Manager
	cfg     config.Config
	log     *logging.Logger
}

func newClientStack(cfg config.Config, log *logging.Logger) *clientStack {
	return &clientStack{
		backend: backend.New(backend.Options{
			BaseURL: cfg.Backend.BaseURL,
			Token:   cfg.Backend.Token,
			Timeout: cfg.Backend.RequestTimeoutDuration(),
			Retries: cfg.Backend.Retries,
			Logger:  log,
		}),
		dialer: realtime.NewDialer(realtime.Options{
			GatewayURL: cfg.Backend.GatewayURL,
			Token:      cfg.Backend.Token,
			Logger:     log,
		}),
		hooks: hooks.NewManager(log),
		cfg:   cfg,
		log:   log,
	}
}

// newSession builds an unopened session for id. It satisfies
// session.Factory.
func (c *clientStack) newSession(id string) (*session.Session, error) {
	sc := c.cfg.Session
	return session.New(session.Options{
		ConversationID: id,
		Representative: sc.Representative,
		PageSize:       sc.PageSize,
		ConnectTimeout: sc.ConnectTimeoutDuration(),
		MaxRetries:     sc.MaxRetries,
		Window:         sc.Window(),
		SendRate:       sc.SendRate,
		SendBurst:      sc.SendBurst,
		History:        c.backend,
		Escalation:     c.backend,
		Dialer:         c.dialer,
		Hooks:          c.hooks,
		Logger:         c.log,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
