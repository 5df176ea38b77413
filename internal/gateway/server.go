// Package gateway is the local development backend: it serves the History
// Service, the escalation control plane and the Realtime Gateway from one
// HTTP server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskline/deskline/internal/config"
	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/hooks"
	"github.com/deskline/deskline/internal/logging"
	"github.com/deskline/deskline/internal/store"
)

// maxFrameSize bounds inbound stream frames. Outbound text is short; media
// travels through the upload endpoint.
const maxFrameSize = 64 * 1024

// Server is the deskline development backend.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	store    store.MessageStore
	clients  *ClientRegistry
	metrics  *metrics
	mediaDir string

	// Hook manager, nil if not configured
	hooks *hooks.Manager

	mu          sync.Mutex
	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithMediaDir sets where uploaded media is written and served from.
func WithMediaDir(dir string) ServerOption {
	return func(s *Server) {
		s.mediaDir = dir
	}
}

// New creates a new gateway server backed by st.
func New(cfg config.Config, st store.MessageStore, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		store:       st,
		clients:     NewClientRegistry(log.Sub("streams")),
		metrics:     newMetrics(),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins, s.metrics)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.cfg.Gateway.Bind != "loopback" && !s.auth.Enabled() {
		s.log.Warn().Msg("gateway is reachable beyond loopback without a token")
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Bool("auth", s.auth.Enabled()).
		Str("media", s.mediaDir).
		Msg("gateway server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
			"addr": ln.Addr().String(),
		})
	}

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Going-away lets session clients reconnect once the server is back.
		s.clients.CloseAll(websocket.CloseGoingAway, "server shutting down")
		s.authLimiter.close()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleStream upgrades to WebSocket and relays the conversation: every
// text frame from a client is stored as a representative message and
// broadcast to all clients of the conversation, the sender included.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameSize)

	client := NewClient(conn, id)
	s.clients.Add(client)
	s.metrics.streams.Inc()
	defer func() {
		s.metrics.streams.Dec()
		s.clients.Remove(client)
		client.Close(websocket.CloseNormalClosure, "")
	}()

	s.readLoop(r.Context(), client)
}

// readLoop stores and relays frames until the client goes away.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	log := s.log.With("connId", client.ConnID).With("conversation", client.ConversationID)
	for {
		typ, data, err := client.Socket.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Msg("client closed connection")
			} else {
				log.Warn().Err(err).Msg("read error")
			}
			return
		}
		if typ != websocket.TextMessage {
			log.Debug().Msg("ignoring non-text frame")
			continue
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		s.record(ctx, client.ConversationID, domain.Message{
			Sender:  domain.SenderRepresentative,
			Content: text,
			Kind:    domain.KindText,
		}, "stream")
	}
}

// record stores msg and broadcasts the stored copy.
func (s *Server) record(ctx context.Context, conversationID string, msg domain.Message, path string) (domain.Message, error) {
	stored, err := s.store.Append(ctx, conversationID, msg)
	if err != nil {
		s.log.Error().Err(err).Str("conversation", conversationID).Str("path", path).Msg("failed to store message")
		return stored, err
	}
	s.metrics.messages.WithLabelValues(stored.Sender, path).Inc()
	n := s.clients.Broadcast(conversationID, stored)
	s.log.Debug().
		Str("conversation", conversationID).
		Str("sender", stored.Sender).
		Str("path", path).
		Int("streams", n).
		Msg("message recorded")
	return stored, nil
}
