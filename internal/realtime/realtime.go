// Package realtime dials the Realtime Gateway over WebSocket.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/logging"
)

const writeWait = 10 * time.Second

// Options configures a Dialer.
type Options struct {
	// GatewayURL is the stream root, e.g. ws://127.0.0.1:18790/ws.
	GatewayURL string
	Token      string
	Logger     *logging.Logger
}

// Dialer opens one WebSocket per conversation.
type Dialer struct {
	base  string
	token string
	ws    *websocket.Dialer
	log   *logging.Logger
}

var _ domain.RealtimeDialer = (*Dialer)(nil)

// NewDialer creates a gateway dialer.
func NewDialer(opts Options) *Dialer {
	if opts.Logger == nil {
		opts.Logger = logging.New(nil, "silent")
	}
	ws := *websocket.DefaultDialer
	return &Dialer{
		base:  strings.TrimSuffix(opts.GatewayURL, "/"),
		token: opts.Token,
		ws:    &ws,
		log:   opts.Logger.Sub("realtime"),
	}
}

// URL returns the stream address for a conversation.
func (d *Dialer) URL(conversationID string) string {
	return d.base + "/" + url.PathEscape(conversationID)
}

// Dial opens the stream. The handshake honours ctx's deadline.
func (d *Dialer) Dial(ctx context.Context, conversationID string) (domain.RealtimeConn, error) {
	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}

	target := d.URL(conversationID)
	ws, resp, err := d.ws.DialContext(ctx, target, header)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("dial %s: %w", target, ctxErr)
		}
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	d.log.Debug().Str("url", target).Msg("stream opened")
	return &Conn{ws: ws}, nil
}

// Conn is one open gateway stream. Read must be called from a single
// goroutine; writes are serialized internally.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

var _ domain.RealtimeConn = (*Conn)(nil)

// Read blocks for the next frame. A close with code 1000 is reported as
// domain.ErrNormalClosure.
func (c *Conn) Read() ([]byte, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, fmt.Errorf("%w: %v", domain.ErrNormalClosure, err)
			}
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteText sends a bare text frame.
func (c *Conn) WriteText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return errors.New("realtime: connection closed")
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close sends a close frame with code and reason, then drops the socket.
// Calling it twice is harmless.
func (c *Conn) Close(code int, reason string) error {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
