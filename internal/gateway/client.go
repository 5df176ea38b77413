package gateway

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/logging"
)

var ErrClientClosed = errors.New("client connection closed")

const writeWait = 10 * time.Second

// Client is one WebSocket subscriber of a conversation stream.
type Client struct {
	ConnID         string
	ConversationID string
	Socket         *websocket.Conn
	ConnectedAt    time.Time

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, conversationID string) *Client {
	return &Client{
		ConnID:         uuid.New().String(),
		ConversationID: conversationID,
		Socket:         conn,
		ConnectedAt:    time.Now(),
	}
}

// Send writes one message as a JSON text frame. Thread-safe.
func (c *Client) Send(msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.Socket == nil {
		return ErrClientClosed
	}
	_ = c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Socket.WriteJSON(msg)
}

// Close sends a close frame with code and reason, then closes the socket.
func (c *Client) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.Socket == nil {
		return nil
	}
	_ = c.Socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return c.Socket.Close()
}

// ClientRegistry tracks connected clients per conversation.
type ClientRegistry struct {
	mu    sync.RWMutex
	convs map[string]map[string]*Client // conversationID → connID → Client
	log   *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		convs: make(map[string]map[string]*Client),
		log:   log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.convs[c.ConversationID]
	if !ok {
		set = make(map[string]*Client)
		r.convs[c.ConversationID] = set
	}
	set[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("conversation", c.ConversationID).Msg("client connected")
}

// Remove unregisters a client.
func (r *ClientRegistry) Remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.convs[c.ConversationID]
	if !ok {
		return
	}
	if _, ok := set[c.ConnID]; !ok {
		return
	}
	delete(set, c.ConnID)
	if len(set) == 0 {
		delete(r.convs, c.ConversationID)
	}
	r.log.Info().Str("connId", c.ConnID).Str("conversation", c.ConversationID).Msg("client disconnected")
}

// Count returns the number of connected clients across all conversations.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.convs {
		n += len(set)
	}
	return n
}

// CountFor returns the number of clients watching one conversation.
func (r *ClientRegistry) CountFor(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.convs[conversationID])
}

// Conversations lists conversations with at least one client, sorted.
func (r *ClientRegistry) Conversations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.convs))
	for id := range r.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast sends msg to every client of the conversation and returns how
// many received it.
func (r *ClientRegistry) Broadcast(conversationID string, msg domain.Message) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.convs[conversationID]))
	for _, c := range r.convs[conversationID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Msg("broadcast send failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes every client with code and reason.
func (r *ClientRegistry) CloseAll(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, set := range r.convs {
		for _, c := range set {
			c.Close(code, reason)
		}
		delete(r.convs, id)
	}
}
