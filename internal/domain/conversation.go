package domain

import (
	"context"
	"errors"
	"io"
	"time"
)

// HistoryPage is one page of stored messages, newest first.
type HistoryPage struct {
	ConversationID string    `json:"conversation_id"`
	Page           int       `json:"page"`
	Messages       []Message `json:"messages"`
}

// SendRequest is the body of a request/response send.
type SendRequest struct {
	Content string `json:"content"`
	Sender  string `json:"sender"`
	Kind    Kind   `json:"type,omitempty"`
	Name    string `json:"name,omitempty"`
}

// MediaUpload describes a file handed to the media upload endpoint.
type MediaUpload struct {
	FileName string
	MimeType string
	Sender   string
	Body     io.Reader
}

// MediaRef is the upload endpoint's answer.
type MediaRef struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

// ConversationMeta is the escalation control plane's view of a conversation.
type ConversationMeta struct {
	ConversationID   string `json:"conversation_id"`
	EscalationStatus bool   `json:"escalation_status"`
	MessageCount     int    `json:"message_count"`
	LastCustomerAt   string `json:"last_customer_at,omitempty"`
}

// HistoryService stores and pages conversation messages.
type HistoryService interface {
	// History returns page (1-based) of the conversation, newest first.
	// An empty page marks the end of history.
	History(ctx context.Context, conversationID string, page, pageSize int) (HistoryPage, error)

	// Send records an outbound message without the realtime transport.
	Send(ctx context.Context, conversationID string, req SendRequest) (Message, error)

	// SendMedia uploads a file and returns its reference URL.
	SendMedia(ctx context.Context, conversationID string, upload MediaUpload) (MediaRef, error)

	// Purge deletes the stored history of a conversation.
	Purge(ctx context.Context, conversationID string) error
}

// EscalationService owns the human-handoff flag.
type EscalationService interface {
	Escalate(ctx context.Context, conversationID string) error
	Deescalate(ctx context.Context, conversationID string) error
	Meta(ctx context.Context, conversationID string) (ConversationMeta, error)
}

// CloseNormal is the WebSocket close code for a deliberate close.
const CloseNormal = 1000

// ErrNormalClosure is returned by RealtimeConn.Read after the peer closed
// the stream with CloseNormal.
var ErrNormalClosure = errors.New("realtime: closed normally")

// RealtimeConn is one open gateway stream for a conversation.
// Inbound frames are JSON messages; outbound frames are bare text.
type RealtimeConn interface {
	Read() ([]byte, error)
	WriteText(text string) error
	Close(code int, reason string) error
}

// RealtimeDialer opens gateway streams.
type RealtimeDialer interface {
	Dial(ctx context.Context, conversationID string) (RealtimeConn, error)
}

// ConnState is the realtime connection lifecycle state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

// ConnStatus is a snapshot of the connection indicator.
type ConnStatus struct {
	State     ConnState     `json:"state"`
	Attempt   int           `json:"attempt"`
	Exhausted bool          `json:"exhausted,omitempty"`
	NextRetry time.Duration `json:"nextRetry,omitempty"`
	LastError string        `json:"lastError,omitempty"`
}
