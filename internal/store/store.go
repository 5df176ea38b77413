package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/logging"
)

// ErrInvalidMessage is returned by Append for messages that fail validation.
var ErrInvalidMessage = errors.New("invalid message")

// MessageStore holds conversation histories and escalation flags.
// Pages are 1-based and newest first.
type MessageStore interface {
	Append(ctx context.Context, conversationID string, msg domain.Message) (domain.Message, error)
	Page(ctx context.Context, conversationID string, page, size int) ([]domain.Message, error)
	Purge(ctx context.Context, conversationID string) error
	Meta(ctx context.Context, conversationID string) (domain.ConversationMeta, error)
	SetEscalated(ctx context.Context, conversationID string, escalated bool) error
	Conversations(ctx context.Context) ([]domain.ConversationMeta, error)
	Close() error
}

// OpenStore returns the store selected by driver ("sqlite" or "memory"). The
// SQLite database lives in dataDir.
func OpenStore(driver, dataDir string, log *logging.Logger) (MessageStore, error) {
	switch driver {
	case "", "sqlite":
		db, err := Open(filepath.Join(dataDir, "deskline.db"), log)
		if err != nil {
			return nil, err
		}
		return NewSQLiteMessageStore(db), nil
	case "memory":
		return NewMemoryMessageStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// prepare fills defaults and returns the message with its parsed time.
func prepare(msg domain.Message, now time.Time) (domain.Message, time.Time, error) {
	if msg.Kind == "" {
		msg.Kind = domain.KindText
	}
	if msg.Timestamp == "" {
		msg.Timestamp = domain.FormatTimestamp(now)
	}
	if err := msg.Validate(); err != nil {
		return msg, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	at, err := msg.Time()
	if err != nil {
		return msg, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, at, nil
}

func offset(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return (page - 1) * size, size
}

func newID() string {
	return ulid.Make().String()
}
