package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/deskline/deskline/internal/domain"
)

// SQLiteMessageStore implements MessageStore backed by SQLite.
type SQLiteMessageStore struct {
	db  *DB
	now func() time.Time
}

var _ MessageStore = (*SQLiteMessageStore)(nil)

// NewSQLiteMessageStore creates a message store using the given database.
func NewSQLiteMessageStore(db *DB) *SQLiteMessageStore {
	return &SQLiteMessageStore{db: db, now: time.Now}
}

// Append stores msg, creating the conversation on first use. A missing
// timestamp is filled with the current time at second precision.
func (s *SQLiteMessageStore) Append(ctx context.Context, conversationID string, msg domain.Message) (domain.Message, error) {
	now := s.now()
	msg, at, err := prepare(msg, now)
	if err != nil {
		return msg, err
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback()

	if err := touch(ctx, tx, conversationID, now); err != nil {
		return msg, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, kind, timestamp, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		newID(), conversationID, msg.Sender, msg.Content, string(msg.Kind), msg.Timestamp, at.UnixNano(),
	); err != nil {
		s.db.log.Error().Err(err).Str("conversation", conversationID).Msg("failed to append message")
		return msg, err
	}
	return msg, tx.Commit()
}

// Page returns one page of messages, newest first.
func (s *SQLiteMessageStore) Page(ctx context.Context, conversationID string, page, size int) ([]domain.Message, error) {
	skip, limit := offset(page, size)
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT sender, content, kind, timestamp FROM messages
		 WHERE conversation_id = ?
		 ORDER BY at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		conversationID, limit, skip,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var kind string
		if err := rows.Scan(&m.Sender, &m.Content, &kind, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Kind = domain.Kind(kind)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Purge deletes every message of the conversation. The escalation flag
// survives.
func (s *SQLiteMessageStore) Purge(ctx context.Context, conversationID string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

// Meta summarizes a conversation. Unknown conversations report zero values.
func (s *SQLiteMessageStore) Meta(ctx context.Context, conversationID string) (domain.ConversationMeta, error) {
	meta := domain.ConversationMeta{ConversationID: conversationID}

	var escalated int
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT escalated FROM conversations WHERE id = ?`, conversationID,
	).Scan(&escalated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return meta, err
	}
	meta.EscalationStatus = escalated != 0

	if err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&meta.MessageCount); err != nil {
		return meta, err
	}

	var last string
	err = s.db.sql.QueryRowContext(ctx,
		`SELECT timestamp FROM messages
		 WHERE conversation_id = ? AND sender = ?
		 ORDER BY at DESC, id DESC LIMIT 1`,
		conversationID, domain.SenderCustomer,
	).Scan(&last)
	switch {
	case err == nil:
		meta.LastCustomerAt = last
	case !errors.Is(err, sql.ErrNoRows):
		return meta, err
	}
	return meta, nil
}

// SetEscalated records the human-handoff flag.
func (s *SQLiteMessageStore) SetEscalated(ctx context.Context, conversationID string, escalated bool) error {
	flag := 0
	if escalated {
		flag = 1
	}
	now := s.now().UTC().Format(time.DateTime)
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO conversations (id, escalated, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET escalated = excluded.escalated, updated_at = excluded.updated_at`,
		conversationID, flag, now, now,
	)
	return err
}

// Conversations lists every known conversation, most recently active first.
func (s *SQLiteMessageStore) Conversations(ctx context.Context) ([]domain.ConversationMeta, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT id FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.ConversationMeta, 0, len(ids))
	for _, id := range ids {
		meta, err := s.Meta(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteMessageStore) Close() error {
	return s.db.Close()
}

func touch(ctx context.Context, tx *sql.Tx, conversationID string, now time.Time) error {
	ts := now.UTC().Format(time.DateTime)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		conversationID, ts, ts,
	)
	return err
}
