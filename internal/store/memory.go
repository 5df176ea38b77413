package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/deskline/deskline/internal/domain"
)

type memEntry struct {
	id  string
	at  time.Time
	msg domain.Message
}

type memConversation struct {
	escalated bool
	updated   time.Time
	entries   []memEntry // oldest first
}

// MemoryMessageStore implements MessageStore in process memory.
type MemoryMessageStore struct {
	mu    sync.RWMutex
	convs map[string]*memConversation
	now   func() time.Time
}

var _ MessageStore = (*MemoryMessageStore)(nil)

// NewMemoryMessageStore creates an empty in-memory store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{convs: make(map[string]*memConversation), now: time.Now}
}

func (m *MemoryMessageStore) conv(id string) *memConversation {
	c, ok := m.convs[id]
	if !ok {
		c = &memConversation{}
		m.convs[id] = c
	}
	return c
}

func (m *MemoryMessageStore) Append(_ context.Context, conversationID string, msg domain.Message) (domain.Message, error) {
	now := m.now()
	msg, at, err := prepare(msg, now)
	if err != nil {
		return msg, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conv(conversationID)
	c.updated = now
	e := memEntry{id: newID(), at: at, msg: msg}
	// Insert after every entry not newer than at.
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].at.After(at) })
	c.entries = slices.Insert(c.entries, i, e)
	return msg, nil
}

func (m *MemoryMessageStore) Page(_ context.Context, conversationID string, page, size int) ([]domain.Message, error) {
	skip, limit := offset(page, size)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Message{}
	c, ok := m.convs[conversationID]
	if !ok {
		return out, nil
	}
	for i := len(c.entries) - 1 - skip; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.entries[i].msg)
	}
	return out, nil
}

func (m *MemoryMessageStore) Purge(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[conversationID]; ok {
		c.entries = nil
	}
	return nil
}

func (m *MemoryMessageStore) Meta(_ context.Context, conversationID string) (domain.ConversationMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metaLocked(conversationID), nil
}

func (m *MemoryMessageStore) metaLocked(id string) domain.ConversationMeta {
	meta := domain.ConversationMeta{ConversationID: id}
	c, ok := m.convs[id]
	if !ok {
		return meta
	}
	meta.EscalationStatus = c.escalated
	meta.MessageCount = len(c.entries)
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].msg.Sender == domain.SenderCustomer {
			meta.LastCustomerAt = c.entries[i].msg.Timestamp
			break
		}
	}
	return meta
}

func (m *MemoryMessageStore) SetEscalated(_ context.Context, conversationID string, escalated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conv(conversationID)
	c.escalated = escalated
	c.updated = m.now()
	return nil
}

func (m *MemoryMessageStore) Conversations(_ context.Context) ([]domain.ConversationMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.convs[ids[i]].updated, m.convs[ids[j]].updated
		if !a.Equal(b) {
			return a.After(b)
		}
		return ids[i] < ids[j]
	})
	out := make([]domain.ConversationMeta, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.metaLocked(id))
	}
	return out, nil
}

func (m *MemoryMessageStore) Close() error { return nil }
