package session

import (
	"context"
	"slices"
	"sync"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/logging"
)

// Factory builds a session for a conversation id.
type Factory func(conversationID string) (*Session, error)

// Registry manages the sessions of several open conversations.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  Factory
	log      *logging.Logger
}

// NewRegistry creates a session registry.
func NewRegistry(factory Factory, log *logging.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
		log:      log.Sub("sessions"),
	}
}

// Open returns the session for id, creating and opening it on first use.
// A history error from Open is returned alongside the usable session.
func (r *Registry) Open(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return s, nil
	}
	s, err := r.factory(id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[id] = s
	r.mu.Unlock()

	r.log.Info().Str("conversation", id).Msg("conversation opened")
	return s, s.Open(ctx)
}

// Get returns an open session by conversation id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all open conversation ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Status returns the connection indicator of every open session.
func (r *Registry) Status() map[string]domain.ConnStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make(map[string]domain.ConnStatus, len(r.sessions))
	for id, s := range r.sessions {
		statuses[id] = s.Status()
	}
	return statuses
}

// Close closes and forgets one session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.log.Info().Str("conversation", id).Msg("conversation closed")
	return s.Close()
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for id, s := range sessions {
		if err := s.Close(); err != nil {
			r.log.Error().Err(err).Str("conversation", id).Msg("failed to close session")
		}
	}
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
