package session

import (
	"context"
	"fmt"

	"github.com/deskline/deskline/internal/hooks"
)

// LoadOlder fetches the next older history page and prepends it. It returns
// the number of messages added. While a fetch is in flight, or once an
// empty page has marked the end of history, it returns 0 without fetching.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if s.loadingOlder || !s.hasMore {
		s.mu.Unlock()
		return 0, nil
	}
	s.loadingOlder = true
	page := s.nextPage
	s.mu.Unlock()

	res, err := s.history.History(ctx, s.id, page, s.pageSize)

	s.mu.Lock()
	s.loadingOlder = false
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if err != nil {
		s.mu.Unlock()
		err = fmt.Errorf("load page %d: %w", page, err)
		s.warn(err)
		return 0, err
	}
	added := 0
	if len(res.Messages) == 0 {
		s.hasMore = false
	} else {
		added = s.msgs.Prepend(res.Messages)
		s.nextPage = page + 1
	}
	hasMore := s.hasMore
	s.mu.Unlock()

	s.log.Debug().Int("page", page).Int("added", added).Bool("hasMore", hasMore).Msg("older history loaded")
	s.emit(hooks.EventHistoryLoaded, map[string]any{
		hooks.KeyPrepended: added,
	})
	return added, nil
}
