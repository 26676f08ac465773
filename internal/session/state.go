// Package session owns the client's credentials: the long-lived session state,
// its persistence, and the coordinator that serialises token refreshes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/readaloud/client/internal/models"
)

// State is the single owner of the current Session and the signed-in User.
// Every session mutation is written through to the Store.
type State struct {
	store  Store
	logger *slog.Logger

	mu      sync.RWMutex
	session models.Session
	user    *models.User
	subs    map[int]func(models.Session)
	nextSub int
}

// NewState returns an empty state backed by store. A nil store keeps the
// session in memory only.
func NewState(store Store, logger *slog.Logger) *State {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		store:  store,
		logger: logger,
		subs:   make(map[int]func(models.Session)),
	}
}

// Load restores the persisted session. It is called once at startup.
func (s *State) Load(ctx context.Context) error {
	session, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	s.logger.Debug("session restored", "hasToken", session.LoggedIn())
	s.notify(session)
	return nil
}

// Get returns a copy of the current session.
func (s *State) Get() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Set replaces the session and persists it. The in-memory value is updated
// even if persisting fails.
func (s *State) Set(ctx context.Context, session models.Session) error {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	s.notify(session)

	if err := s.store.Save(ctx, session); err != nil {
		s.logger.Warn("persist session failed", "error", err)
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear drops the session and user and purges the persisted copy.
func (s *State) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.session = models.Session{}
	s.user = nil
	s.mu.Unlock()

	s.notify(models.Session{})

	if err := s.store.Purge(ctx); err != nil {
		s.logger.Warn("purge session failed", "error", err)
		return fmt.Errorf("purge session: %w", err)
	}
	return nil
}

// User returns the signed-in user, if known.
func (s *State) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// SetUser records the signed-in user. The user is not persisted.
func (s *State) SetUser(user models.User) {
	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
}

// Subscribe registers fn to receive every session change. The returned
// function removes the subscription.
func (s *State) Subscribe(fn func(models.Session)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *State) notify(session models.Session) {
	s.mu.RLock()
	subs := make([]func(models.Session), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(session)
	}
}
