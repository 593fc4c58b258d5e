// Package credentials owns the session tokens of the running client.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/pkg/logger"
)

// Listener is called after every session change, outside the read lock but
// while writers are held back. A listener must not write to the store itself.
type Listener func(prev, next domain.Session)

// Store holds the session in memory and writes it through to a Substrate.
// Reads never touch the substrate. Writers are serialized so the substrate and
// the listeners see changes in the same order as memory.
type Store struct {
	wmu sync.Mutex

	mu        sync.RWMutex
	session   domain.Session
	substrate Substrate
	listeners []Listener

	writeTimeout time.Duration
	log          *slog.Logger
}

func NewStore(substrate Substrate, log *slog.Logger) *Store {
	if substrate == nil {
		substrate = NewMemorySubstrate()
	}
	return &Store{
		substrate:    substrate,
		writeTimeout: 2 * time.Second,
		log:          logger.Or(log).With("component", "credentials"),
	}
}

// Load replaces the in-memory session with whatever the substrate holds.
func (s *Store) Load(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	access, err := s.get(ctx, KeyAccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.get(ctx, KeyRefreshToken)
	if err != nil {
		return err
	}

	next := domain.Session{AccessToken: access, RefreshToken: refresh}
	prev := s.swap(next)
	s.log.Info("session loaded", "authenticated", next.Authenticated(), "has_refresh", next.HasRefreshToken())
	s.notify(prev, next)
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, err := s.substrate.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken, s.session.AccessToken != ""
}

func (s *Store) RefreshToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.RefreshToken, s.session.RefreshToken != ""
}

func (s *Store) Session() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Authenticated()
}

// SetSession installs both tokens. Readers observe them as soon as it returns.
func (s *Store) SetSession(access, refresh string) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.install(access, refresh)
}

// ReplaceSession installs a rotated pair, but only while expectedRefresh is
// still the current refresh token. It reports whether the pair was installed.
func (s *Store) ReplaceSession(expectedRefresh, access, refresh string) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if !s.holds(expectedRefresh) {
		return false
	}
	s.install(access, refresh)
	return true
}

// ReplaceAccessToken swaps the access token and keeps the refresh token, but
// only while expectedRefresh is still the current refresh token.
func (s *Store) ReplaceAccessToken(expectedRefresh, access string) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if !s.holds(expectedRefresh) {
		return false
	}

	next := domain.Session{AccessToken: access, RefreshToken: expectedRefresh}
	prev := s.swap(next)
	s.persist(map[string]string{KeyAccessToken: access})
	s.log.Debug("access token replaced")
	s.notify(prev, next)
	return true
}

// Clear drops both tokens. Calling it on an empty session is a no-op.
func (s *Store) Clear() {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.clear()
}

// ClearIf drops the session only while expectedRefresh is still its refresh
// token, so a session installed in the meantime survives.
func (s *Store) ClearIf(expectedRefresh string) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if !s.holds(expectedRefresh) {
		return false
	}
	s.clear()
	return true
}

// holds must be called with wmu held.
func (s *Store) holds(refresh string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return refresh != "" && s.session.RefreshToken == refresh
}

func (s *Store) install(access, refresh string) {
	next := domain.Session{AccessToken: access, RefreshToken: refresh}
	prev := s.swap(next)
	s.persist(map[string]string{KeyAccessToken: access, KeyRefreshToken: refresh})
	s.log.Info("session saved")
	s.notify(prev, next)
}

func (s *Store) clear() {
	prev := s.swap(domain.Session{})
	if prev == (domain.Session{}) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.substrate.Delete(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
		s.log.Error("failed to delete session", "error", err)
	}
	s.log.Info("session cleared")
	s.notify(prev, domain.Session{})
}

// Subscribe registers l for every later session change.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) swap(next domain.Session) domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.session
	s.session = next
	return prev
}

func (s *Store) persist(values map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	for k, v := range values {
		var err error
		if v == "" {
			err = s.substrate.Delete(ctx, k)
		} else {
			err = s.substrate.Set(ctx, k, v)
		}
		if err != nil {
			s.log.Error("failed to persist session", "key", k, "error", err)
		}
	}
}

func (s *Store) notify(prev, next domain.Session) {
	if prev == next {
		return
	}
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(prev, next)
	}
}
