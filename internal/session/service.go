// Package session logs the shopper in and out and restores a saved session on start.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/fjod/go_cart/storefront/pkg/validator"
)

var ErrInvalidInput = errors.New("invalid input")

type Backend interface {
	Login(ctx context.Context, creds domain.Credentials) (backend.AuthResult, error)
	Register(ctx context.Context, reg domain.Registration) (backend.AuthResult, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	CurrentUser(ctx context.Context) (domain.User, error)
}

// TokenStore is the part of the credential store the service writes.
type TokenStore interface {
	Load(ctx context.Context) error
	Session() domain.Session
	SetSession(access, refresh string)
	Clear()
}

type Service struct {
	backend   Backend
	tokens    TokenStore
	validator *validator.Validator

	mu   sync.RWMutex
	user *domain.User

	logoutTimeout time.Duration
	log           *slog.Logger
}

func NewService(backend Backend, tokens TokenStore, log *slog.Logger) *Service {
	return &Service{
		backend:       backend,
		tokens:        tokens,
		validator:     validator.NewValidator(),
		logoutTimeout: 5 * time.Second,
		log:           logger.Or(log).With("component", "session"),
	}
}

// Login exchanges credentials for a session. The cart and favorites follow
// through the credential store listeners.
func (s *Service) Login(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	if err := s.validator.Validate(creds); err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	res, err := s.backend.Login(ctx, creds)
	if err != nil {
		s.log.WarnContext(ctx, "login failed", "error", err)
		return domain.User{}, fmt.Errorf("login: %w", err)
	}
	s.start(res)
	s.log.InfoContext(ctx, "logged in", "user_id", res.User.ID)
	return res.User, nil
}

// Register creates an account; the backend logs the new user in.
func (s *Service) Register(ctx context.Context, reg domain.Registration) (domain.User, error) {
	if err := s.validator.Validate(reg); err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	res, err := s.backend.Register(ctx, reg)
	if err != nil {
		s.log.WarnContext(ctx, "registration failed", "error", err)
		return domain.User{}, fmt.Errorf("register: %w", err)
	}
	s.start(res)
	s.log.InfoContext(ctx, "registered", "user_id", res.User.ID)
	return res.User, nil
}

func (s *Service) start(res backend.AuthResult) {
	s.setUser(&res.User)
	s.tokens.SetSession(res.Session.AccessToken, res.Session.RefreshToken)
}

// Logout drops the local session first and then revokes the refresh token on
// the server. The server call is best effort and skipped without a refresh token.
func (s *Service) Logout(ctx context.Context) {
	sess := s.tokens.Session()
	s.tokens.Clear()
	s.setUser(nil)

	if !sess.HasRefreshToken() {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
	defer cancel()
	if err := s.backend.Logout(ctx, sess.AccessToken, sess.RefreshToken); err != nil {
		s.log.WarnContext(ctx, "server logout failed", "error", err)
		return
	}
	s.log.InfoContext(ctx, "logged out")
}

// Restore reloads the saved session and fetches the profile. A session the
// backend no longer accepts, or one that expired with nothing to refresh it, is cleared.
func (s *Service) Restore(ctx context.Context) error {
	if err := s.tokens.Load(ctx); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	sess := s.tokens.Session()
	if !sess.Authenticated() {
		return nil
	}
	// Without a refresh token an expired access token cannot be revived.
	if c, err := sess.Claims(); err == nil && c.Expired(time.Now()) && !sess.HasRefreshToken() {
		s.log.InfoContext(ctx, "saved session expired", "expired_at", c.ExpiresAt)
		s.tokens.Clear()
		s.setUser(nil)
		return nil
	}

	u, err := s.backend.CurrentUser(ctx)
	if err != nil {
		s.log.WarnContext(ctx, "saved session rejected", "error", err)
		s.tokens.Clear()
		s.setUser(nil)
		return nil
	}
	s.setUser(&u)
	s.log.InfoContext(ctx, "session restored", "user_id", u.ID)
	return nil
}

// User returns the profile of the logged-in user.
func (s *Service) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

// OnSessionChange forgets the profile once the session is gone, e.g. after a failed refresh.
func (s *Service) OnSessionChange(_, next domain.Session) {
	if !next.Authenticated() {
		s.setUser(nil)
	}
}

func (s *Service) setUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}
