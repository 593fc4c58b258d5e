// Package refresh collapses concurrent access-token refreshes into one network call.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrRefreshFailed  = errors.New("token refresh failed")
	// ErrSessionChanged means the session the request was sent with is gone:
	// logged out or replaced by another login. Nothing was written to the store.
	ErrSessionChanged = errors.New("session changed during refresh")
)

// TokenStore is the slice of the credential store the coordinator needs. Every
// write is conditional on the refresh token the refresh was started with.
type TokenStore interface {
	AccessToken() (string, bool)
	RefreshToken() (string, bool)
	ReplaceAccessToken(expectedRefresh, access string) bool
	ReplaceSession(expectedRefresh, access, refresh string) bool
	ClearIf(expectedRefresh string) bool
}

// Refresher performs the refresh network call. The returned session carries the
// new access token and, if the backend rotates it, a new refresh token.
type Refresher interface {
	RefreshAccess(ctx context.Context, refreshToken string) (domain.Session, error)
}

type State int32

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

const flightKey = "access-token"

// handoff is the last access token a refresh replaced and its successor.
type handoff struct {
	from, to string
}

type Coordinator struct {
	store     TokenStore
	refresher Refresher
	sfg       singleflight.Group
	inflight  atomic.Int32
	last      atomic.Pointer[handoff]
	timeout   time.Duration
	tracer    trace.Tracer
	log       *slog.Logger
}

func NewCoordinator(store TokenStore, refresher Refresher, timeout time.Duration, log *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		store:     store,
		refresher: refresher,
		timeout:   timeout,
		tracer:    otel.Tracer("github.com/fjod/go_cart/storefront/internal/refresh"),
		log:       logger.Or(log).With("component", "refresh"),
	}
}

func (c *Coordinator) State() State {
	if c.inflight.Load() > 0 {
		return Refreshing
	}
	return Idle
}

// Refresh returns a fresh access token for a request that was rejected while
// carrying staleToken. If the store already holds a successor of staleToken,
// that token is returned without a network call. Otherwise at most one refresh
// runs per refresh token and every concurrent caller receives its outcome.
//
// A failed refresh clears the session before the error is returned. If the
// session was logged out or replaced meanwhile, the result is dropped and
// ErrSessionChanged returned.
func (c *Coordinator) Refresh(ctx context.Context, staleToken string) (string, error) {
	if current, ok, err := c.replaced(staleToken); ok || err != nil {
		if ok {
			metrics.RefreshShared.Inc()
		}
		return current, err
	}

	refreshToken, ok := c.store.RefreshToken()
	if !ok {
		return "", ErrNoRefreshToken
	}

	v, err, shared := c.sfg.Do(flightKey+":"+refreshToken, func() (interface{}, error) {
		// A refresh that finished between the check above and this call already replaced the token.
		if current, ok, err := c.replaced(staleToken); ok || err != nil {
			return current, err
		}
		return c.doRefresh(ctx, staleToken, refreshToken)
	})
	if shared {
		metrics.RefreshShared.Inc()
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// replaced reports whether the store moved past staleToken. The current token
// is handed out only if a refresh produced it from staleToken or both tokens
// carry the same user id; any other session yields ErrSessionChanged.
func (c *Coordinator) replaced(staleToken string) (string, bool, error) {
	current, ok := c.store.AccessToken()
	if !ok || current == staleToken {
		return "", false, nil
	}
	if h := c.last.Load(); h != nil && h.from == staleToken && h.to == current {
		return current, true, nil
	}
	owner := domain.Session{AccessToken: staleToken}.OwnerID()
	if owner != "" && owner == (domain.Session{AccessToken: current}).OwnerID() {
		return current, true, nil
	}
	c.log.Info("session changed since the request was sent")
	return "", false, ErrSessionChanged
}

func (c *Coordinator) doRefresh(ctx context.Context, staleToken, refreshToken string) (string, error) {
	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	// One caller giving up must not fail the refresh for everyone waiting on it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "refresh.access_token")
	defer span.End()

	c.log.InfoContext(ctx, "refreshing access token")
	start := time.Now()

	sess, err := c.refresher.RefreshAccess(ctx, refreshToken)
	if err == nil && sess.AccessToken == "" {
		err = errors.New("empty access token in refresh response")
	}
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		if !c.store.ClearIf(refreshToken) {
			c.log.InfoContext(ctx, "token refresh failed after the session changed", "error", err)
			return "", ErrSessionChanged
		}
		c.log.WarnContext(ctx, "token refresh failed, session cleared", "error", err, "duration", time.Since(start))
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	rotated := sess.RefreshToken != ""
	var installed bool
	if rotated {
		installed = c.store.ReplaceSession(refreshToken, sess.AccessToken, sess.RefreshToken)
	} else {
		installed = c.store.ReplaceAccessToken(refreshToken, sess.AccessToken)
	}
	span.SetAttributes(attribute.Bool("refresh.rotated", rotated), attribute.Bool("refresh.installed", installed))
	if !installed {
		metrics.RefreshTotal.WithLabelValues("discarded").Inc()
		c.log.InfoContext(ctx, "session changed during refresh, dropping result", "duration", time.Since(start))
		return "", ErrSessionChanged
	}

	c.last.Store(&handoff{from: staleToken, to: sess.AccessToken})
	metrics.RefreshTotal.WithLabelValues("success").Inc()
	c.log.InfoContext(ctx, "access token refreshed", "duration", time.Since(start))
	return sess.AccessToken, nil
}
