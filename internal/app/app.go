// Package app builds the client engine from its configuration and holds the
// components the UI bridge talks to.
package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/credentials"
	"github.com/fjod/go_cart/storefront/internal/favorite"
	"github.com/fjod/go_cart/storefront/internal/notify"
	"github.com/fjod/go_cart/storefront/internal/refresh"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/fjod/go_cart/storefront/internal/transport"
	"github.com/fjod/go_cart/storefront/pkg/circuitbreaker"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// App is the explicit context object shared by every request of the bridge.
type App struct {
	Credentials   *credentials.Store
	Refresh       *refresh.Coordinator
	API           *backend.Client
	Breaker       *circuitbreaker.Breaker
	Session       *session.Service
	Cart          *cart.Store
	Favorites     *favorite.Toggle
	Notifications *notify.Feed

	log *slog.Logger
}

// New wires the engine. substrate holds the tokens; nil keeps them in memory.
func New(cfg *config.Config, substrate credentials.Substrate, log *slog.Logger) *App {
	log = logger.Or(log)
	base := otelhttp.NewTransport(http.DefaultTransport)

	store := credentials.NewStore(substrate, log)

	// refresh and logout never carry the user's bearer through the refreshing transport
	anon := &http.Client{Transport: base, Timeout: cfg.API.Timeout}
	tokenAPI := backend.NewClient(
		backend.WithBaseURL(cfg.API.BaseURL),
		backend.WithHTTPClient(anon),
		backend.WithLogger(log),
	)
	coordinator := refresh.NewCoordinator(store, tokenAPI, cfg.API.Timeout, log)

	breaker := circuitbreaker.New(circuitbreaker.Settings{
		Name:                "backend",
		ConsecutiveFailures: uint32(cfg.Breaker.ConsecutiveFailures),
		OpenTimeout:         cfg.Breaker.OpenTimeout,
		IsSuccessful:        backend.CountsAsSuccess,
		Logger:              log,
	})
	authed := &http.Client{Transport: transport.New(base, store, coordinator, log)}
	api := backend.NewClient(
		backend.WithBaseURL(cfg.API.BaseURL),
		backend.WithHTTPClient(authed),
		backend.WithTimeout(cfg.API.Timeout),
		backend.WithAnonHTTPClient(anon),
		backend.WithBreaker(breaker),
		backend.WithLogger(log),
	)

	feed := notify.NewFeed(0)
	carts := cart.NewStore(api, feed, cfg.Cart.SyncTimeout, log)
	favorites := favorite.NewToggle(api, store, feed, cfg.API.Timeout, log)
	sessions := session.NewService(api, store, log)

	store.Subscribe(carts.OnSessionChange)
	store.Subscribe(favorites.OnSessionChange)
	store.Subscribe(sessions.OnSessionChange)

	return &App{
		Credentials:   store,
		Refresh:       coordinator,
		API:           api,
		Breaker:       breaker,
		Session:       sessions,
		Cart:          carts,
		Favorites:     favorites,
		Notifications: feed,
		log:           log.With("component", "app"),
	}
}

// Start restores a saved session, binding the cart when one is found.
func (a *App) Start(ctx context.Context) error {
	if err := a.Session.Restore(ctx); err != nil {
		return err
	}
	a.log.InfoContext(ctx, "engine started", "authenticated", a.Credentials.Authenticated(), "cart_mode", a.Cart.Mode().String())
	return nil
}

// Close waits for background cart syncs and favorite loads.
func (a *App) Close() {
	a.Cart.Wait()
	a.Favorites.Wait()
	a.log.Info("engine stopped")
}
