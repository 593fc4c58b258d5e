// Package cart keeps the shopper's cart consistent between the guest (memory
// only) and bound (server-backed) modes.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/notify"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/shopspring/decimal"
)

var ErrLineNotFound = errors.New("cart line not found")

// Backend is the server cart API.
type Backend interface {
	GetCart(ctx context.Context) ([]domain.CartLine, error)
	AddToCart(ctx context.Context, productID int64, quantity int) error
	UpdateCartItem(ctx context.Context, productID int64, quantity int) error
	RemoveCartItem(ctx context.Context, productID int64) error
	ClearCart(ctx context.Context) error
}

// Store is the single owner of the cart.
//
// Local mutations are applied under mu and never wait for the network. Server
// calls run without the lock; results are applied only if the session epoch is
// unchanged, so a late answer for a previous session cannot leak into the next.
type Store struct {
	mu   sync.Mutex
	cart *domain.Cart
	// epoch changes on every bind/unbind.
	epoch uint64
	// revisions holds the revision of the last optimistic write per product.
	revisions map[int64]uint64
	rev       uint64

	backend     Backend
	notifier    notify.Notifier
	syncTimeout time.Duration
	wg          sync.WaitGroup
	log         *slog.Logger
}

func NewStore(backend Backend, notifier notify.Notifier, syncTimeout time.Duration, log *slog.Logger) *Store {
	if syncTimeout <= 0 {
		syncTimeout = 10 * time.Second
	}
	return &Store{
		cart:        domain.NewGuestCart(),
		revisions:   make(map[int64]uint64),
		backend:     backend,
		notifier:    notifier,
		syncTimeout: syncTimeout,
		log:         logger.Or(log).With("component", "cart"),
	}
}

// AddItem adds quantity of p. Guest carts merge locally. Bound carts call the
// server first and then replace every line with the server cart; nothing is
// changed locally if either call fails.
func (s *Store) AddItem(ctx context.Context, p domain.Product, quantity int) error {
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}

	s.mu.Lock()
	mode, epoch := s.cart.Mode, s.epoch
	if mode == domain.CartGuest {
		err := s.cart.Add(p, quantity)
		s.mu.Unlock()
		metrics.CartOperations.WithLabelValues("add", mode.String()).Inc()
		return err
	}
	s.mu.Unlock()

	metrics.CartOperations.WithLabelValues("add", mode.String()).Inc()
	if err := s.backend.AddToCart(ctx, p.ID, quantity); err != nil {
		s.log.WarnContext(ctx, "add to cart failed", "product_id", p.ID, "error", err)
		return fmt.Errorf("add item: %w", err)
	}

	lines, err := s.backend.GetCart(ctx)
	if err != nil {
		s.log.WarnContext(ctx, "cart refetch after add failed", "product_id", p.ID, "error", err)
		return fmt.Errorf("reload cart: %w", err)
	}
	s.replace(epoch, lines)
	return nil
}

// UpdateQuantity sets the quantity of an existing line at once. Quantity <= 0
// removes the line. For bound carts the server update runs in the background and
// a failure restores the previous quantity, unless the line was written again
// in the meantime.
func (s *Store) UpdateQuantity(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		s.RemoveItem(ctx, productID)
		return nil
	}

	s.mu.Lock()
	line, ok := s.cart.Line(productID)
	if !ok {
		s.mu.Unlock()
		return ErrLineNotFound
	}
	previous := line.Quantity
	s.cart.SetQuantity(productID, quantity)
	mode, epoch := s.cart.Mode, s.epoch
	rev := s.touch(productID)
	s.mu.Unlock()

	metrics.CartOperations.WithLabelValues("update", mode.String()).Inc()
	if mode == domain.CartGuest {
		return nil
	}

	s.sync(ctx, "update", epoch, "Could not update the quantity, the previous quantity was restored",
		func(ctx context.Context) error {
			return s.backend.UpdateCartItem(ctx, productID, quantity)
		},
		func() {
			if s.revisions[productID] != rev {
				return
			}
			if s.cart.SetQuantity(productID, previous) {
				s.log.Info("quantity rolled back", "product_id", productID, "quantity", previous)
			}
		})
	return nil
}

// RemoveItem drops the line at once. For bound carts the server removal runs in
// the background and is not rolled back on failure.
func (s *Store) RemoveItem(ctx context.Context, productID int64) {
	s.mu.Lock()
	s.cart.Remove(productID)
	s.touch(productID)
	mode, epoch := s.cart.Mode, s.epoch
	s.mu.Unlock()

	metrics.CartOperations.WithLabelValues("remove", mode.String()).Inc()
	if mode == domain.CartGuest {
		return
	}
	s.sync(ctx, "remove", epoch, "Could not remove the item from your saved cart",
		func(ctx context.Context) error {
			return s.backend.RemoveCartItem(ctx, productID)
		}, nil)
}

// Clear empties the cart at once; bound carts are cleared on the server in the background.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.cart.Clear()
	s.resetRevisions()
	mode, epoch := s.cart.Mode, s.epoch
	s.mu.Unlock()

	metrics.CartOperations.WithLabelValues("clear", mode.String()).Inc()
	if mode == domain.CartGuest {
		return
	}
	s.sync(ctx, "clear", epoch, "Could not clear your saved cart", s.backend.ClearCart, nil)
}

// Reload replaces the lines of a bound cart with the server cart. Guest carts
// have nothing to reload.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	mode, epoch := s.cart.Mode, s.epoch
	s.mu.Unlock()

	if mode == domain.CartGuest {
		return nil
	}
	lines, err := s.backend.GetCart(ctx)
	if err != nil {
		return fmt.Errorf("reload cart: %w", err)
	}
	s.replace(epoch, lines)
	return nil
}

// Bind discards the current lines, switches to bound mode for ownerID and
// loads the server cart. Guest lines are not merged.
func (s *Store) Bind(ctx context.Context, ownerID string) error {
	s.bind(ownerID)
	return s.Reload(ctx)
}

func (s *Store) bind(ownerID string) uint64 {
	s.mu.Lock()
	var dropped int
	if s.cart.Mode == domain.CartGuest {
		dropped = len(s.cart.Lines)
	}
	s.epoch++
	s.cart = &domain.Cart{Mode: domain.CartBound, OwnerID: ownerID, Lines: []domain.CartLine{}}
	s.resetRevisions()
	epoch := s.epoch
	s.mu.Unlock()

	s.log.Info("cart bound to user", "owner_id", ownerID, "discarded_guest_lines", dropped)
	if dropped > 0 && s.notifier != nil {
		s.notifier.Notify(notify.LevelInfo, "Your saved cart replaced the items added as a guest")
	}
	return epoch
}

// Unbind switches back to an empty guest cart.
func (s *Store) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.cart = domain.NewGuestCart()
	s.resetRevisions()
	s.log.Info("cart switched to guest")
}

// OnSessionChange follows the credential store: becoming authenticated binds
// the cart and loads it in the background, losing authentication unbinds it.
// A token refresh for the same user changes nothing.
func (s *Store) OnSessionChange(prev, next domain.Session) {
	switch {
	case !next.Authenticated():
		if prev.Authenticated() {
			s.Unbind()
		}
	case !prev.Authenticated() || prev.OwnerID() != next.OwnerID():
		epoch := s.bind(next.OwnerID())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.syncTimeout)
			defer cancel()

			lines, err := s.backend.GetCart(ctx)
			if err != nil {
				s.failed(ctx, "load", epoch, "Could not load your cart", err)
				return
			}
			s.replace(epoch, lines)
		}()
	}
}

func (s *Store) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]domain.CartLine, len(s.cart.Lines))
	copy(lines, s.cart.Lines)
	return lines
}

func (s *Store) Mode() domain.CartMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Mode
}

func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.ItemCount()
}

func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.TotalPrice()
}

// Snapshot returns a copy of the cart.
func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Wait blocks until every background sync has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) replace(epoch uint64, lines []domain.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch || s.cart.Mode != domain.CartBound {
		s.log.Debug("dropping cart from a previous session")
		return
	}
	s.cart.ReplaceLines(lines)
	s.resetRevisions()
}

// sync runs call in the background. On failure, rollback runs under the lock
// if the session has not changed, and the shopper is notified.
func (s *Store) sync(ctx context.Context, op string, epoch uint64, message string, call func(context.Context) error, rollback func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.syncTimeout)
		defer cancel()

		err := call(ctx)
		if err == nil {
			return
		}
		if rollback != nil {
			s.mu.Lock()
			if s.epoch == epoch {
				rollback()
			}
			s.mu.Unlock()
		}
		s.failed(ctx, op, epoch, message, err)
	}()
}

func (s *Store) failed(ctx context.Context, op string, epoch uint64, message string, err error) {
	metrics.CartSyncFailures.WithLabelValues(op).Inc()
	s.log.WarnContext(ctx, "cart sync failed", "operation", op, "error", err)

	s.mu.Lock()
	current := s.epoch == epoch
	s.mu.Unlock()
	if current && s.notifier != nil {
		s.notifier.Notify(notify.LevelError, message)
	}
}

func (s *Store) touch(productID int64) uint64 {
	s.rev++
	s.revisions[productID] = s.rev
	return s.rev
}

func (s *Store) resetRevisions() {
	s.revisions = make(map[int64]uint64)
}
