// Package favorite flips the favorite relation of a product optimistically and
// rolls it back when the server refuses.
package favorite

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
)

// Backend is the server favorites API.
type Backend interface {
	CheckFavorite(ctx context.Context, productID int64) (domain.FavoriteRelation, error)
	AddFavorite(ctx context.Context, productID int64) (int64, error)
	RemoveFavorite(ctx context.Context, recordID int64) error
	ListFavorites(ctx context.Context) ([]domain.FavoriteRelation, error)
}

// Auth tells whether a user is logged in.
type Auth interface {
	Authenticated() bool
}

type Outcome int

const (
	// OutcomeSkipped: not logged in, or a toggle for the product is already in flight.
	OutcomeSkipped Outcome = iota
	OutcomeConfirmed
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRolledBack:
		return "rolled_back"
	default:
		return "skipped"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// pending is the value to restore if the in-flight toggle fails.
type pending struct {
	previous       domain.FavoriteState
	previousRecord int64
}

type entry struct {
	state    domain.FavoriteState
	recordID int64
	pending  *pending
	// written is the write sequence of the last confirmed change.
	written uint64
}

type Toggle struct {
	mu      sync.Mutex
	entries map[int64]*entry
	epoch   uint64
	seq     uint64

	backend  Backend
	auth     Auth
	notifier notify.Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
	log      *slog.Logger
}

func NewToggle(backend Backend, auth Auth, notifier notify.Notifier, timeout time.Duration, log *slog.Logger) *Toggle {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Toggle{
		entries:  make(map[int64]*entry),
		backend:  backend,
		auth:     auth,
		notifier: notifier,
		timeout:  timeout,
		log:      logger.Or(log).With("component", "favorite"),
	}
}

// Toggle flips productID's favorite state. The new state is visible at once and
// stays visible only if the server confirms it; on failure the previous state is
// restored and the error returned.
func (t *Toggle) Toggle(ctx context.Context, productID int64) (Outcome, error) {
	if !t.auth.Authenticated() {
		metrics.FavoriteToggles.WithLabelValues(OutcomeSkipped.String()).Inc()
		return OutcomeSkipped, nil
	}

	t.mu.Lock()
	e := t.entry(productID)
	if e.pending != nil {
		t.mu.Unlock()
		metrics.FavoriteToggles.WithLabelValues(OutcomeSkipped.String()).Inc()
		return OutcomeSkipped, nil
	}
	e.pending = &pending{previous: e.state, previousRecord: e.recordID}
	state, epoch := e.state, t.epoch
	t.mu.Unlock()

	if state == domain.FavoriteUnknown {
		rel, err := t.backend.CheckFavorite(ctx, productID)
		if err != nil {
			return t.rollback(ctx, e, epoch, productID, fmt.Errorf("check favorite: %w", err))
		}
		state = stateOf(rel)
		t.mu.Lock()
		e.state, e.recordID = state, rel.RecordID
		e.pending.previous, e.pending.previousRecord = state, rel.RecordID
		t.mu.Unlock()
	}

	if state == domain.Favorite {
		t.set(e, domain.NotFavorite)
		if err := t.remove(ctx, e, productID); err != nil {
			return t.rollback(ctx, e, epoch, productID, err)
		}
		t.confirm(e, epoch, 0)
		return OutcomeConfirmed, nil
	}

	t.set(e, domain.Favorite)
	recordID, err := t.backend.AddFavorite(ctx, productID)
	if err != nil {
		return t.rollback(ctx, e, epoch, productID, fmt.Errorf("add favorite: %w", err))
	}
	t.confirm(e, epoch, recordID)
	return OutcomeConfirmed, nil
}

// remove deletes the relation, looking its record id up in the favorites list
// when it is not cached. A relation the server no longer has counts as removed.
func (t *Toggle) remove(ctx context.Context, e *entry, productID int64) error {
	t.mu.Lock()
	recordID := e.pending.previousRecord
	t.mu.Unlock()

	if recordID == 0 {
		all, err := t.backend.ListFavorites(ctx)
		if err != nil {
			return fmt.Errorf("list favorites: %w", err)
		}
		for _, rel := range all {
			if rel.ProductID == productID {
				recordID = rel.RecordID
				break
			}
		}
		if recordID == 0 {
			return nil
		}
	}

	if err := t.backend.RemoveFavorite(ctx, recordID); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func (t *Toggle) set(e *entry, state domain.FavoriteState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.state = state
}

func (t *Toggle) confirm(e *entry, epoch uint64, recordID int64) {
	t.mu.Lock()
	e.recordID = recordID
	e.pending = nil
	t.seq++
	e.written = t.seq
	state := e.state
	current := t.epoch == epoch
	t.mu.Unlock()

	metrics.FavoriteToggles.WithLabelValues(OutcomeConfirmed.String()).Inc()
	if current && t.notifier != nil {
		msg := "Added to your favorites"
		if state == domain.NotFavorite {
			msg = "Removed from your favorites"
		}
		t.notifier.Notify(notify.LevelSuccess, msg)
	}
}

func (t *Toggle) rollback(ctx context.Context, e *entry, epoch uint64, productID int64, err error) (Outcome, error) {
	t.mu.Lock()
	p := e.pending
	e.state, e.recordID = p.previous, p.previousRecord
	e.pending = nil
	current := t.epoch == epoch
	t.mu.Unlock()

	metrics.FavoriteToggles.WithLabelValues(OutcomeRolledBack.String()).Inc()
	t.log.WarnContext(ctx, "favorite toggle rolled back", "product_id", productID, "state", p.previous.String(), "error", err)
	if current && t.notifier != nil {
		t.notifier.Notify(notify.LevelError, "Could not update your favorites")
	}
	return OutcomeRolledBack, err
}

// Status returns the last confirmed or optimistic state and whether a toggle is in flight.
func (t *Toggle) Status(productID int64) (domain.FavoriteState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[productID]
	if !ok {
		return domain.FavoriteUnknown, false
	}
	return e.state, e.pending != nil
}

// Refresh asks the server for productID's state. An in-flight toggle is left alone.
func (t *Toggle) Refresh(ctx context.Context, productID int64) (domain.FavoriteState, error) {
	if !t.auth.Authenticated() {
		return domain.FavoriteUnknown, nil
	}
	rel, err := t.backend.CheckFavorite(ctx, productID)
	if err != nil {
		return domain.FavoriteUnknown, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(productID)
	if e.pending == nil {
		e.state, e.recordID = stateOf(rel), rel.RecordID
		t.seq++
		e.written = t.seq
	}
	return e.state, nil
}

// Prime loads every favorite of the user. Known products missing from the list
// become NotFavorite. Products written while the list was loading keep their state.
func (t *Toggle) Prime(ctx context.Context) error {
	t.mu.Lock()
	epoch, seq := t.epoch, t.seq
	t.mu.Unlock()

	all, err := t.backend.ListFavorites(ctx)
	if err != nil {
		return fmt.Errorf("list favorites: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epoch != epoch {
		return nil
	}
	seen := make(map[int64]bool, len(all))
	for _, rel := range all {
		seen[rel.ProductID] = true
		e := t.entry(rel.ProductID)
		if e.pending == nil && e.written <= seq {
			e.state, e.recordID = domain.Favorite, rel.RecordID
		}
	}
	for id, e := range t.entries {
		if !seen[id] && e.pending == nil && e.written <= seq {
			e.state, e.recordID = domain.NotFavorite, 0
		}
	}
	return nil
}

// Reset forgets every product state.
func (t *Toggle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
	t.entries = make(map[int64]*entry)
}

// OnSessionChange forgets everything when the user changes and primes the
// favorites of a newly logged-in user in the background.
func (t *Toggle) OnSessionChange(prev, next domain.Session) {
	if prev.Authenticated() == next.Authenticated() && prev.OwnerID() == next.OwnerID() {
		return
	}
	t.Reset()
	if !next.Authenticated() {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.Prime(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.log.Warn("failed to load favorites", "error", err)
		}
	}()
}

// Wait blocks until background loads have finished.
func (t *Toggle) Wait() {
	t.wg.Wait()
}

func (t *Toggle) entry(productID int64) *entry {
	e, ok := t.entries[productID]
	if !ok {
		e = &entry{state: domain.FavoriteUnknown}
		t.entries[productID] = e
	}
	return e
}

func stateOf(rel domain.FavoriteRelation) domain.FavoriteState {
	if rel.Present {
		return domain.Favorite
	}
	return domain.NotFavorite
}
