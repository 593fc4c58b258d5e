package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/notify"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errServer = errors.New("server unavailable")

type mockBackend struct {
	m     sync.Mutex
	lines []domain.CartLine
	calls []string

	addErr    error
	getErr    error
	updateErr error
	removeErr error
	clearErr  error

	// updateFn, when set, decides the outcome of UpdateCartItem
	updateFn func(quantity int) error
}

func (m *mockBackend) record(call string) {
	m.m.Lock()
	defer m.m.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockBackend) Calls() []string {
	m.m.Lock()
	defer m.m.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockBackend) GetCart(context.Context) ([]domain.CartLine, error) {
	m.record("GET /orders/carrito/")
	m.m.Lock()
	defer m.m.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return append([]domain.CartLine(nil), m.lines...), nil
}

func (m *mockBackend) AddToCart(_ context.Context, productID int64, quantity int) error {
	m.record(fmt.Sprintf("POST /orders/carrito/agregar/ %d %d", productID, quantity))
	m.m.Lock()
	defer m.m.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	for i := range m.lines {
		if m.lines[i].ProductID == productID {
			m.lines[i].Quantity += quantity
			return nil
		}
	}
	m.lines = append(m.lines, domain.CartLine{ProductID: productID, Quantity: quantity, UnitPrice: decimal.NewFromInt(99)})
	return nil
}

func (m *mockBackend) UpdateCartItem(_ context.Context, productID int64, quantity int) error {
	m.record(fmt.Sprintf("PUT /orders/carrito/actualizar/%d/ %d", productID, quantity))
	m.m.Lock()
	fn, err := m.updateFn, m.updateErr
	m.m.Unlock()
	if fn != nil {
		return fn(quantity)
	}
	return err
}

func (m *mockBackend) RemoveCartItem(_ context.Context, productID int64) error {
	m.record(fmt.Sprintf("DELETE /orders/carrito/quitar/%d/", productID))
	m.m.Lock()
	defer m.m.Unlock()
	return m.removeErr
}

func (m *mockBackend) ClearCart(context.Context) error {
	m.record("POST /orders/carrito/vaciar/")
	m.m.Lock()
	defer m.m.Unlock()
	return m.clearErr
}

func newTestStore(b *mockBackend) (*Store, *notify.Feed) {
	feed := notify.NewFeed(10)
	return NewStore(b, feed, time.Second, logger.Discard()), feed
}

func product(id int64, price string) domain.Product {
	return domain.Product{
		ID:       id,
		Price:    decimal.RequireFromString(price),
		Snapshot: domain.ProductSnapshot{Name: fmt.Sprintf("product %d", id)},
	}
}

func line(id int64, qty int, price string) domain.CartLine {
	return domain.CartLine{ProductID: id, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func session(t *testing.T, userID int) domain.Session {
	return sessionWithID(t, userID, "t1")
}

func sessionWithID(t *testing.T, userID int, jti string) domain.Session {
	t.Helper()
	claims := jwt.MapClaims{"user_id": userID, "jti": jti}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return domain.Session{AccessToken: tok, RefreshToken: "r"}
}

// boundStore returns a store already bound to user 1 holding lines.
func boundStore(t *testing.T, lines ...domain.CartLine) (*Store, *mockBackend, *notify.Feed) {
	t.Helper()
	b := &mockBackend{lines: lines}
	s, feed := newTestStore(b)
	require.NoError(t, s.Bind(context.Background(), "1"))
	return s, b, feed
}

func TestAddItem_GuestIsLocalOnly(t *testing.T) {
	b := &mockBackend{}
	s, _ := newTestStore(b)

	require.NoError(t, s.AddItem(context.Background(), product(7, "10"), 2))

	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, int64(7), lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, domain.CartGuest, s.Mode())
	assert.Empty(t, b.Calls(), "guest cart must not touch the network")
}

func TestAddItem_GuestMergesSameProduct(t *testing.T) {
	s, _ := newTestStore(&mockBackend{})
	ctx := context.Background()

	require.NoError(t, s.AddItem(ctx, product(7, "10"), 2))
	require.NoError(t, s.AddItem(ctx, product(7, "10"), 1))

	require.Len(t, s.Lines(), 1)
	assert.Equal(t, 3, s.ItemCount())
}

func TestAddItem_RejectsNonPositive(t *testing.T) {
	s, _ := newTestStore(&mockBackend{})
	assert.ErrorIs(t, s.AddItem(context.Background(), product(7, "10"), 0), domain.ErrInvalidQuantity)
}

func TestAddItem_BoundRefetchesServerCart(t *testing.T) {
	s, b, _ := boundStore(t, line(3, 1, "5"))

	require.NoError(t, s.AddItem(context.Background(), product(7, "10"), 2))

	assert.Equal(t, []string{
		"GET /orders/carrito/",
		"POST /orders/carrito/agregar/ 7 2",
		"GET /orders/carrito/",
	}, b.Calls())

	lines := s.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, int64(7), lines[1].ProductID)
	assert.True(t, decimal.NewFromInt(99).Equal(lines[1].UnitPrice), "server price wins")
}

func TestAddItem_BoundFailureLeavesCartUntouched(t *testing.T) {
	s, b, _ := boundStore(t, line(3, 1, "5"))
	b.m.Lock()
	b.addErr = errServer
	b.m.Unlock()

	err := s.AddItem(context.Background(), product(7, "10"), 2)
	require.ErrorIs(t, err, errServer)

	assert.Equal(t, []domain.CartLine{line(3, 1, "5")}, s.Lines())
}

func TestUpdateQuantity_GuestOptimistic(t *testing.T) {
	s, _ := newTestStore(&mockBackend{})
	ctx := context.Background()
	require.NoError(t, s.AddItem(ctx, product(7, "10"), 2))

	require.NoError(t, s.UpdateQuantity(ctx, 7, 5))
	assert.Equal(t, 5, s.ItemCount())

	assert.ErrorIs(t, s.UpdateQuantity(ctx, 99, 1), ErrLineNotFound)
}

func TestUpdateQuantity_BoundDoesNotBlock(t *testing.T) {
	s, b, _ := boundStore(t, line(7, 1, "10"))
	release := make(chan struct{})
	b.updateFn = func(int) error {
		<-release
		return nil
	}

	require.NoError(t, s.UpdateQuantity(context.Background(), 7, 4))
	assert.Equal(t, 4, s.ItemCount(), "local line updated before the server answers")

	close(release)
	s.Wait()
	assert.Contains(t, b.Calls(), "PUT /orders/carrito/actualizar/7/ 4")
	assert.Equal(t, 4, s.ItemCount())
}

func TestUpdateQuantity_BoundFailureRollsBack(t *testing.T) {
	s, b, feed := boundStore(t, line(7, 1, "10"))
	b.updateErr = errServer

	require.NoError(t, s.UpdateQuantity(context.Background(), 7, 4))
	s.Wait()

	assert.Equal(t, 1, s.ItemCount())
	notes := feed.Since(0)
	require.Len(t, notes, 1)
	assert.Equal(t, notify.LevelError, notes[0].Level)
}

func TestUpdateQuantity_StaleFailureDoesNotClobberNewerWrite(t *testing.T) {
	s, b, feed := boundStore(t, line(7, 1, "10"))
	release := make(chan struct{})
	b.updateFn = func(quantity int) error {
		if quantity == 4 {
			<-release
			return errServer
		}
		return nil
	}

	ctx := context.Background()
	require.NoError(t, s.UpdateQuantity(ctx, 7, 4))
	require.NoError(t, s.UpdateQuantity(ctx, 7, 6))
	require.Eventually(t, func() bool {
		return len(b.Calls()) == 3
	}, 100*time.Millisecond, 10*time.Millisecond, "both updates should reach the server")

	close(release)
	s.Wait()

	assert.Equal(t, 6, s.ItemCount(), "failure of the older update must not undo the newer one")
	assert.Len(t, feed.Since(0), 1)
}

func TestUpdateQuantity_ZeroRemoves(t *testing.T) {
	s, b, _ := boundStore(t, line(7, 2, "10"), line(8, 1, "1"))

	require.NoError(t, s.UpdateQuantity(context.Background(), 7, 0))

	_, ok := findLine(s.Lines(), 7)
	assert.False(t, ok, "line removed locally before the server answers")

	s.Wait()
	assert.Contains(t, b.Calls(), "DELETE /orders/carrito/quitar/7/")
}

func TestRemoveItem_NoRollbackOnFailure(t *testing.T) {
	s, b, feed := boundStore(t, line(7, 2, "10"))
	b.removeErr = errServer

	s.RemoveItem(context.Background(), 7)
	s.Wait()

	assert.Empty(t, s.Lines())
	assert.Len(t, feed.Since(0), 1)
}

func TestClear_Bound(t *testing.T) {
	s, b, _ := boundStore(t, line(7, 2, "10"), line(8, 1, "1"))

	s.Clear(context.Background())
	assert.Empty(t, s.Lines())

	s.Wait()
	assert.Contains(t, b.Calls(), "POST /orders/carrito/vaciar/")
}

func TestClear_GuestIsLocalOnly(t *testing.T) {
	b := &mockBackend{}
	s, _ := newTestStore(b)
	require.NoError(t, s.AddItem(context.Background(), product(7, "10"), 2))

	s.Clear(context.Background())
	s.Wait()

	assert.Zero(t, s.ItemCount())
	assert.Empty(t, b.Calls())
}

func TestTotals_FollowLines(t *testing.T) {
	s, _ := newTestStore(&mockBackend{})
	ctx := context.Background()

	require.NoError(t, s.AddItem(ctx, product(1, "19.99"), 3))
	require.NoError(t, s.AddItem(ctx, product(2, "0.01"), 1))
	require.NoError(t, s.UpdateQuantity(ctx, 1, 2))

	want := decimal.Zero
	for _, l := range s.Lines() {
		want = want.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	assert.True(t, want.Equal(s.TotalPrice()))
	assert.Equal(t, "39.99", s.TotalPrice().StringFixed(2))
	assert.Equal(t, 3, s.ItemCount())

	s.RemoveItem(ctx, 1)
	assert.Equal(t, "0.01", s.TotalPrice().StringFixed(2))
}

func TestSessionChange_LoginReplacesGuestCart(t *testing.T) {
	server := []domain.CartLine{line(5, 3, "2.50"), line(6, 1, "7")}
	b := &mockBackend{lines: server}
	s, feed := newTestStore(b)
	ctx := context.Background()

	require.NoError(t, s.AddItem(ctx, product(1, "10"), 2))
	require.NoError(t, s.AddItem(ctx, product(2, "4"), 1))

	s.OnSessionChange(domain.Session{}, session(t, 42))
	assert.Equal(t, domain.CartBound, s.Mode())
	assert.Empty(t, s.Lines(), "guest lines are discarded at once")
	notes := feed.Since(0)
	require.Len(t, notes, 1, "the shopper is told the guest lines are gone")
	assert.Equal(t, notify.LevelInfo, notes[0].Level)

	s.Wait()
	assert.Equal(t, server, s.Lines())
	assert.Equal(t, "42", s.Snapshot().OwnerID)
	assert.NotContains(t, b.Calls(), "POST /orders/carrito/agregar/ 1 2", "guest lines are not merged")
}

func TestSessionChange_RefreshKeepsCart(t *testing.T) {
	s, b, _ := boundStore(t, line(7, 2, "10"))
	before := len(b.Calls())

	s.OnSessionChange(sessionWithID(t, 1, "t1"), sessionWithID(t, 1, "t2"))
	s.Wait()

	assert.Equal(t, before, len(b.Calls()), "same user, no reload")
	assert.Len(t, s.Lines(), 1)
}

func TestSessionChange_OtherUserRebinds(t *testing.T) {
	s, b, feed := boundStore(t, line(7, 2, "10"))
	b.m.Lock()
	b.lines = []domain.CartLine{line(9, 1, "3")}
	b.m.Unlock()

	s.OnSessionChange(session(t, 1), session(t, 2))
	s.Wait()

	assert.Equal(t, "2", s.Snapshot().OwnerID)
	assert.Empty(t, feed.Since(0), "a previous user's cart is not a guest cart")
	assert.Equal(t, []domain.CartLine{line(9, 1, "3")}, s.Lines())
}

func TestSessionChange_LogoutDiscards(t *testing.T) {
	s, _, _ := boundStore(t, line(7, 2, "10"))

	s.OnSessionChange(session(t, 1), domain.Session{})

	assert.Equal(t, domain.CartGuest, s.Mode())
	assert.Empty(t, s.Lines())
	assert.Empty(t, s.Snapshot().OwnerID)
}

func TestSessionChange_LateLoadAfterLogoutIsDropped(t *testing.T) {
	b := &mockBackend{lines: []domain.CartLine{line(5, 1, "1")}}
	s, _ := newTestStore(b)

	s.OnSessionChange(domain.Session{}, session(t, 1))
	s.OnSessionChange(session(t, 1), domain.Session{})
	s.Wait()

	assert.Equal(t, domain.CartGuest, s.Mode())
	assert.Empty(t, s.Lines())
}

func TestSessionChange_LoadFailureNotifies(t *testing.T) {
	b := &mockBackend{getErr: errServer}
	s, feed := newTestStore(b)

	s.OnSessionChange(domain.Session{}, session(t, 1))
	s.Wait()

	assert.Equal(t, domain.CartBound, s.Mode())
	assert.Empty(t, s.Lines())
	require.Len(t, feed.Since(0), 1)
}

func TestReload_Guest(t *testing.T) {
	b := &mockBackend{}
	s, _ := newTestStore(b)
	require.NoError(t, s.Reload(context.Background()))
	assert.Empty(t, b.Calls())
}

func findLine(lines []domain.CartLine, id int64) (domain.CartLine, bool) {
	for _, l := range lines {
		if l.ProductID == id {
			return l, true
		}
	}
	return domain.CartLine{}, false
}
