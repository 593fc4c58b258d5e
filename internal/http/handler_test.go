package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/app"
	"github.com/fjod/go_cart/storefront/internal/backend/backendtest"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/notify"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBridge(t *testing.T) (http.Handler, *app.App, *backendtest.Server) {
	api := backendtest.New(t)
	cfg := &config.Config{
		API:         config.APIConfig{BaseURL: api.BaseURL(), Timeout: 2 * time.Second},
		Credentials: config.CredentialsConfig{Backend: config.CredentialsMemory},
		Cart:        config.CartConfig{SyncTimeout: 2 * time.Second},
		Breaker:     config.BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: time.Second},
	}
	a := app.New(cfg, nil, logger.Discard())
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Close)
	return NewHandler(a, 5*time.Second, logger.Discard()).Routes(), a, api
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type cartJSON struct {
	Mode  string `json:"mode"`
	Items []struct {
		ProductID int64  `json:"product_id"`
		Quantity  int    `json:"quantity"`
		Subtotal  string `json:"subtotal"`
	} `json:"items"`
	ItemCount int    `json:"item_count"`
	Total     string `json:"total"`
}

func login(t *testing.T, h http.Handler) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/session/login", map[string]string{
		"email":    backendtest.Email,
		"password": backendtest.Password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	h, _, _ := setupBridge(t)

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "closed", decode[map[string]string](t, rec)["backend"])
}

func TestGuestCart(t *testing.T) {
	h, _, _ := setupBridge(t)

	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", map[string]interface{}{
		"product_id": 7, "quantity": 2, "price": "12.50", "name": "Mouse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[cartJSON](t, rec)
	assert.Equal(t, "guest", c.Mode)
	assert.Equal(t, 2, c.ItemCount)
	assert.Equal(t, "25", c.Total)

	rec = do(t, h, http.MethodPut, "/api/v1/cart/items/7", map[string]int{"quantity": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[cartJSON](t, rec).Items)
}

func TestAddItem_Validation(t *testing.T) {
	h, _, _ := setupBridge(t)

	tests := []struct {
		name     string
		body     interface{}
		wantCode string
	}{
		{name: "malformed", body: "{", wantCode: "invalid_request"},
		{name: "zero quantity", body: map[string]int{"product_id": 1, "quantity": 0}, wantCode: "invalid_argument"},
		{name: "too many", body: map[string]int{"product_id": 1, "quantity": 100}, wantCode: "invalid_argument"},
		{name: "no product", body: map[string]int{"quantity": 1}, wantCode: "invalid_argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/cart/items", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestUpdateQuantity_UnknownLine(t *testing.T) {
	h, _, _ := setupBridge(t)

	rec := do(t, h, http.MethodPut, "/api/v1/cart/items/42", map[string]int{"quantity": 3})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/v1/cart/items/abc", map[string]int{"quantity": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_product_id", decode[ErrorResponse](t, rec).Code)
}

func TestLoginBindsCart(t *testing.T) {
	h, a, api := setupBridge(t)
	api.AddProduct(3, "Keyboard", "50.00")
	api.SetCartLine(3, 1)

	login(t, h)
	a.Cart.Wait()

	rec := do(t, h, http.MethodGet, "/api/v1/session", nil)
	s := decode[SessionResponse](t, rec)
	assert.True(t, s.Authenticated)
	require.NotNil(t, s.User)
	assert.Equal(t, backendtest.Email, s.User.Email)
	assert.Equal(t, "bound", s.CartMode)

	c := decode[cartJSON](t, do(t, h, http.MethodGet, "/api/v1/cart", nil))
	require.Len(t, c.Items, 1)
	assert.Equal(t, "50", c.Total)
}

func TestLoginRejected(t *testing.T) {
	h, _, _ := setupBridge(t)

	rec := do(t, h, http.MethodPost, "/api/v1/session/login", map[string]string{
		"email": backendtest.Email, "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[ErrorResponse](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/api/v1/session/login", map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[ErrorResponse](t, rec).Code)
}

func TestBoundQuantityRollbackIsNotified(t *testing.T) {
	h, a, api := setupBridge(t)
	api.AddProduct(3, "Keyboard", "50.00")
	api.SetCartLine(3, 1)
	login(t, h)
	a.Cart.Wait()

	api.FailMutations.Store(true)
	rec := do(t, h, http.MethodPut, "/api/v1/cart/items/3", map[string]int{"quantity": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[cartJSON](t, rec).ItemCount)

	a.Cart.Wait()
	c := decode[cartJSON](t, do(t, h, http.MethodGet, "/api/v1/cart", nil))
	assert.Equal(t, 1, c.ItemCount)

	n := decode[map[string][]notify.Notification](t, do(t, h, http.MethodGet, "/api/v1/notifications", nil))
	require.Len(t, n["notifications"], 1)
	assert.Equal(t, notify.LevelError, n["notifications"][0].Level)

	rec = do(t, h, http.MethodGet, "/api/v1/notifications?after=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpiredSessionRefreshesTransparently(t *testing.T) {
	h, a, api := setupBridge(t)
	api.AddProduct(3, "Keyboard", "50.00")
	login(t, h)
	a.Cart.Wait()
	a.Favorites.Wait()

	api.ExpireAccess()
	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", map[string]interface{}{"product_id": 3, "quantity": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, api.RefreshCalls())
	assert.Equal(t, 1, api.CartQuantity(3))
}

func TestRefreshFailureEndsSession(t *testing.T) {
	h, a, api := setupBridge(t)
	login(t, h)
	a.Cart.Wait()
	a.Favorites.Wait()

	api.ExpireAccess()
	api.RejectRefresh.Store(true)
	rec := do(t, h, http.MethodGet, "/api/v1/cart?reload=true", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_expired", decode[ErrorResponse](t, rec).Code)

	s := decode[SessionResponse](t, do(t, h, http.MethodGet, "/api/v1/session", nil))
	assert.False(t, s.Authenticated)
	assert.Equal(t, "guest", s.CartMode)
}

func TestFavorites(t *testing.T) {
	h, a, api := setupBridge(t)

	rec := do(t, h, http.MethodPost, "/api/v1/favorites/12/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", decode[map[string]interface{}](t, rec)["outcome"])

	login(t, h)
	a.Favorites.Wait()

	rec = do(t, h, http.MethodGet, "/api/v1/favorites/12", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not_favorite", decode[map[string]interface{}](t, rec)["state"])

	rec = do(t, h, http.MethodPost, "/api/v1/favorites/12/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "confirmed", body["outcome"])
	assert.Equal(t, "favorite", body["state"])
	assert.True(t, api.IsFavorite(12))
}

func TestLogout(t *testing.T) {
	h, a, api := setupBridge(t)
	login(t, h)
	a.Cart.Wait()

	rec := do(t, h, http.MethodPost, "/api/v1/session/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[SessionResponse](t, rec).Authenticated)
	assert.Equal(t, 1, api.LogoutCalls())
}
