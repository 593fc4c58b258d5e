// Package http is the loopback JSON bridge between the storefront UI and the
// client engine.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/app"
	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/refresh"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/fjod/go_cart/storefront/pkg/circuitbreaker"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/fjod/go_cart/storefront/pkg/validator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Handler struct {
	app       *app.App
	validator *validator.Validator
	timeout   time.Duration
	log       *slog.Logger
}

func NewHandler(a *app.App, timeout time.Duration, log *slog.Logger) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		app:       a,
		validator: validator.NewValidator(),
		timeout:   timeout,
		log:       logger.Or(log).With("component", "bridge"),
	}
}

// Routes builds the bridge router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))
	r.Use(metrics.Middleware)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/login", h.Login)
			r.Post("/register", h.Register)
			r.Post("/logout", h.Logout)
		})
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddItem)
			r.Put("/items/{product_id}", h.UpdateQuantity)
			r.Delete("/items/{product_id}", h.RemoveItem)
		})
		r.Route("/favorites/{product_id}", func(r chi.Router) {
			r.Get("/", h.GetFavorite)
			r.Post("/toggle", h.ToggleFavorite)
		})
		r.Get("/notifications", h.Notifications)
	})

	return otelhttp.NewHandler(r, "storefront-bridge")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": h.app.Breaker.State(),
	})
}

// Notifications returns notifications newer than ?after=<id>.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if s := r.URL.Query().Get("after"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "after must be a notification id")
			return
		}
		after = v
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": h.app.Notifications.Since(after),
	})
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps engine and backend errors to bridge responses.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status  int
		code    string
		message string
		details string
	)

	switch {
	case errors.Is(err, session.ErrInvalidInput):
		status, code, message = http.StatusBadRequest, "invalid_input", err.Error()
	case errors.Is(err, domain.ErrInvalidQuantity):
		status, code, message = http.StatusBadRequest, "invalid_quantity", err.Error()
	case errors.Is(err, cart.ErrLineNotFound):
		status, code, message = http.StatusNotFound, "not_found", "product is not in the cart"
	case errors.Is(err, refresh.ErrRefreshFailed):
		status, code, message = http.StatusUnauthorized, "session_expired", "your session has expired, please log in again"
	case errors.Is(err, circuitbreaker.ErrOpen):
		status, code, message = http.StatusServiceUnavailable, "service_unavailable", "the store is temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code, message = http.StatusGatewayTimeout, "timeout", "the store did not answer in time"
	default:
		apiErr, ok := backend.AsError(err)
		if !ok {
			status, code, message = http.StatusBadGateway, "backend_unreachable", "could not reach the store"
			break
		}
		message, details = apiErr.Message, fieldDetails(apiErr)
		switch {
		case apiErr.IsUnauthorized():
			status, code = http.StatusUnauthorized, "unauthenticated"
		case apiErr.IsForbidden():
			status, code = http.StatusForbidden, "permission_denied"
		case apiErr.IsNotFound():
			status, code = http.StatusNotFound, "not_found"
		case apiErr.IsValidationError():
			status, code = http.StatusBadRequest, "invalid_argument"
		case apiErr.IsServerError():
			status, code = http.StatusBadGateway, "backend_error"
		default:
			status, code = apiErr.StatusCode, "backend_rejected"
		}
	}

	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	respondJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

func fieldDetails(apiErr *backend.Error) string {
	if len(apiErr.Fields) == 0 {
		return ""
	}
	b, err := json.Marshal(apiErr.Fields)
	if err != nil {
		return ""
	}
	return string(b)
}

func productIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
