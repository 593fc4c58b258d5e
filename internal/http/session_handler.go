package http

import (
	"encoding/json"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type SessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *domain.User `json:"user,omitempty"`
	RefreshState  string       `json:"refresh_state"`
	CartMode      string       `json:"cart_mode"`
}

func (h *Handler) sessionResponse() SessionResponse {
	resp := SessionResponse{
		Authenticated: h.app.Credentials.Authenticated(),
		RefreshState:  h.app.Refresh.State().String(),
		CartMode:      h.app.Cart.Mode().String(),
	}
	if u, ok := h.app.Session.User(); ok && resp.Authenticated {
		resp.User = &u
	}
	return resp
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sessionResponse())
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if _, err := h.app.Session.Login(r.Context(), req); err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.sessionResponse())
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if _, err := h.app.Session.Register(r.Context(), req); err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.sessionResponse())
}

// Logout always succeeds locally; the server revocation is best effort.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.app.Session.Logout(r.Context())
	respondJSON(w, http.StatusOK, h.sessionResponse())
}
