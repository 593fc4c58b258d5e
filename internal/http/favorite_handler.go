package http

import (
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/favorite"
)

type FavoriteResponse struct {
	ProductID int64                `json:"product_id"`
	State     domain.FavoriteState `json:"state"`
	Pending   bool                 `json:"pending"`
	Outcome   *favorite.Outcome    `json:"outcome,omitempty"`
}

// GetFavorite returns the known state, asking the server when it is unknown or
// ?refresh=true is given.
func (h *Handler) GetFavorite(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	state, pending := h.app.Favorites.Status(productID)
	if !pending && (state == domain.FavoriteUnknown || r.URL.Query().Get("refresh") == "true") {
		var err error
		if state, err = h.app.Favorites.Refresh(r.Context(), productID); err != nil {
			h.handleError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, FavoriteResponse{ProductID: productID, State: state, Pending: pending})
}

func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	outcome, err := h.app.Favorites.Toggle(r.Context(), productID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	state, pending := h.app.Favorites.Status(productID)
	respondJSON(w, http.StatusOK, FavoriteResponse{
		ProductID: productID,
		State:     state,
		Pending:   pending,
		Outcome:   &outcome,
	})
}
