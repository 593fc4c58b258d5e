package http

import (
	"encoding/json"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// AddItemRequestDTO carries the product snapshot along with the quantity: a
// guest cart has no server to look the product up in.
type AddItemRequestDTO struct {
	ProductID     int64           `json:"product_id" validate:"gt=0"`
	Quantity      int             `json:"quantity" validate:"min=1,max=99"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Stock         int             `json:"stock"`
	Name          string          `json:"name"`
	Slug          string          `json:"slug"`
	SKU           string          `json:"sku"`
	Image         string          `json:"image"`
	Brand         string          `json:"brand"`
	Category      string          `json:"category"`
}

func (d AddItemRequestDTO) product() domain.Product {
	return domain.Product{
		ID:            d.ProductID,
		Price:         d.Price,
		OriginalPrice: d.OriginalPrice,
		Stock:         d.Stock,
		Snapshot: domain.ProductSnapshot{
			Name:     d.Name,
			Slug:     d.Slug,
			SKU:      d.SKU,
			Image:    d.Image,
			Brand:    d.Brand,
			Category: d.Category,
		},
	}
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity" validate:"min=0,max=99"`
}

type CartItemResponse struct {
	domain.CartLine
	Subtotal decimal.Decimal `json:"subtotal"`
}

type CartResponse struct {
	Mode      domain.CartMode    `json:"mode"`
	OwnerID   string             `json:"owner_id,omitempty"`
	Items     []CartItemResponse `json:"items"`
	ItemCount int                `json:"item_count"`
	Total     decimal.Decimal    `json:"total"`
}

func (h *Handler) cartResponse() CartResponse {
	c := h.app.Cart.Snapshot()
	items := make([]CartItemResponse, 0, len(c.Lines))
	for _, l := range c.Lines {
		items = append(items, CartItemResponse{CartLine: l, Subtotal: l.Subtotal()})
	}
	return CartResponse{
		Mode:      c.Mode,
		OwnerID:   c.OwnerID,
		Items:     items,
		ItemCount: c.ItemCount(),
		Total:     c.TotalPrice(),
	}
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("reload") == "true" {
		if err := h.app.Cart.Reload(r.Context()); err != nil {
			h.handleError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, h.cartResponse())
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.validator.Validate(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	if err := h.app.Cart.AddItem(r.Context(), req.product(), req.Quantity); err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.cartResponse())
}

// UpdateQuantity answers with the optimistic cart; a failed server update shows
// up later as a notification and a restored quantity.
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.validator.Validate(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
		return
	}

	if err := h.app.Cart.UpdateQuantity(r.Context(), productID, req.Quantity); err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.cartResponse())
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	h.app.Cart.RemoveItem(r.Context(), productID)
	respondJSON(w, http.StatusOK, h.cartResponse())
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.app.Cart.Clear(r.Context())
	respondJSON(w, http.StatusOK, h.cartResponse())
}
