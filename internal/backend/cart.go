package backend

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	pathCart       = "orders/carrito/"
	pathCartAdd    = "orders/carrito/agregar/"
	pathCartUpdate = "orders/carrito/actualizar/%d/"
	pathCartRemove = "orders/carrito/quitar/%d/"
	pathCartClear  = "orders/carrito/vaciar/"
)

type productDetailDTO struct {
	ID              int64           `json:"id"`
	Slug            string          `json:"slug"`
	Nombre          string          `json:"nombre"`
	SKU             string          `json:"sku"`
	Precio          decimal.Decimal `json:"precio"`
	PrecioOriginal  decimal.Decimal `json:"precio_original"`
	StockActual     int             `json:"stock_actual"`
	ImagenURL       string          `json:"imagen_url"`
	MarcaNombre     string          `json:"marca_nombre"`
	CategoriaNombre string          `json:"categoria_nombre"`
}

type cartItemDTO struct {
	ProductoID      int64             `json:"producto_id"`
	Cantidad        *int              `json:"cantidad"`
	ProductoDetalle *productDetailDTO `json:"producto_detalle"`
}

type cartDTO struct {
	Items []cartItemDTO `json:"items"`
}

// toLines drops items without product details or with a non-positive quantity.
func (c *Client) toLines(dto cartDTO) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(dto.Items))
	for _, it := range dto.Items {
		d := it.ProductoDetalle
		if d == nil {
			c.log.Warn("cart item without product details", "producto_id", it.ProductoID)
			continue
		}
		qty := 1
		if it.Cantidad != nil {
			qty = *it.Cantidad
		}
		if qty <= 0 {
			continue
		}

		id := it.ProductoID
		if id == 0 {
			id = d.ID
		}
		lines = append(lines, domain.CartLine{
			ProductID: id,
			Quantity:  qty,
			UnitPrice: d.Precio,
			Product: domain.ProductSnapshot{
				Name:     d.Nombre,
				Slug:     d.Slug,
				SKU:      d.SKU,
				Image:    c.MediaURL(d.ImagenURL),
				Brand:    d.MarcaNombre,
				Category: d.CategoriaNombre,
			},
		})
	}
	return lines
}

// GetCart returns the authoritative server cart.
func (c *Client) GetCart(ctx context.Context) ([]domain.CartLine, error) {
	var dto cartDTO
	if err := c.get(ctx, "cart_get", pathCart, &dto); err != nil {
		return nil, err
	}
	return c.toLines(dto), nil
}

func (c *Client) AddToCart(ctx context.Context, productID int64, quantity int) error {
	body := map[string]interface{}{"producto_id": productID, "cantidad": quantity}
	return c.post(ctx, "cart_add", pathCartAdd, body, nil)
}

func (c *Client) UpdateCartItem(ctx context.Context, productID int64, quantity int) error {
	body := map[string]interface{}{"cantidad": quantity}
	return c.put(ctx, "cart_update", fmt.Sprintf(pathCartUpdate, productID), body, nil)
}

func (c *Client) RemoveCartItem(ctx context.Context, productID int64) error {
	return c.delete(ctx, "cart_remove", fmt.Sprintf(pathCartRemove, productID))
}

func (c *Client) ClearCart(ctx context.Context) error {
	return c.post(ctx, "cart_clear", pathCartClear, nil, nil)
}
