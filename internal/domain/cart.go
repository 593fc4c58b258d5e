package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// ProductSnapshot is the denormalized display data carried with a cart line.
type ProductSnapshot struct {
	Name     string `json:"name"`
	Slug     string `json:"slug,omitempty"`
	SKU      string `json:"sku,omitempty"`
	Image    string `json:"image,omitempty"`
	Brand    string `json:"brand,omitempty"`
	Category string `json:"category,omitempty"`
}

type Product struct {
	ID            int64           `json:"id"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Stock         int             `json:"stock"`
	Snapshot      ProductSnapshot `json:"snapshot"`
}

type CartLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Product   ProductSnapshot `json:"product"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type CartMode int

const (
	// CartGuest carts live only in memory and are lost on restart.
	CartGuest CartMode = iota
	// CartBound carts mirror the server cart of the authenticated user.
	CartBound
)

func (m CartMode) String() string {
	if m == CartBound {
		return "bound"
	}
	return "guest"
}

func (m CartMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Cart is an ordered set of lines, at most one per product.
type Cart struct {
	Mode    CartMode   `json:"mode"`
	OwnerID string     `json:"owner_id,omitempty"`
	Lines   []CartLine `json:"lines"`
}

func NewGuestCart() *Cart {
	return &Cart{Mode: CartGuest, Lines: []CartLine{}}
}

func (c *Cart) findLine(productID int64) int {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) Line(productID int64) (CartLine, bool) {
	if i := c.findLine(productID); i >= 0 {
		return c.Lines[i], true
	}
	return CartLine{}, false
}

// Add increments an existing line or appends a new one.
func (c *Cart) Add(p Product, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if i := c.findLine(p.ID); i >= 0 {
		c.Lines[i].Quantity += quantity
		return nil
	}
	c.Lines = append(c.Lines, CartLine{
		ProductID: p.ID,
		Quantity:  quantity,
		UnitPrice: p.Price,
		Product:   p.Snapshot,
	})
	return nil
}

// SetQuantity sets the quantity of an existing line; quantity <= 0 removes it.
// Reports whether the line existed.
func (c *Cart) SetQuantity(productID int64, quantity int) bool {
	i := c.findLine(productID)
	if i < 0 {
		return false
	}
	if quantity <= 0 {
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		return true
	}
	c.Lines[i].Quantity = quantity
	return true
}

func (c *Cart) Remove(productID int64) bool {
	i := c.findLine(productID)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return true
}

func (c *Cart) Clear() {
	c.Lines = []CartLine{}
}

// ReplaceLines installs an authoritative line set. Lines with quantity < 1 are
// dropped and a repeated product keeps its last occurrence.
func (c *Cart) ReplaceLines(lines []CartLine) {
	out := make([]CartLine, 0, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			continue
		}
		replaced := false
		for i := range out {
			if out[i].ProductID == l.ProductID {
				out[i] = l
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, l)
		}
	}
	c.Lines = out
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) Clone() Cart {
	lines := make([]CartLine, len(c.Lines))
	copy(lines, c.Lines)
	return Cart{Mode: c.Mode, OwnerID: c.OwnerID, Lines: lines}
}
