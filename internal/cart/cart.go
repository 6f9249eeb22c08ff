package cart

import (
	"errors"
	"sync"

	"github.com/example/airbear/internal/models"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Cart is an in-memory bodega cart keyed by product id. The zero value is
// ready to use. Nothing is persisted.
type Cart struct {
	mu    sync.RWMutex
	items []models.CartItem
}

func New() *Cart { return &Cart{} }

// AddItem merges qty units of item into the cart. The item's own Quantity
// field is ignored.
func (c *Cart) AddItem(item models.CartItem, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ProductID == item.ProductID {
			c.items[i].Quantity += qty
			return nil
		}
	}
	item.Quantity = qty
	c.items = append(c.items, item)
	return nil
}

// RemoveItem drops the product regardless of its quantity. Unknown ids are
// ignored.
func (c *Cart) RemoveItem(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ProductID == productID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

func (c *Cart) Clear() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}

// Items returns a snapshot in insertion order.
func (c *Cart) Items() []models.CartItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.CartItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cart) TotalCents() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, it := range c.items {
		total += it.PriceCents * int64(it.Quantity)
	}
	return total
}

// LineItems converts the cart into hosted-checkout line items.
func (c *Cart) LineItems(currency string) []models.LineItem {
	items := c.Items()
	out := make([]models.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, models.LineItem{
			PriceData: models.PriceData{
				Currency:    currency,
				ProductData: models.ProductData{Name: it.Name},
				UnitAmount:  it.PriceCents,
			},
			Quantity: int64(it.Quantity),
		})
	}
	return out
}
