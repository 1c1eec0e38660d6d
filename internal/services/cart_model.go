package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

// Cart is the ordered list of line items for the transaction in progress. Every effective
// mutation bumps Revision so asynchronous results can be matched to the cart they priced.
// Operations never fail: out-of-range indexes are ignored and values are clamped.
type Cart struct {
	items    []domain.LineItem
	revision uint64
}

// NewCart returns an empty cart at revision zero.
func NewCart() *Cart {
	return &Cart{}
}

// Items returns a copy of the current lines.
func (c *Cart) Items() []domain.LineItem {
	out := make([]domain.LineItem, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	return len(c.items)
}

// Revision returns the current mutation counter.
func (c *Cart) Revision() uint64 {
	return c.revision
}

// ItemCount sums quantities across lines.
func (c *Cart) ItemCount() int {
	count := 0
	for _, item := range c.items {
		count += item.Quantity
	}
	return count
}

// AddItem appends the item or, when a mergeable line with the same identity exists, increases
// its quantity. Quantities below one are treated as one.
func (c *Cart) AddItem(item domain.LineItem, qty int) {
	if qty < 1 {
		qty = 1
	}
	item.DiscountPercent = domain.ClampPercent(item.DiscountPercent)
	item.UnitPrice = domain.NonNegative(item.UnitPrice)

	if key, ok := item.MergeKey(); ok {
		for idx := range c.items {
			existing, mergeable := c.items[idx].MergeKey()
			if mergeable && existing == key {
				c.items[idx].Quantity += qty
				c.bump()
				return
			}
		}
	}
	item.Quantity = qty
	c.items = append(c.items, item)
	c.bump()
}

// RemoveItem drops the line at index.
func (c *Cart) RemoveItem(index int) {
	if !c.valid(index) {
		return
	}
	c.items = append(c.items[:index], c.items[index+1:]...)
	c.bump()
}

// SetQuantity replaces the quantity of a line. Values below one remove the line.
func (c *Cart) SetQuantity(index, qty int) {
	if !c.valid(index) {
		return
	}
	if qty < 1 {
		c.RemoveItem(index)
		return
	}
	if c.items[index].Quantity == qty {
		return
	}
	c.items[index].Quantity = qty
	c.bump()
}

// SetItemDiscountPercent sets the per-line discount, clamped to [0, 100].
func (c *Cart) SetItemDiscountPercent(index int, pct decimal.Decimal) {
	if !c.valid(index) {
		return
	}
	c.items[index].DiscountPercent = domain.ClampPercent(pct)
	c.bump()
}

// SetItemPrice overrides the unit price of a line, clamped at zero.
func (c *Cart) SetItemPrice(index int, price decimal.Decimal) {
	if !c.valid(index) {
		return
	}
	c.items[index].UnitPrice = domain.NonNegative(price)
	c.bump()
}

// Replace swaps the whole content, used when recalling a held transaction.
func (c *Cart) Replace(items []domain.LineItem) {
	c.items = make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			continue
		}
		c.items = append(c.items, item)
	}
	c.bump()
}

// Clear removes every line. The revision always advances so results for the previous
// transaction can never be applied to the next one.
func (c *Cart) Clear() {
	c.items = nil
	c.bump()
}

func (c *Cart) valid(index int) bool {
	return index >= 0 && index < len(c.items)
}

func (c *Cart) bump() {
	c.revision++
}
