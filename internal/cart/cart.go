// Package cart holds the lines of the sale in progress and the per-user draft
// that lets an interrupted sale resume.
package cart

import (
	"github.com/shopspring/decimal"

	"nvoice/backend/internal/domain"
)

// Cart is not safe for concurrent use. Every line has quantity > 0.
type Cart struct {
	lines []domain.CartLine
}

// New builds a cart from saved lines, dropping any with quantity <= 0 and
// merging duplicates.
func New(lines []domain.CartLine) *Cart {
	c := &Cart{lines: make([]domain.CartLine, 0, len(lines))}
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if i := c.index(line.Product.ID); i >= 0 {
			c.lines[i].Quantity += line.Quantity
			continue
		}
		c.lines = append(c.lines, line)
	}
	return c
}

func (c *Cart) index(productID string) int {
	for i := range c.lines {
		if c.lines[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

// Add puts one unit of p in the cart.
func (c *Cart) Add(p domain.Product) {
	if i := c.index(p.ID); i >= 0 {
		c.lines[i].Quantity++
		return
	}
	c.lines = append(c.lines, domain.CartLine{Product: p, Quantity: 1})
}

// AdjustQuantity adds delta to the line, removing it when the result is <= 0.
// Unknown products are ignored.
func (c *Cart) AdjustQuantity(productID string, delta int) {
	i := c.index(productID)
	if i < 0 {
		return
	}
	next := domain.ClampedAdd(c.lines[i].Quantity, delta)
	if next == 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return
	}
	c.lines[i].Quantity = next
}

func (c *Cart) Remove(productID string) {
	if i := c.index(productID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
}

func (c *Cart) Clear() {
	c.lines = c.lines[:0]
}

// Lines returns a copy of the current lines.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, line := range c.lines {
		n += line.Quantity
	}
	return n
}

func (c *Cart) Subtotal() decimal.Decimal {
	return Subtotal(c.lines)
}

// Tax is always zero.
func (c *Cart) Tax() decimal.Decimal {
	return decimal.Zero
}

func (c *Cart) Total() decimal.Decimal {
	return c.Subtotal().Add(c.Tax())
}

// View is the cart as returned to the terminal.
func (c *Cart) View(customer domain.CustomerInfo) domain.CartView {
	return domain.CartView{
		Items:     c.Lines(),
		Customer:  customer,
		ItemCount: c.ItemCount(),
		Subtotal:  c.Subtotal(),
		Tax:       c.Tax(),
		Total:     c.Total(),
	}
}

// Subtotal sums price * quantity over lines.
func Subtotal(lines []domain.CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.Amount())
	}
	return sum
}
