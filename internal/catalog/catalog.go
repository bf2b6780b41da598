// Package catalog holds the read-only product list offered at the counter.
package catalog

import (
	"strings"

	"github.com/shopspring/decimal"

	"nvoice/backend/internal/domain"
)

type Catalog struct {
	products []domain.Product
	byID     map[string]int
}

func New(products []domain.Product) *Catalog {
	c := &Catalog{
		products: make([]domain.Product, len(products)),
		byID:     make(map[string]int, len(products)),
	}
	copy(c.products, products)
	for i, p := range c.products {
		c.byID[p.ID] = i
	}
	return c
}

// Default is the built-in store catalog.
func Default() *Catalog {
	return New(defaultProducts)
}

func (c *Catalog) All() []domain.Product {
	out := make([]domain.Product, len(c.products))
	copy(out, c.products)
	return out
}

func (c *Catalog) Find(id string) (domain.Product, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Product{}, false
	}
	return c.products[i], true
}

// Categories lists distinct categories in catalog order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 8)
	for _, p := range c.products {
		if seen[p.Category] {
			continue
		}
		seen[p.Category] = true
		out = append(out, p.Category)
	}
	return out
}

// Search matches query against name and SKU, case-insensitively. An empty query
// returns everything.
func (c *Catalog) Search(query string) []domain.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return c.All()
	}
	out := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.SKU), q) {
			out = append(out, p)
		}
	}
	return out
}

func product(id, name, price, category, sku string) domain.Product {
	return domain.Product{
		ID:       id,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Category: category,
		SKU:      sku,
	}
}

var defaultProducts = []domain.Product{
	product("1", "Rice (1kg)", "55.00", "Grocery", "GR001"),
	product("2", "Wheat Flour (1kg)", "42.00", "Grocery", "GR002"),
	product("3", "Sugar (1kg)", "45.00", "Grocery", "GR003"),
	product("4", "Salt (1kg)", "20.00", "Grocery", "GR004"),
	product("5", "Cooking Oil (1L)", "135.00", "Grocery", "GR005"),
	product("6", "Tea (250g)", "95.00", "Beverages", "BV001"),
	product("7", "Coffee (200g)", "180.00", "Beverages", "BV002"),
	product("8", "Milk (1L)", "60.00", "Dairy", "DA001"),
	product("9", "Butter (500g)", "270.00", "Dairy", "DA002"),
	product("10", "Cheese (200g)", "120.00", "Dairy", "DA003"),
	product("11", "Bread (Loaf)", "40.00", "Bakery", "BK001"),
	product("12", "Biscuits (Pack)", "30.00", "Snacks", "SN001"),
	product("13", "Chips (Pack)", "20.00", "Snacks", "SN002"),
	product("14", "Soap (Bar)", "35.00", "Personal Care", "PC001"),
	product("15", "Shampoo (200ml)", "110.00", "Personal Care", "PC002"),
	product("16", "Toothpaste", "65.00", "Personal Care", "PC003"),
	product("17", "Detergent (1kg)", "85.00", "Household", "HH001"),
	product("18", "Floor Cleaner (1L)", "95.00", "Household", "HH002"),
	product("19", "Eggs (12 pcs)", "72.00", "Dairy", "DA004"),
	product("20", "Noodles (Pack)", "14.00", "Snacks", "SN003"),
}
