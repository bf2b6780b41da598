package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Category     string          `json:"category"`
	SKU          string          `json:"sku"`
	Stock        *int            `json:"stock,omitempty"`
	ReorderLevel *int            `json:"reorderLevel,omitempty"`
}

type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Amount is price * quantity for the line.
func (l CartLine) Amount() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ClampedAdd returns max(0, current+delta), saturating at math.MaxInt instead
// of wrapping.
func ClampedAdd(current, delta int) int {
	switch {
	case delta > 0 && current > math.MaxInt-delta:
		return math.MaxInt
	case delta < 0 && current < math.MinInt-delta:
		return 0
	}
	return max(0, current+delta)
}

// CustomerInfo is the customer as captured on a sale. ID is empty for walk-in customers.
type CustomerInfo struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Mobile  string `json:"mobile"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

type Customer struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Mobile         string          `json:"mobile"`
	Email          string          `json:"email,omitempty"`
	Address        string          `json:"address,omitempty"`
	CreatedDate    time.Time       `json:"createdDate"`
	TotalPurchases int             `json:"totalPurchases"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
}

func (c Customer) Info() CustomerInfo {
	return CustomerInfo{
		ID:      c.ID,
		Name:    c.Name,
		Mobile:  c.Mobile,
		Email:   c.Email,
		Address: c.Address,
	}
}

type CustomerInput struct {
	Name    string `json:"name" validate:"required"`
	Mobile  string `json:"mobile" validate:"required"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
	Address string `json:"address,omitempty"`
}

type CustomerPatch struct {
	Name    *string `json:"name,omitempty"`
	Mobile  *string `json:"mobile,omitempty"`
	Email   *string `json:"email,omitempty"`
	Address *string `json:"address,omitempty"`
}

type Invoice struct {
	InvoiceNumber string          `json:"invoiceNumber"`
	Date          time.Time       `json:"date"`
	Customer      CustomerInfo    `json:"customer"`
	Items         []CartLine      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	CustomerID    string          `json:"customerId,omitempty"`
	IsEdited      bool            `json:"isEdited,omitempty"`
	EditedFrom    string          `json:"editedFrom,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
}

// ItemCount is the total quantity across all lines.
func (inv Invoice) ItemCount() int {
	count := 0
	for _, item := range inv.Items {
		count += item.Quantity
	}
	return count
}

type InvoicePatch struct {
	Customer      *CustomerInfo `json:"customer,omitempty"`
	PaymentMethod *string       `json:"paymentMethod,omitempty"`
	IsEdited      *bool         `json:"isEdited,omitempty"`
	EditedFrom    *string       `json:"editedFrom,omitempty"`
}

// InvoiceFilter criteria are AND-combined. Zero values match everything.
type InvoiceFilter struct {
	Query        string
	Date         string
	MinAmount    *decimal.Decimal
	MaxAmount    *decimal.Decimal
	EditedOnly   bool
	OriginalOnly bool
	CustomerID   string
	From         *time.Time
	To           *time.Time
}

// Draft is the auto-saved in-progress sale of one user.
type Draft struct {
	Cart     []CartLine   `json:"cart"`
	Customer CustomerInfo `json:"customer"`
}

type CartView struct {
	Items     []CartLine      `json:"items"`
	Customer  CustomerInfo    `json:"customer"`
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
}

type StockStatus string

const (
	StockStatusOut StockStatus = "out_of_stock"
	StockStatusLow StockStatus = "low_stock"
	StockStatusIn  StockStatus = "in_stock"
)

type ProductStock struct {
	Product Product     `json:"product"`
	Stock   int         `json:"stock"`
	Status  StockStatus `json:"status"`
}

type GenerateInvoiceRequest struct {
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

type AddCartItemRequest struct {
	ProductID string `json:"productId"`
}

type AdjustQuantityRequest struct {
	Delta int `json:"delta"`
}

type SetStockRequest struct {
	Stock *int `json:"stock" validate:"required,min=0"`
}

type AdjustStockRequest struct {
	Delta int `json:"delta"`
}

type DataExport struct {
	Customers  []Customer     `json:"customers"`
	Invoices   []Invoice      `json:"invoices"`
	Inventory  map[string]int `json:"inventory"`
	ExportDate time.Time      `json:"exportDate"`
}

// DataImport replaces only the sections that are present (non-nil).
// ExportDate is accepted so an export file can be fed back unchanged.
type DataImport struct {
	Customers  []Customer     `json:"customers,omitempty"`
	Invoices   []Invoice      `json:"invoices,omitempty"`
	Inventory  StockLevels    `json:"inventory,omitempty"`
	ExportDate *time.Time     `json:"exportDate,omitempty"`
}

// StockLevels maps product ID to stock. It decodes from an object or from an
// array of [id, stock] pairs, the shape older backups use.
type StockLevels map[string]int

func (s *StockLevels) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*s = nil
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		var levels map[string]int
		if err := json.Unmarshal(trimmed, &levels); err != nil {
			return err
		}
		*s = levels
		return nil
	}

	var pairs [][]json.RawMessage
	if err := json.Unmarshal(trimmed, &pairs); err != nil {
		return err
	}
	levels := make(StockLevels, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return fmt.Errorf("inventory entry %d: want [id, stock], got %d values", i, len(pair))
		}
		var (
			id    string
			stock int
		)
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return fmt.Errorf("inventory entry %d id: %w", i, err)
		}
		if err := json.Unmarshal(pair[1], &stock); err != nil {
			return fmt.Errorf("inventory entry %d stock: %w", i, err)
		}
		levels[id] = stock
	}
	*s = levels
	return nil
}

// User is the persisted account record. PasswordHash never leaves the server.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"passwordHash"`
	CreatedDate  time.Time  `json:"createdDate"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

type PublicUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	CreatedDate time.Time  `json:"createdDate"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		CreatedDate: u.CreatedDate,
		LastLogin:   u.LastLogin,
	}
}

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

type AuthResponse struct {
	Success bool        `json:"success"`
	User    *PublicUser `json:"user,omitempty"`
	Token   string      `json:"token,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type Actor struct {
	UserID    string
	Email     string
	SessionID string
}

const DefaultPaymentMethod = "cash"
