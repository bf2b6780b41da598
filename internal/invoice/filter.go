package invoice

import (
	"strings"

	"nvoice/backend/internal/domain"
)

// Apply keeps the invoices that pass every criterion set in f. Order is preserved.
func Apply(invoices []domain.Invoice, f domain.InvoiceFilter) []domain.Invoice {
	out := make([]domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if Matches(inv, f) {
			out = append(out, inv)
		}
	}
	return out
}

func Matches(inv domain.Invoice, f domain.InvoiceFilter) bool {
	if q := strings.TrimSpace(f.Query); q != "" {
		if !containsFold(inv.InvoiceNumber, q) &&
			!containsFold(inv.Customer.Name, q) &&
			!strings.Contains(inv.Customer.Mobile, q) {
			return false
		}
	}
	if f.Date != "" && inv.Date.UTC().Format("2006-01-02") != f.Date {
		return false
	}
	if f.MinAmount != nil && inv.Total.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && inv.Total.GreaterThan(*f.MaxAmount) {
		return false
	}
	if f.EditedOnly && !inv.IsEdited {
		return false
	}
	if f.OriginalOnly && inv.IsEdited {
		return false
	}
	if f.CustomerID != "" && inv.CustomerID != f.CustomerID {
		return false
	}
	if f.From != nil && inv.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && inv.Date.After(*f.To) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
