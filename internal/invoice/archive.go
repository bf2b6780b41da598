// Package invoice stores generated invoices and answers history queries.
package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kv"
)

// Archive never touches customer statistics; that happens once, in the
// checkout commit.
type Archive struct {
	store  kv.Accessor
	logger *slog.Logger
}

func NewArchive(store kv.Accessor, logger *slog.Logger) *Archive {
	return &Archive{store: store, logger: logger}
}

func (a *Archive) WithTx(tx kv.Accessor) *Archive {
	bound := *a
	bound.store = tx
	return &bound
}

func (a *Archive) load(ctx context.Context, acc kv.Accessor) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	if err := kv.Load(ctx, acc, kv.KeyInvoices, &invoices, a.logger); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (a *Archive) mutate(ctx context.Context, fn func(invoices []domain.Invoice) ([]domain.Invoice, bool, error)) error {
	return kv.Update(ctx, a.store, func(ctx context.Context, tx kv.Accessor) error {
		invoices, err := a.load(ctx, tx)
		if err != nil {
			return err
		}
		next, changed, err := fn(invoices)
		if err != nil || !changed {
			return err
		}
		return tx.Set(ctx, kv.KeyInvoices, next)
	})
}

// Add appends inv. A number already in the archive is rejected with
// domain.ErrDuplicateInvoice.
func (a *Archive) Add(ctx context.Context, inv domain.Invoice) error {
	return a.mutate(ctx, func(invoices []domain.Invoice) ([]domain.Invoice, bool, error) {
		for _, existing := range invoices {
			if existing.InvoiceNumber == inv.InvoiceNumber {
				return nil, false, fmt.Errorf("%w: %s", domain.ErrDuplicateInvoice, inv.InvoiceNumber)
			}
		}
		return append(invoices, inv), true, nil
	})
}

func (a *Archive) FindByNumber(ctx context.Context, number string) (domain.Invoice, bool, error) {
	invoices, err := a.load(ctx, a.store)
	if err != nil {
		return domain.Invoice{}, false, err
	}
	for _, inv := range invoices {
		if inv.InvoiceNumber == number {
			return inv, true, nil
		}
	}
	return domain.Invoice{}, false, nil
}

// List returns every invoice, newest first.
func (a *Archive) List(ctx context.Context) ([]domain.Invoice, error) {
	invoices, err := a.load(ctx, a.store)
	if err != nil {
		return nil, err
	}
	slices.Reverse(invoices)
	slices.SortStableFunc(invoices, func(x, y domain.Invoice) int {
		return y.Date.Compare(x.Date)
	})
	if invoices == nil {
		invoices = []domain.Invoice{}
	}
	return invoices, nil
}

// Update applies patch. Number, items and totals are never changed. A patched
// customer also moves CustomerID, so customer lookups follow the snapshot.
// Purchase statistics stay with the customer recorded at checkout.
func (a *Archive) Update(ctx context.Context, number string, patch domain.InvoicePatch) (domain.Invoice, bool, error) {
	var (
		updated domain.Invoice
		found   bool
	)
	err := a.mutate(ctx, func(invoices []domain.Invoice) ([]domain.Invoice, bool, error) {
		for i := range invoices {
			if invoices[i].InvoiceNumber != number {
				continue
			}
			if patch.Customer != nil {
				invoices[i].Customer = *patch.Customer
				invoices[i].CustomerID = patch.Customer.ID
			}
			if patch.PaymentMethod != nil {
				invoices[i].PaymentMethod = *patch.PaymentMethod
			}
			if patch.IsEdited != nil {
				invoices[i].IsEdited = *patch.IsEdited
			}
			if patch.EditedFrom != nil {
				invoices[i].EditedFrom = *patch.EditedFrom
			}
			updated = invoices[i]
			found = true
			return invoices, true, nil
		}
		return invoices, false, nil
	})
	if err != nil {
		return domain.Invoice{}, false, err
	}
	return updated, found, nil
}

// Delete reports false, leaving the archive untouched, when number is unknown.
func (a *Archive) Delete(ctx context.Context, number string) (bool, error) {
	removed := false
	err := a.mutate(ctx, func(invoices []domain.Invoice) ([]domain.Invoice, bool, error) {
		idx := slices.IndexFunc(invoices, func(inv domain.Invoice) bool { return inv.InvoiceNumber == number })
		if idx < 0 {
			return invoices, false, nil
		}
		removed = true
		return slices.Delete(invoices, idx, idx+1), true, nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

func (a *Archive) Search(ctx context.Context, query string) ([]domain.Invoice, error) {
	return a.Filter(ctx, domain.InvoiceFilter{Query: query})
}

// Filter returns the invoices, newest first, that pass every set criterion.
func (a *Archive) Filter(ctx context.Context, f domain.InvoiceFilter) ([]domain.Invoice, error) {
	invoices, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	return Apply(invoices, f), nil
}

// ByDateRange includes both ends.
func (a *Archive) ByDateRange(ctx context.Context, start, end time.Time) ([]domain.Invoice, error) {
	return a.where(ctx, func(inv domain.Invoice) bool {
		return !inv.Date.Before(start) && !inv.Date.After(end)
	})
}

func (a *Archive) ByCustomerID(ctx context.Context, customerID string) ([]domain.Invoice, error) {
	return a.where(ctx, func(inv domain.Invoice) bool {
		return inv.CustomerID == customerID
	})
}

func (a *Archive) ByCustomerName(ctx context.Context, name string) ([]domain.Invoice, error) {
	return a.where(ctx, func(inv domain.Invoice) bool {
		return containsFold(inv.Customer.Name, name)
	})
}

func (a *Archive) where(ctx context.Context, keep func(domain.Invoice) bool) ([]domain.Invoice, error) {
	invoices, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// Replace overwrites the archive, as used by data import.
func (a *Archive) Replace(ctx context.Context, invoices []domain.Invoice) error {
	if invoices == nil {
		invoices = []domain.Invoice{}
	}
	return a.store.Set(ctx, kv.KeyInvoices, invoices)
}
