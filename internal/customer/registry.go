// Package customer keeps customer records and their purchase statistics.
package customer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kv"
	"nvoice/backend/internal/validate"
	"nvoice/backend/internal/xid"
)

type Registry struct {
	store  kv.Accessor
	logger *slog.Logger
	now    func() time.Time
}

func New(store kv.Accessor, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger, now: time.Now}
}

// WithTx returns a registry bound to tx, for use inside kv.Atomic.
func (r *Registry) WithTx(tx kv.Accessor) *Registry {
	bound := *r
	bound.store = tx
	return &bound
}

// SetClock replaces the time source used for createdDate.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) load(ctx context.Context, a kv.Accessor) ([]domain.Customer, error) {
	var customers []domain.Customer
	if err := kv.Load(ctx, a, kv.KeyCustomers, &customers, r.logger); err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *Registry) mutate(ctx context.Context, fn func(customers []domain.Customer) ([]domain.Customer, bool)) error {
	return kv.Update(ctx, r.store, func(ctx context.Context, tx kv.Accessor) error {
		customers, err := r.load(ctx, tx)
		if err != nil {
			return err
		}
		next, changed := fn(customers)
		if !changed {
			return nil
		}
		return tx.Set(ctx, kv.KeyCustomers, next)
	})
}

// Add validates input and stores a new customer with zeroed statistics.
func (r *Registry) Add(ctx context.Context, input domain.CustomerInput) (domain.Customer, error) {
	input = trimInput(input)
	if err := validate.Struct(input); err != nil {
		return domain.Customer{}, err
	}

	created := domain.Customer{
		ID:             xid.New("cust"),
		Name:           input.Name,
		Mobile:         input.Mobile,
		Email:          input.Email,
		Address:        input.Address,
		CreatedDate:    r.now().UTC(),
		TotalPurchases: 0,
		TotalAmount:    decimal.Zero,
	}
	err := r.mutate(ctx, func(customers []domain.Customer) ([]domain.Customer, bool) {
		return append(customers, created), true
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return created, nil
}

func (r *Registry) Get(ctx context.Context, id string) (domain.Customer, bool, error) {
	customers, err := r.load(ctx, r.store)
	if err != nil {
		return domain.Customer{}, false, err
	}
	for _, c := range customers {
		if c.ID == id {
			return c, true, nil
		}
	}
	return domain.Customer{}, false, nil
}

// List returns customers in creation order.
func (r *Registry) List(ctx context.Context) ([]domain.Customer, error) {
	customers, err := r.load(ctx, r.store)
	if err != nil {
		return nil, err
	}
	if customers == nil {
		customers = []domain.Customer{}
	}
	return customers, nil
}

// Update merges the non-nil fields of patch. Identity and statistics cannot be
// patched. It reports false when id is unknown.
func (r *Registry) Update(ctx context.Context, id string, patch domain.CustomerPatch) (domain.Customer, bool, error) {
	var (
		updated  domain.Customer
		found    bool
		patchErr error
	)
	err := r.mutate(ctx, func(customers []domain.Customer) ([]domain.Customer, bool) {
		for i := range customers {
			if customers[i].ID != id {
				continue
			}
			found = true
			next := applyPatch(customers[i], patch)
			input := trimInput(domain.CustomerInput{Name: next.Name, Mobile: next.Mobile, Email: next.Email, Address: next.Address})
			if patchErr = validate.Struct(input); patchErr != nil {
				return customers, false
			}
			next.Name, next.Mobile, next.Email, next.Address = input.Name, input.Mobile, input.Email, input.Address
			customers[i] = next
			updated = next
			return customers, true
		}
		return customers, false
	})
	if err != nil {
		return domain.Customer{}, false, err
	}
	if patchErr != nil {
		return domain.Customer{}, true, patchErr
	}
	return updated, found, nil
}

func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	removed := false
	err := r.mutate(ctx, func(customers []domain.Customer) ([]domain.Customer, bool) {
		out := customers[:0]
		for _, c := range customers {
			if c.ID == id {
				removed = true
				continue
			}
			out = append(out, c)
		}
		return out, removed
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// RecordPurchase adds one purchase of amount to the customer's statistics. It
// reports false, and changes nothing, when id is unknown.
func (r *Registry) RecordPurchase(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	found := false
	err := r.mutate(ctx, func(customers []domain.Customer) ([]domain.Customer, bool) {
		for i := range customers {
			if customers[i].ID == id {
				customers[i].TotalPurchases++
				customers[i].TotalAmount = customers[i].TotalAmount.Add(amount)
				found = true
				break
			}
		}
		return customers, found
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Search matches name and email case-insensitively, and mobile as a plain substring.
func (r *Registry) Search(ctx context.Context, query string) ([]domain.Customer, error) {
	customers, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return customers, nil
	}
	lower := strings.ToLower(q)

	out := make([]domain.Customer, 0)
	for _, c := range customers {
		if strings.Contains(strings.ToLower(c.Name), lower) ||
			strings.Contains(c.Mobile, q) ||
			strings.Contains(strings.ToLower(c.Email), lower) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Replace overwrites every customer record, as used by data import.
func (r *Registry) Replace(ctx context.Context, customers []domain.Customer) error {
	if customers == nil {
		customers = []domain.Customer{}
	}
	return r.store.Set(ctx, kv.KeyCustomers, customers)
}

func applyPatch(c domain.Customer, patch domain.CustomerPatch) domain.Customer {
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Mobile != nil {
		c.Mobile = *patch.Mobile
	}
	if patch.Email != nil {
		c.Email = *patch.Email
	}
	if patch.Address != nil {
		c.Address = *patch.Address
	}
	return c
}

func trimInput(in domain.CustomerInput) domain.CustomerInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Mobile = strings.TrimSpace(in.Mobile)
	in.Email = strings.TrimSpace(in.Email)
	in.Address = strings.TrimSpace(in.Address)
	return in
}
