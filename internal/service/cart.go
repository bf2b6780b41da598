package service

import (
	"context"
	"fmt"
	"strings"

	"nvoice/backend/internal/cart"
	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kv"
)

// ErrEmptyCart is returned when checkout is asked for with nothing in the cart.
var ErrEmptyCart = fmt.Errorf("%w: cart is empty", domain.ErrInvalidInput)

func (s *Service) Cart(ctx context.Context) (domain.CartView, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return domain.CartView{}, err
	}
	draft, err := s.drafts.Load(ctx, userID)
	if err != nil {
		return domain.CartView{}, err
	}
	return cart.New(draft.Cart).View(draft.Customer), nil
}

// editDraft loads the caller's draft, applies fn and saves the result in one unit.
func (s *Service) editDraft(ctx context.Context, fn func(c *cart.Cart, customer *domain.CustomerInfo) error) (domain.CartView, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return domain.CartView{}, err
	}

	var view domain.CartView
	err = s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		drafts := s.drafts.WithTx(tx)
		draft, err := drafts.Load(ctx, userID)
		if err != nil {
			return err
		}
		c := cart.New(draft.Cart)
		customer := draft.Customer
		if err := fn(c, &customer); err != nil {
			return err
		}
		if err := drafts.Save(ctx, userID, domain.Draft{Cart: c.Lines(), Customer: customer}); err != nil {
			return err
		}
		view = c.View(customer)
		return nil
	})
	if err != nil {
		return domain.CartView{}, err
	}
	return view, nil
}

func (s *Service) AddToCart(ctx context.Context, productID string) (domain.CartView, error) {
	product, ok := s.catalog.Find(strings.TrimSpace(productID))
	if !ok {
		return domain.CartView{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
	}
	return s.editDraft(ctx, func(c *cart.Cart, _ *domain.CustomerInfo) error {
		c.Add(product)
		return nil
	})
}

func (s *Service) AdjustCartItem(ctx context.Context, productID string, delta int) (domain.CartView, error) {
	return s.editDraft(ctx, func(c *cart.Cart, _ *domain.CustomerInfo) error {
		c.AdjustQuantity(productID, delta)
		return nil
	})
}

func (s *Service) RemoveCartItem(ctx context.Context, productID string) (domain.CartView, error) {
	return s.editDraft(ctx, func(c *cart.Cart, _ *domain.CustomerInfo) error {
		c.Remove(productID)
		return nil
	})
}

// ClearCart empties the cart and drops its draft. The selected customer stays.
func (s *Service) ClearCart(ctx context.Context) (domain.CartView, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return domain.CartView{}, err
	}
	if err := s.drafts.ClearCart(ctx, userID); err != nil {
		return domain.CartView{}, err
	}
	return s.Cart(ctx)
}

// SetCartCustomer selects the customer for the sale. A customer with an id must
// exist in the registry and is snapshotted from it; otherwise the details are
// kept as a walk-in.
func (s *Service) SetCartCustomer(ctx context.Context, info domain.CustomerInfo) (domain.CartView, error) {
	info.ID = strings.TrimSpace(info.ID)
	if info.ID != "" {
		registered, found, err := s.customers.Get(ctx, info.ID)
		if err != nil {
			return domain.CartView{}, err
		}
		if !found {
			return domain.CartView{}, fmt.Errorf("%w: customer %s", domain.ErrNotFound, info.ID)
		}
		info = registered.Info()
	}
	info.Name = strings.TrimSpace(info.Name)
	info.Mobile = strings.TrimSpace(info.Mobile)

	return s.editDraft(ctx, func(_ *cart.Cart, customer *domain.CustomerInfo) error {
		*customer = info
		return nil
	})
}

// ResetTransaction abandons the sale in progress.
func (s *Service) ResetTransaction(ctx context.Context) error {
	userID, err := s.userID(ctx)
	if err != nil {
		return err
	}
	return s.drafts.Clear(ctx, userID)
}
