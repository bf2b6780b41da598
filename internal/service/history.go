package service

import (
	"context"
	"fmt"

	"nvoice/backend/internal/domain"
)

func (s *Service) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	return s.archive.Filter(ctx, filter)
}

func (s *Service) GetInvoice(ctx context.Context, number string) (domain.Invoice, error) {
	inv, found, err := s.archive.FindByNumber(ctx, number)
	if err != nil {
		return domain.Invoice{}, err
	}
	if !found {
		return domain.Invoice{}, fmt.Errorf("%w: invoice %s", domain.ErrNotFound, number)
	}
	return inv, nil
}

func (s *Service) UpdateInvoice(ctx context.Context, number string, patch domain.InvoicePatch) (domain.Invoice, error) {
	inv, found, err := s.archive.Update(ctx, number, patch)
	if err != nil {
		return domain.Invoice{}, err
	}
	if !found {
		return domain.Invoice{}, fmt.Errorf("%w: invoice %s", domain.ErrNotFound, number)
	}
	return inv, nil
}

// DeleteInvoice reports whether an invoice was removed. Stock and customer
// statistics are left alone.
func (s *Service) DeleteInvoice(ctx context.Context, number string) (bool, error) {
	removed, err := s.archive.Delete(ctx, number)
	if err == nil && removed {
		s.logger.InfoContext(ctx, "invoice deleted", "invoice", number)
	}
	return removed, err
}

func (s *Service) AddCustomer(ctx context.Context, input domain.CustomerInput) (domain.Customer, error) {
	return s.customers.Add(ctx, input)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	c, found, err := s.customers.Get(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if !found {
		return domain.Customer{}, fmt.Errorf("%w: customer %s", domain.ErrNotFound, id)
	}
	return c, nil
}

func (s *Service) ListCustomers(ctx context.Context, query string) ([]domain.Customer, error) {
	return s.customers.Search(ctx, query)
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, patch domain.CustomerPatch) (domain.Customer, error) {
	c, found, err := s.customers.Update(ctx, id, patch)
	if err != nil {
		return domain.Customer{}, err
	}
	if !found {
		return domain.Customer{}, fmt.Errorf("%w: customer %s", domain.ErrNotFound, id)
	}
	return c, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) (bool, error) {
	return s.customers.Delete(ctx, id)
}

func (s *Service) CustomerInvoices(ctx context.Context, id string) ([]domain.Invoice, error) {
	if _, err := s.GetCustomer(ctx, id); err != nil {
		return nil, err
	}
	return s.archive.ByCustomerID(ctx, id)
}

func (s *Service) InventoryLevels(ctx context.Context) ([]domain.ProductStock, error) {
	return s.ledger.Levels(ctx, s.catalog.All())
}

func (s *Service) productStock(productID string, stock int) domain.ProductStock {
	p, _ := s.catalog.Find(productID)
	return domain.ProductStock{Product: p, Stock: stock, Status: s.ledger.Status(p, stock)}
}

func (s *Service) SetStock(ctx context.Context, productID string, value int) (domain.ProductStock, error) {
	if _, ok := s.catalog.Find(productID); !ok {
		return domain.ProductStock{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
	}
	n, err := s.ledger.SetStock(ctx, productID, value)
	if err != nil {
		return domain.ProductStock{}, err
	}
	return s.productStock(productID, n), nil
}

func (s *Service) AdjustStock(ctx context.Context, productID string, delta int) (domain.ProductStock, error) {
	if _, ok := s.catalog.Find(productID); !ok {
		return domain.ProductStock{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
	}
	n, err := s.ledger.AdjustStock(ctx, productID, delta)
	if err != nil {
		return domain.ProductStock{}, err
	}
	return s.productStock(productID, n), nil
}

// LowStock uses the configured threshold when threshold <= 0.
func (s *Service) LowStock(ctx context.Context, threshold int) ([]domain.ProductStock, error) {
	return s.ledger.LowStockProducts(ctx, s.catalog.All(), threshold)
}

func (s *Service) OutOfStock(ctx context.Context) ([]domain.ProductStock, error) {
	return s.ledger.OutOfStock(ctx, s.catalog.All())
}
