package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"nvoice/backend/internal/cart"
	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/invoice"
	"nvoice/backend/internal/kv"
)

const maxNumberAttempts = 20

// GenerateInvoice turns lines and customer into an archived invoice. Numbering,
// the archive write, the customer statistics and the stock decrement commit
// together or not at all. The caller's draft, if any, is cleared in the same
// unit. An empty cart is not rejected here.
func (s *Service) GenerateInvoice(ctx context.Context, lines []domain.CartLine, customer domain.CustomerInfo, paymentMethod string) (domain.Invoice, error) {
	userID := ""
	if actor, ok := ActorFromContext(ctx); ok {
		userID = actor.UserID
	}

	items := cart.New(lines).Lines()
	subtotal := cart.Subtotal(items)
	tax := decimal.Zero
	method := strings.TrimSpace(paymentMethod)
	if method == "" {
		method = domain.DefaultPaymentMethod
	}

	inv := domain.Invoice{
		Date:          s.now().UTC(),
		Customer:      customer,
		Items:         items,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         subtotal.Add(tax),
		CustomerID:    customer.ID,
		PaymentMethod: method,
	}

	err := s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		if err := s.archiveWithFreshNumber(ctx, tx, &inv); err != nil {
			return err
		}
		if inv.CustomerID != "" {
			recorded, err := s.customers.WithTx(tx).RecordPurchase(ctx, inv.CustomerID, inv.Total)
			if err != nil {
				return err
			}
			if !recorded {
				s.logger.WarnContext(ctx, "invoice customer not in registry, statistics skipped",
					"invoice", inv.InvoiceNumber, "customer_id", inv.CustomerID)
			}
		}
		if err := s.ledger.WithTx(tx).Consume(ctx, inv.Items); err != nil {
			return err
		}
		if userID != "" {
			return s.drafts.WithTx(tx).Clear(ctx, userID)
		}
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logger.InfoContext(ctx, "invoice generated",
		"invoice", inv.InvoiceNumber, "total", inv.Total.StringFixed(2), "items", inv.ItemCount())
	return inv, nil
}

// archiveWithFreshNumber numbers inv and adds it to the archive. When the drawn
// number is already taken, for example by imported history, the counter jumps
// past the highest number archived for that day.
func (s *Service) archiveWithFreshNumber(ctx context.Context, tx kv.Accessor, inv *domain.Invoice) error {
	seq := s.sequence.WithTx(tx)
	archive := s.archive.WithTx(tx)
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := seq.Next(ctx, inv.Date)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number
		err = archive.Add(ctx, *inv)
		if !errors.Is(err, domain.ErrDuplicateInvoice) {
			return err
		}
		s.logger.WarnContext(ctx, "invoice number taken, skipping ahead", "invoice", number)
		existing, err := archive.List(ctx)
		if err != nil {
			return err
		}
		if err := seq.Advance(ctx, inv.Date, invoice.HighestForDay(existing, inv.Date)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: no free invoice number after %d attempts", domain.ErrDuplicateInvoice, maxNumberAttempts)
}

// CheckoutDraft generates an invoice from the caller's saved draft.
func (s *Service) CheckoutDraft(ctx context.Context, req domain.GenerateInvoiceRequest) (domain.Invoice, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	draft, err := s.drafts.Load(ctx, userID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if cart.New(draft.Cart).IsEmpty() {
		return domain.Invoice{}, ErrEmptyCart
	}
	return s.GenerateInvoice(ctx, draft.Cart, draft.Customer, req.PaymentMethod)
}

// EditInvoice reopens an archived invoice: its quantities go back into stock and
// its lines and customer become the caller's draft. The archived record is left
// as it is; resubmitting creates a new invoice.
func (s *Service) EditInvoice(ctx context.Context, number string) (domain.CartView, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return domain.CartView{}, err
	}

	var view domain.CartView
	err = s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		original, found, err := s.archive.WithTx(tx).FindByNumber(ctx, number)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: invoice %s", domain.ErrNotFound, number)
		}
		if err := s.ledger.WithTx(tx).Restock(ctx, original.Items); err != nil {
			return err
		}

		restored := cart.New(slices.Clone(original.Items))
		draft := domain.Draft{Cart: restored.Lines(), Customer: original.Customer}
		if err := s.drafts.WithTx(tx).Save(ctx, userID, draft); err != nil {
			return err
		}
		view = restored.View(original.Customer)
		return nil
	})
	if err != nil {
		return domain.CartView{}, err
	}

	s.logger.InfoContext(ctx, "invoice reopened for edit", "invoice", number, "user_id", userID)
	return view, nil
}
