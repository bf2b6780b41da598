// Package service is the billing engine. It owns the checkout commit that binds
// a cart and a customer into an invoice while keeping stock and customer
// statistics consistent with the archive.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"nvoice/backend/internal/cart"
	"nvoice/backend/internal/catalog"
	"nvoice/backend/internal/customer"
	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/inventory"
	"nvoice/backend/internal/invoice"
	"nvoice/backend/internal/kv"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultStock      int
	LowStockThreshold int
}

type Service struct {
	store     kv.Store
	catalog   *catalog.Catalog
	ledger    *inventory.Ledger
	customers *customer.Registry
	archive   *invoice.Archive
	sequence  *invoice.Sequence
	drafts    *cart.DraftStore
	logger    *slog.Logger
	now       func() time.Time
}

func New(store kv.Store, products *catalog.Catalog, logger *slog.Logger, opts Options) *Service {
	if opts.DefaultStock < 0 {
		opts.DefaultStock = 50
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = 10
	}

	return &Service{
		store:     store,
		catalog:   products,
		ledger:    inventory.New(store, logger, opts.DefaultStock, opts.LowStockThreshold),
		customers: customer.New(store, logger),
		archive:   invoice.NewArchive(store, logger),
		sequence:  invoice.NewSequence(store, logger),
		drafts:    cart.NewDraftStore(store, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source for invoice dates, numbers and customer
// creation dates.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.customers.SetClock(now)
}

// Bootstrap seeds stock for catalog products that have no ledger entry yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	seeded, err := s.ledger.InitializeStock(ctx, s.catalog.All())
	if err != nil {
		return err
	}
	if seeded > 0 {
		s.logger.InfoContext(ctx, "inventory seeded", "products", seeded)
	}
	return nil
}

func (s *Service) userID(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return "", domain.ErrUnauthorized
	}
	return actor.UserID, nil
}

// Products lists catalog products with their stock. query matches name or SKU;
// category, when set, must match exactly (case-insensitive).
func (s *Service) Products(ctx context.Context, query string, category string) ([]domain.ProductStock, error) {
	products := s.catalog.Search(query)
	if category = strings.TrimSpace(category); category != "" {
		filtered := products[:0]
		for _, p := range products {
			if strings.EqualFold(p.Category, category) {
				filtered = append(filtered, p)
			}
		}
		products = filtered
	}
	return s.ledger.Levels(ctx, products)
}

func (s *Service) Categories() []string {
	return s.catalog.Categories()
}
