// Package inventory tracks the stock count of every product. Counts never go
// below zero: every write clamps.
package inventory

import (
	"context"
	"log/slog"
	"maps"

	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kv"
)

type Ledger struct {
	store        kv.Accessor
	logger       *slog.Logger
	defaultStock int
	threshold    int
}

func New(store kv.Accessor, logger *slog.Logger, defaultStock int, threshold int) *Ledger {
	return &Ledger{
		store:        store,
		logger:       logger,
		defaultStock: defaultStock,
		threshold:    threshold,
	}
}

// WithTx returns a ledger bound to tx, for use inside kv.Atomic.
func (l *Ledger) WithTx(tx kv.Accessor) *Ledger {
	bound := *l
	bound.store = tx
	return &bound
}

func (l *Ledger) Threshold() int {
	return l.threshold
}

func (l *Ledger) load(ctx context.Context, a kv.Accessor) (map[string]int, error) {
	var stock map[string]int
	if err := kv.Load(ctx, a, kv.KeyInventory, &stock, l.logger); err != nil {
		return nil, err
	}
	if stock == nil {
		stock = make(map[string]int)
	}
	return stock, nil
}

func (l *Ledger) mutate(ctx context.Context, fn func(stock map[string]int)) error {
	return kv.Update(ctx, l.store, func(ctx context.Context, tx kv.Accessor) error {
		stock, err := l.load(ctx, tx)
		if err != nil {
			return err
		}
		fn(stock)
		return tx.Set(ctx, kv.KeyInventory, stock)
	})
}

// GetStock returns 0 for products without an entry.
func (l *Ledger) GetStock(ctx context.Context, productID string) (int, error) {
	stock, err := l.load(ctx, l.store)
	if err != nil {
		return 0, err
	}
	return stock[productID], nil
}

func (l *Ledger) SetStock(ctx context.Context, productID string, value int) (int, error) {
	value = max(0, value)
	err := l.mutate(ctx, func(stock map[string]int) {
		stock[productID] = value
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// AdjustStock applies delta and returns max(0, current+delta).
func (l *Ledger) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	var next int
	err := l.mutate(ctx, func(stock map[string]int) {
		next = domain.ClampedAdd(stock[productID], delta)
		stock[productID] = next
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// InitializeStock seeds products that have no entry yet with product.Stock, or
// the default stock. Existing entries are never overwritten. It returns the
// number of products seeded.
func (l *Ledger) InitializeStock(ctx context.Context, products []domain.Product) (int, error) {
	seeded := 0
	err := kv.Update(ctx, l.store, func(ctx context.Context, tx kv.Accessor) error {
		stock, err := l.load(ctx, tx)
		if err != nil {
			return err
		}
		for _, p := range products {
			if _, ok := stock[p.ID]; ok {
				continue
			}
			initial := l.defaultStock
			if p.Stock != nil {
				initial = max(0, *p.Stock)
			}
			stock[p.ID] = initial
			seeded++
		}
		if seeded == 0 {
			return nil
		}
		return tx.Set(ctx, kv.KeyInventory, stock)
	})
	if err != nil {
		return 0, err
	}
	return seeded, nil
}

// Consume decrements stock for every line. Overselling clamps at zero.
func (l *Ledger) Consume(ctx context.Context, lines []domain.CartLine) error {
	return l.mutate(ctx, func(stock map[string]int) {
		for _, line := range lines {
			stock[line.Product.ID] = domain.ClampedAdd(stock[line.Product.ID], -line.Quantity)
		}
	})
}

// Restock adds back the quantity of every line.
func (l *Ledger) Restock(ctx context.Context, lines []domain.CartLine) error {
	return l.mutate(ctx, func(stock map[string]int) {
		for _, line := range lines {
			stock[line.Product.ID] = domain.ClampedAdd(stock[line.Product.ID], line.Quantity)
		}
	})
}

// LowStockProducts returns products whose stock is below their reorder level,
// or below threshold when the product has none. threshold <= 0 uses the ledger default.
func (l *Ledger) LowStockProducts(ctx context.Context, products []domain.Product, threshold int) ([]domain.ProductStock, error) {
	if threshold <= 0 {
		threshold = l.threshold
	}
	stock, err := l.load(ctx, l.store)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProductStock, 0)
	for _, p := range products {
		level := threshold
		if p.ReorderLevel != nil {
			level = *p.ReorderLevel
		}
		if stock[p.ID] < level {
			out = append(out, domain.ProductStock{Product: p, Stock: stock[p.ID], Status: status(stock[p.ID], level)})
		}
	}
	return out, nil
}

func (l *Ledger) OutOfStock(ctx context.Context, products []domain.Product) ([]domain.ProductStock, error) {
	stock, err := l.load(ctx, l.store)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProductStock, 0)
	for _, p := range products {
		if stock[p.ID] == 0 {
			out = append(out, domain.ProductStock{Product: p, Stock: 0, Status: domain.StockStatusOut})
		}
	}
	return out, nil
}

// Levels pairs every product with its stock and status.
func (l *Ledger) Levels(ctx context.Context, products []domain.Product) ([]domain.ProductStock, error) {
	stock, err := l.load(ctx, l.store)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProductStock, 0, len(products))
	for _, p := range products {
		out = append(out, domain.ProductStock{Product: p, Stock: stock[p.ID], Status: l.Status(p, stock[p.ID])})
	}
	return out, nil
}

func (l *Ledger) Status(p domain.Product, stock int) domain.StockStatus {
	level := l.threshold
	if p.ReorderLevel != nil {
		level = *p.ReorderLevel
	}
	return status(stock, level)
}

func status(stock int, level int) domain.StockStatus {
	switch {
	case stock <= 0:
		return domain.StockStatusOut
	case stock < level:
		return domain.StockStatusLow
	default:
		return domain.StockStatusIn
	}
}

func (l *Ledger) Snapshot(ctx context.Context) (map[string]int, error) {
	return l.load(ctx, l.store)
}

// Replace overwrites the whole ledger. Negative counts are clamped.
func (l *Ledger) Replace(ctx context.Context, stock map[string]int) error {
	next := maps.Clone(stock)
	if next == nil {
		next = make(map[string]int)
	}
	for id, n := range next {
		next[id] = max(0, n)
	}
	return l.store.Set(ctx, kv.KeyInventory, next)
}
