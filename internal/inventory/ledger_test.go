package inventory

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kv"
	"nvoice/backend/internal/kv/memory"
	"nvoice/backend/internal/logging"
)

func newLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, logging.Discard(), 50, 10), store
}

func intPtr(n int) *int { return &n }

func product(id string) domain.Product {
	return domain.Product{ID: id, Name: "P" + id, Price: decimal.NewFromInt(10)}
}

func TestGetStockDefaultsToZero(t *testing.T) {
	l, _ := newLedger(t)
	n, err := l.GetStock(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSetStockClamps(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	n, err := l.SetStock(ctx, "1", -3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = l.SetStock(ctx, "1", 12)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	got, err := l.GetStock(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 12, got)
}

func TestAdjustStockClampsAtZero(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.SetStock(ctx, "X", 5)
	require.NoError(t, err)

	n, err := l.AdjustStock(ctx, "X", -100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAdjustStockSaturatesOnHugeDelta(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.SetStock(ctx, "X", 5)
	require.NoError(t, err)

	n, err := l.AdjustStock(ctx, "X", math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, n)

	n, err = l.AdjustStock(ctx, "X", math.MinInt)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAdjustStockIsMaxOfZeroAndSum(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	prev := 0
	for i := 0; i < 200; i++ {
		delta := rng.Intn(41) - 20
		n, err := l.AdjustStock(ctx, "p", delta)
		require.NoError(t, err)
		assert.Equal(t, max(0, prev+delta), n)
		assert.GreaterOrEqual(t, n, 0)
		prev = n
	}
}

func TestInitializeStockIsIdempotent(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	seededProduct := product("2")
	seededProduct.Stock = intPtr(7)
	products := []domain.Product{product("1"), seededProduct}

	n, err := l.InitializeStock(ctx, products)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = l.AdjustStock(ctx, "1", -10)
	require.NoError(t, err)

	n, err = l.InitializeStock(ctx, products)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	snapshot, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 40, "2": 7}, snapshot)
}

func TestLowStockUsesReorderLevelOrThreshold(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	strict := product("2")
	strict.ReorderLevel = intPtr(20)
	products := []domain.Product{product("1"), strict, product("3")}

	require.NoError(t, l.Replace(ctx, map[string]int{"1": 9, "2": 15, "3": 10}))

	low, err := l.LowStockProducts(ctx, products, 0)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, "1", low[0].Product.ID)
	assert.Equal(t, "2", low[1].Product.ID)
	assert.Equal(t, domain.StockStatusLow, low[0].Status)

	low, err = l.LowStockProducts(ctx, products, 11)
	require.NoError(t, err)
	assert.Len(t, low, 3)
}

func TestOutOfStockAndStatus(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	products := []domain.Product{product("1"), product("2"), product("3"), product("4")}

	require.NoError(t, l.Replace(ctx, map[string]int{"1": 0, "2": 3, "3": 30}))

	out, err := l.OutOfStock(ctx, products)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].Product.ID)
	assert.Equal(t, "4", out[1].Product.ID, "product without entry counts as zero")

	levels, err := l.Levels(ctx, products)
	require.NoError(t, err)
	require.Len(t, levels, 4)
	assert.Equal(t, domain.StockStatusOut, levels[0].Status)
	assert.Equal(t, domain.StockStatusLow, levels[1].Status)
	assert.Equal(t, domain.StockStatusIn, levels[2].Status)
	assert.Equal(t, domain.StockStatusOut, levels[3].Status)
}

func TestConsumeAndRestock(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Replace(ctx, map[string]int{"1": 5, "2": 1}))

	lines := []domain.CartLine{
		{Product: product("1"), Quantity: 2},
		{Product: product("2"), Quantity: 4},
	}
	require.NoError(t, l.Consume(ctx, lines))

	snapshot, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 3, "2": 0}, snapshot)

	require.NoError(t, l.Restock(ctx, lines))
	snapshot, err = l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 5, "2": 4}, snapshot)
}

func TestReplaceClampsNegativeCounts(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Replace(ctx, map[string]int{"1": -4, "2": 2}))
	snapshot, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 0, "2": 2}, snapshot)
}

func TestCorruptInventoryReadsAsEmpty(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()
	store.SetRaw(kv.KeyInventory, []byte("not json"))

	n, err := l.GetStock(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = l.AdjustStock(ctx, "1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWithTxWritesOnlyOnCommit(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Replace(ctx, map[string]int{"1": 5}))

	err := store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		if _, err := l.WithTx(tx).AdjustStock(ctx, "1", -2); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	n, err := l.GetStock(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
