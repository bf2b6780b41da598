package cart

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

var (
	rice  = domain.Product{ID: "1", Name: "Rice (1kg)", Price: decimal.RequireFromString("55.00"), SKU: "GR001"}
	sugar = domain.Product{ID: "3", Name: "Sugar (1kg)", Price: decimal.RequireFromString("45.00"), SKU: "GR003"}
	chips = domain.Product{ID: "13", Name: "Chips (Pack)", Price: decimal.RequireFromString("20.00"), SKU: "SN002"}
)

func TestAddIncrementsExistingLine(t *testing.T) {
	c := New(nil)
	c.Add(rice)
	c.Add(rice)
	c.Add(sugar)

	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, 1, lines[1].Quantity)
	assert.Equal(t, 3, c.ItemCount())
	assert.True(t, c.Subtotal().Equal(decimal.RequireFromString("155.00")))
	assert.True(t, c.Total().Equal(c.Subtotal()))
	assert.True(t, c.Tax().IsZero())
}

func TestAdjustQuantityRemovesAtZero(t *testing.T) {
	c := New(nil)
	c.Add(rice)
	c.AdjustQuantity("1", 3)
	assert.Equal(t, 4, c.ItemCount())

	c.AdjustQuantity("1", -10)
	assert.True(t, c.IsEmpty())

	c.AdjustQuantity("missing", 2)
	assert.True(t, c.IsEmpty())
}

func TestAdjustQuantityDoesNotWrap(t *testing.T) {
	c := New(nil)
	c.Add(rice)
	c.AdjustQuantity("1", math.MaxInt)
	require.Len(t, c.Lines(), 1)
	assert.Equal(t, math.MaxInt, c.Lines()[0].Quantity)

	c.AdjustQuantity("1", math.MinInt)
	assert.True(t, c.IsEmpty())
}

func TestRemoveAndClear(t *testing.T) {
	c := New(nil)
	c.Add(rice)
	c.Add(sugar)

	c.Remove("1")
	c.Remove("missing")
	require.Len(t, c.Lines(), 1)
	assert.Equal(t, "3", c.Lines()[0].Product.ID)

	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Subtotal().IsZero())
}

func TestNewDropsEmptyLinesAndMergesDuplicates(t *testing.T) {
	c := New([]domain.CartLine{
		{Product: rice, Quantity: 2},
		{Product: sugar, Quantity: 0},
		{Product: rice, Quantity: 1},
	})
	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
}

func TestSubtotalMatchesLinesForRandomSequences(t *testing.T) {
	products := []domain.Product{rice, sugar, chips}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		c := New(nil)
		for step := 0; step < 40; step++ {
			p := products[rng.Intn(len(products))]
			switch rng.Intn(3) {
			case 0:
				c.Add(p)
			case 1:
				c.AdjustQuantity(p.ID, rng.Intn(7)-3)
			case 2:
				c.Remove(p.ID)
			}
		}

		want := decimal.Zero
		for _, line := range c.Lines() {
			assert.Greater(t, line.Quantity, 0)
			want = want.Add(line.Product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		assert.True(t, want.Equal(c.Subtotal()), "run %d: want %s got %s", run, want, c.Subtotal())
	}
}

func TestViewReportsTotals(t *testing.T) {
	c := New(nil)
	c.Add(rice)
	c.Add(rice)

	view := c.View(domain.CustomerInfo{Name: "Walk-in"})
	assert.Equal(t, 2, view.ItemCount)
	assert.Equal(t, "110", view.Total.String())
	assert.Equal(t, "Walk-in", view.Customer.Name)
}

func TestDraftStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	drafts := NewDraftStore(store, logging.Discard())

	empty, err := drafts.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, empty.Cart)

	draft := domain.Draft{
		Cart:     []domain.CartLine{{Product: rice, Quantity: 2}},
		Customer: domain.CustomerInfo{Name: "Asha", Mobile: "99"},
	}
	require.NoError(t, drafts.Save(ctx, "u1", draft))

	got, err := drafts.Load(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got.Cart, 1)
	assert.Equal(t, 2, got.Cart[0].Quantity)
	assert.Equal(t, "Asha", got.Customer.Name)

	other, err := drafts.Load(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other.Cart)

	require.NoError(t, drafts.ClearCart(ctx, "u1"))
	got, err = drafts.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got.Cart)
	assert.Equal(t, "Asha", got.Customer.Name)

	require.NoError(t, drafts.Clear(ctx, "u1"))
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	for _, key := range keys {
		assert.False(t, kv.IsSessionKey(key), "leftover draft key %s", key)
	}
}
