package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampedAdd(t *testing.T) {
	assert.Equal(t, 7, ClampedAdd(5, 2))
	assert.Equal(t, 0, ClampedAdd(5, -9))
	assert.Equal(t, math.MaxInt, ClampedAdd(5, math.MaxInt))
	assert.Equal(t, math.MaxInt, ClampedAdd(math.MaxInt, 1))
	assert.Equal(t, 0, ClampedAdd(5, math.MinInt))
}

func TestStockLevelsDecodesBothShapes(t *testing.T) {
	var fromObject DataImport
	require.NoError(t, json.Unmarshal([]byte(`{"inventory":{"1":4,"2":0}}`), &fromObject))
	assert.Equal(t, StockLevels{"1": 4, "2": 0}, fromObject.Inventory)

	var fromPairs DataImport
	require.NoError(t, json.Unmarshal([]byte(`{"inventory":[["1",4],["2",0]]}`), &fromPairs))
	assert.Equal(t, StockLevels{"1": 4, "2": 0}, fromPairs.Inventory)

	var absent DataImport
	require.NoError(t, json.Unmarshal([]byte(`{"inventory":null}`), &absent))
	assert.Nil(t, absent.Inventory)

	var bad DataImport
	assert.Error(t, json.Unmarshal([]byte(`{"inventory":[["1",4,5]]}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"inventory":[[1,4]]}`), &bad))
}
