package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nvoice/backend/internal/kv"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("NVOICE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set NVOICE_TEST_REDIS_ADDR to run redis integration test")
	}

	s := New(addr, os.Getenv("NVOICE_TEST_REDIS_PASSWORD"), 0, fmt.Sprintf("it_%d_", time.Now().UnixNano()))
	require.NoError(t, s.Ping(context.Background()))
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := s.Keys(ctx)
		for _, key := range keys {
			_, _ = s.Delete(ctx, key)
		}
		_ = s.Close()
	})
	return s
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "inventory", map[string]int{"1": 7}))

	var got map[string]int
	found, err := s.Get(ctx, "inventory", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, got["1"])

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"inventory"}, keys)
}

func TestRedisAtomicRollback(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", 1))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		if err := tx.Set(ctx, "a", 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var a int
	_, err = s.Get(ctx, "a", &a)
	require.NoError(t, err)
	assert.Equal(t, 1, a)
}
