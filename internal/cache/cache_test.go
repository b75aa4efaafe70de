package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

type remoteOrder struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	ns := uuid.NewString()

	t.Run("json round trip and miss", func(t *testing.T) {
		var got remoteOrder
		found, err := store.GetJSON(ctx, ns+":missing", &got)
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, store.SetJSON(ctx, ns+":order", remoteOrder{ID: "order_1", Amount: 480000}, time.Minute))
		found, err = store.GetJSON(ctx, ns+":order", &got)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "order_1", got.ID)
	})

	t.Run("setnx claims once", func(t *testing.T) {
		key := ns + ":event"
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.SetNX(ctx, key, "claimed", time.Minute)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete if equals only removes matching value", func(t *testing.T) {
		key := ns + ":release"
		ok, err := store.SetNX(ctx, key, "token-a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, store.DeleteIfEquals(ctx, key, "token-b"))
		ok, _ = store.SetNX(ctx, key, "token-c", time.Minute)
		assert.False(t, ok)

		require.NoError(t, store.DeleteIfEquals(ctx, key, "token-a"))
		ok, _ = store.SetNX(ctx, key, "token-c", time.Minute)
		assert.True(t, ok)
	})
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ok, _ := m.SetNX(context.Background(), "k", "v", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = m.SetNX(context.Background(), "k", "v", time.Minute)
	assert.True(t, ok)
}

func TestRedisAdapter(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	exerciseStore(t, NewRedisAdapter(client, "storefront-test:"))
}
