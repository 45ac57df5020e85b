package flow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionStore(t *testing.T, s SessionStore[models.ChatSession]) {
	ctx := context.Background()

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StepBrowsing, got.Step, "unknown chats start browsing")

	got.Cart = append(got.Cart, models.CartLine{Title: "Bread", Countable: true, Quantity: 2, UnitPrice: 50})
	got.BeginCheckout()

	// Unsaved changes are not visible.
	fresh, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, fresh.Cart)

	require.NoError(t, s.Put(ctx, 1, got))
	saved, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, got, saved)

	other, err := s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, other.Cart, "sessions are isolated per chat")

	require.NoError(t, s.Reset(ctx, 1))
	reset, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, reset.OrderDraft)
	assert.Empty(t, reset.Cart)
}

func TestMemorySessionStore(t *testing.T) {
	s := NewMemorySessionStore(models.NewChatSession)
	testSessionStore(t, s)
}

func TestMemorySessionStoreDoesNotAlias(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore(models.NewChatSession)
	session := models.NewChatSession()
	session.Cart = []models.CartLine{{Title: "Bread", Countable: true, Quantity: 1, UnitPrice: 50}}
	require.NoError(t, s.Put(ctx, 1, session))

	session.Cart[0].Quantity = 9
	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cart[0].Quantity)
	assert.Equal(t, 1, s.Len())
}

func TestRedisSessionStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	prefix := "orderpipe:test:" + time.Now().Format("150405.000000") + ":"
	s := NewRedisSessionStore(client, prefix, time.Minute, models.NewChatSession)
	t.Cleanup(func() {
		_ = s.Reset(context.Background(), 1)
		_ = s.Reset(context.Background(), 2)
	})
	testSessionStore(t, s)
}
