package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/models"
	pkgredis "github.com/servelist/backend/pkg/redis"
)

// TestRedisFanout needs a Redis server; set TEST_REDIS_ADDR to run it.
func TestRedisFanout(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	newBus := func() *RedisPubSub {
		rdb, err := pkgredis.NewClient(ctx, pkgredis.Options{Addr: addr}, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = rdb.Close() })
		bus := NewRedisPubSub(rdb, zap.NewNop())
		bus.channel = EventsChannel + ":test:" + t.Name()
		return bus
	}

	busA, busB := newBus(), newBus()
	a := NewHub(zap.NewNop(), 16, busA, busA)
	b := NewHub(zap.NewNop(), 16, busB, busB)
	startHub(t, a)
	startHub(t, b)

	ca, cb := newClient(a, zap.NewNop(), 8), newClient(b, zap.NewNop(), 8)
	a.Register(ca)
	b.Register(cb)

	// let both subscriptions settle before publishing
	time.Sleep(100 * time.Millisecond)
	a.Publish(testEvent(t, models.EventServiceAdded, 1))

	require.Equal(t, models.EventServiceAdded, receive(t, ca).Type)
	require.Equal(t, models.EventServiceAdded, receive(t, cb).Type)
}
