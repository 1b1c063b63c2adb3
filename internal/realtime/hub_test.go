package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/metrics"
	"github.com/servelist/backend/internal/models"
)

func testEvent(t *testing.T, typ models.EventType, id int) models.Event {
	t.Helper()
	evt, err := models.NewEvent(typ, map[string]int{"seq": id})
	require.NoError(t, err)
	return evt
}

func receive(t *testing.T, c *Client) models.Event {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var evt models.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func startHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestHub_PublishIsOrdered(t *testing.T) {
	h := NewHub(zap.NewNop(), 16, nil, nil)
	c := newClient(h, zap.NewNop(), 16)
	h.Register(c)
	startHub(t, h)

	for i := 0; i < 5; i++ {
		h.Publish(testEvent(t, models.EventVolunteerAdded, i))
	}
	for i := 0; i < 5; i++ {
		evt := receive(t, c)
		var p map[string]int
		require.NoError(t, evt.Decode(&p))
		assert.Equal(t, i, p["seq"])
	}
}

func TestHub_PublishDropsWhenQueueFull(t *testing.T) {
	h := NewHub(zap.NewNop(), 1, nil, nil)
	before := testutil.ToFloat64(metrics.BroadcastDropped)

	h.Publish(testEvent(t, models.EventServiceAdded, 1))
	h.Publish(testEvent(t, models.EventServiceAdded, 2))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.BroadcastDropped))
}

func TestHub_EvictsSlowObserver(t *testing.T) {
	h := NewHub(zap.NewNop(), 16, nil, nil)
	slow := newClient(h, zap.NewNop(), 1)
	fast := newClient(h, zap.NewNop(), 8)
	h.Register(slow)
	h.Register(fast)
	before := testutil.ToFloat64(metrics.ObserverEvictions)

	h.broadcast([]byte(`{"type":"A"}`))
	h.broadcast([]byte(`{"type":"B"}`))

	assert.Equal(t, 1, h.Count())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ObserverEvictions))

	msg, ok := <-slow.send
	assert.True(t, ok)
	assert.JSONEq(t, `{"type":"A"}`, string(msg))
	_, ok = <-slow.send
	assert.False(t, ok, "evicted observer's channel is closed")

	assert.Len(t, fast.send, 2)
	h.Unregister(slow) // no-op the second time
}

func TestHub_RunStopsAndDisconnects(t *testing.T) {
	h := NewHub(zap.NewNop(), 16, nil, nil)
	c := newClient(h, zap.NewNop(), 4)
	h.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	_, ok := <-c.send
	assert.False(t, ok)
	assert.Equal(t, 0, h.Count())
}

// fakeBus stands in for Redis: every published payload reaches every subscriber.
type fakeBus struct {
	mu           sync.Mutex
	handlers     []func([]byte)
	publishErr   error
	subscribeErr error
	published    int
}

func (b *fakeBus) PublishEvent(_ context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published++
	for _, h := range b.handlers {
		h(payload)
	}
	return nil
}

func (b *fakeBus) SubscribeEvents(handler func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.handlers = append(b.handlers, handler)
	return func() {}, nil
}

func (b *fakeBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func TestHub_FanOutAcrossInstances(t *testing.T) {
	bus := &fakeBus{}
	a := NewHub(zap.NewNop(), 16, bus, bus)
	b := NewHub(zap.NewNop(), 16, bus, bus)
	onA := newClient(a, zap.NewNop(), 4)
	onB := newClient(b, zap.NewNop(), 4)
	a.Register(onA)
	b.Register(onB)
	startHub(t, a)
	startHub(t, b)
	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, 2*time.Second, 5*time.Millisecond)

	a.Publish(testEvent(t, models.EventServiceRemoved, 1))

	assert.Equal(t, models.EventServiceRemoved, receive(t, onA).Type, "publisher's own observers get it once via the bus")
	assert.Equal(t, models.EventServiceRemoved, receive(t, onB).Type)
	assert.Len(t, onA.send, 0)
}

func TestHub_FallsBackToLocalDelivery(t *testing.T) {
	t.Run("publish fails", func(t *testing.T) {
		bus := &fakeBus{publishErr: errors.New("redis down")}
		h := NewHub(zap.NewNop(), 16, bus, bus)
		c := newClient(h, zap.NewNop(), 4)
		h.Register(c)
		startHub(t, h)

		h.Publish(testEvent(t, models.EventVolunteerRemoved, 1))
		assert.Equal(t, models.EventVolunteerRemoved, receive(t, c).Type)
	})

	t.Run("subscribe fails", func(t *testing.T) {
		bus := &fakeBus{subscribeErr: errors.New("redis down")}
		h := NewHub(zap.NewNop(), 16, bus, bus)
		c := newClient(h, zap.NewNop(), 4)
		h.Register(c)
		startHub(t, h)

		h.Publish(testEvent(t, models.EventVolunteerRemoved, 1))
		assert.Equal(t, models.EventVolunteerRemoved, receive(t, c).Type)
		assert.Equal(t, 0, bus.published)
	})
}

func TestServeWs_StreamsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(zap.NewNop(), 16, nil, nil)
	startHub(t, h)

	r := gin.New()
	r.GET("/ws", ServeWs(h, zap.NewNop(), nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.Publish(testEvent(t, models.EventServiceAdded, 1))
	h.Publish(testEvent(t, models.EventServiceUpdated, 2))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second models.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, models.EventServiceAdded, first.Type)
	assert.Equal(t, models.EventServiceUpdated, second.Type)

	h.DisconnectAll()
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "server closes the socket")
}
