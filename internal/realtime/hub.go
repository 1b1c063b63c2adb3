package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/servelist/backend/internal/metrics"
	"github.com/servelist/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60

	// DefaultQueueSize bounds events waiting for the dispatcher.
	DefaultQueueSize = 1024
	// ClientBufferSize bounds messages waiting for one observer.
	ClientBufferSize = 256
)

// EventPublisher publishes encoded events for cross-instance broadcast.
type EventPublisher interface {
	PublishEvent(ctx context.Context, payload []byte) error
}

// EventSubscriber delivers encoded events published by any instance.
type EventSubscriber interface {
	SubscribeEvents(handler func(payload []byte)) (cancel func(), err error)
}

// Hub fans committed changes out to every connected observer. Publish only
// enqueues; Run dispatches in enqueue order. With Redis configured the event
// goes through the shared channel and every instance, this one included,
// broadcasts what it receives.
type Hub struct {
	clients  map[string]*Client
	mu       sync.RWMutex
	queue    chan models.Event
	logger   *zap.Logger
	redis    EventPublisher
	redisSub EventSubscriber
}

// NewHub creates a hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, queueSize int, redisPub EventPublisher, redisSub EventSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		clients:  make(map[string]*Client),
		queue:    make(chan models.Event, queueSize),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Publish enqueues evt for delivery. It never blocks; when the queue is full
// the event is dropped and observers recover on their next resync.
func (h *Hub) Publish(evt models.Event) {
	select {
	case h.queue <- evt:
	default:
		metrics.BroadcastDropped.Inc()
		h.logger.Warn("broadcast queue full, event dropped", zap.String("type", string(evt.Type)))
	}
}

// Run dispatches queued events until ctx is done, then disconnects every observer.
func (h *Hub) Run(ctx context.Context) {
	fanout := false
	if h.redis != nil && h.redisSub != nil {
		cancel, err := h.redisSub.SubscribeEvents(h.broadcast)
		if err != nil {
			h.logger.Error("redis subscribe failed, delivering locally only", zap.Error(err))
		} else {
			fanout = true
			defer cancel()
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.DisconnectAll()
			return
		case evt := <-h.queue:
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("encode event", zap.String("type", string(evt.Type)), zap.Error(err))
				continue
			}
			metrics.BroadcastEvents.WithLabelValues(string(evt.Type)).Inc()
			if fanout {
				err := h.redis.PublishEvent(ctx, data)
				if err == nil {
					continue
				}
				h.logger.Warn("redis publish failed, delivering locally", zap.Error(err))
			}
			h.broadcast(data)
		}
	}
}

// Register adds an observer.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	metrics.ConnectedObservers.Inc()
	h.logger.Debug("observer connected", zap.String("client_id", c.ID))
}

// Unregister removes an observer and closes its send channel. Safe to call
// more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		metrics.ConnectedObservers.Dec()
		h.logger.Debug("observer disconnected", zap.String("client_id", c.ID))
	}
}

// DisconnectAll closes every observer; each will reconnect and resync.
func (h *Hub) DisconnectAll() {
	h.mu.Lock()
	n := len(h.clients)
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()
	metrics.ConnectedObservers.Sub(float64(n))
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast sends data to every local observer. An observer whose buffer is
// full is disconnected rather than skipped.
func (h *Hub) broadcast(data []byte) {
	var slow []*Client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.ObserverEvictions.Inc()
		h.logger.Warn("observer too slow, disconnecting", zap.String("client_id", c.ID))
		h.Unregister(c)
	}
}
