package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Client is one websocket observer. Observers only receive; anything they
// send is read and discarded so control frames keep flowing.
type Client struct {
	ID          string
	ConnectedAt time.Time
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	logger      *zap.Logger
}

func newClient(hub *Hub, logger *zap.Logger, buffer int) *Client {
	return &Client{
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
		hub:         hub,
		send:        make(chan []byte, buffer),
		logger:      logger,
	}
}

// ServeWs upgrades GET /ws and streams change events to the observer.
// checkOrigin vets the handshake's Origin header; nil accepts any origin.
func ServeWs(hub *Hub, logger *zap.Logger, checkOrigin func(*http.Request) bool) gin.HandlerFunc {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return func(c *gin.Context) {
		// Registered before the handshake completes so nothing committed after
		// the client's first snapshot can be missed.
		client := newClient(hub, logger, ClientBufferSize)
		hub.Register(client)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.Unregister(client)
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client.conn = conn
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("observer read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
