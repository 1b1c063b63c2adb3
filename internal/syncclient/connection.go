package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/models"
)

// ConnState is the state of the push channel.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
	// StatePolling means push is unavailable and snapshots are fetched on a timer.
	StatePolling
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

const (
	pongWait     = 60 * time.Second
	controlWait  = 10 * time.Second
	maxEventSize = 1 << 20
)

var errPushUnavailable = errors.New("push channel unavailable")

// ConnectionConfig tunes reconnects and polling.
type ConnectionConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PollInterval      time.Duration
	HandshakeTimeout  time.Duration
	// DisablePush skips the websocket and polls from the start.
	DisablePush bool
}

// DefaultConnectionConfig returns the standard timings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ReconnectDelay:    3 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PollInterval:      5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	d := DefaultConnectionConfig()
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = d.MaxReconnectDelay
		if c.MaxReconnectDelay < c.ReconnectDelay {
			c.MaxReconnectDelay = c.ReconnectDelay
		}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	return c
}

// Syncer receives the snapshot and event stream. *Agent implements it.
type Syncer interface {
	Resync(ctx context.Context) error
	ApplyEvent(evt models.Event) error
}

// ConnectionManager keeps the push channel open. Every (re)connection starts
// with a full resync before any incremental event is applied.
type ConnectionManager struct {
	url    string
	agent  Syncer
	cfg    ConnectionConfig
	dialer websocket.Dialer
	logger *zap.Logger
	kick   chan struct{}

	mu        sync.Mutex
	state     ConnState
	listeners []func(ConnState)
}

// NewConnectionManager creates a manager for the websocket at wsURL.
func NewConnectionManager(wsURL string, agent Syncer, cfg ConnectionConfig, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &ConnectionManager{
		url:    wsURL,
		agent:  agent,
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger: logger,
		kick:   make(chan struct{}, 1),
		state:  StateDisconnected,
	}
}

// State returns the current state.
func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers fn to be called on every transition.
func (m *ConnectionManager) OnStateChange(fn func(ConnState)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Reconnect cuts a pending reconnect wait or poll interval short.
func (m *ConnectionManager) Reconnect() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run connects and keeps the replica in sync until ctx is done.
func (m *ConnectionManager) Run(ctx context.Context) error {
	if m.cfg.DisablePush {
		return m.poll(ctx)
	}

	retry := newBackoff(m.cfg.ReconnectDelay, m.cfg.MaxReconnectDelay)
	for {
		var delay time.Duration
		m.setState(StateConnecting)
		conn, err := m.dial(ctx)
		switch {
		case ctx.Err() != nil:
			if conn != nil {
				_ = conn.Close()
			}
			m.setState(StateDisconnected)
			return ctx.Err()
		case errors.Is(err, errPushUnavailable):
			m.logger.Info("push unavailable, polling for changes", zap.Error(err), zap.Duration("interval", m.cfg.PollInterval))
			return m.poll(ctx)
		case err != nil:
			delay = retry.next()
			m.logger.Warn("connect failed", zap.String("url", m.url), zap.Error(err), zap.Duration("retry_in", delay))
		default:
			retry.reset()
			m.setState(StateConnected)
			m.logger.Info("connected", zap.String("url", m.url))
			err = m.serve(ctx, conn)
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return ctx.Err()
			}
			delay = retry.next()
			m.logger.Warn("connection lost", zap.Error(err), zap.Duration("retry_in", delay))
		}

		m.setState(StateDisconnected)
		if !m.wait(ctx, delay) {
			return ctx.Err()
		}
	}
}

// backoff doubles the reconnect delay after every attempt, up to limit.
type backoff struct {
	base, limit, cur time.Duration
}

func newBackoff(base, limit time.Duration) *backoff {
	return &backoff{base: base, limit: limit, cur: base}
}

// next returns the delay before the coming attempt and doubles the one after.
func (b *backoff) next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.limit {
		b.cur = b.limit
	}
	return d
}

func (b *backoff) reset() {
	b.cur = b.base
}

func (m *ConnectionManager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil && pushUnavailableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: handshake status %d", errPushUnavailable, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// pushUnavailableStatus reports handshake answers that mean the server does
// not offer push at all, as opposed to a transient failure.
func pushUnavailableStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed,
		http.StatusUpgradeRequired, http.StatusNotImplemented:
		return true
	}
	return false
}

func (m *ConnectionManager) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	conn.SetReadLimit(maxEventSize)
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	if err := m.agent.Resync(ctx); err != nil {
		return fmt.Errorf("initial resync: %w", err)
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var evt models.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			m.logger.Warn("discarding malformed event", zap.Error(err))
			continue
		}
		if err := m.agent.ApplyEvent(evt); err != nil {
			m.logger.Warn("apply event failed", zap.String("type", string(evt.Type)), zap.Error(err))
		}
	}
}

// poll applies a fresh snapshot every PollInterval. Polling mode lasts until
// ctx is done.
func (m *ConnectionManager) poll(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := m.agent.Resync(ctx); err != nil {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return ctx.Err()
			}
			m.logger.Warn("poll failed", zap.Error(err))
			m.setState(StateDisconnected)
		} else {
			m.setState(StatePolling)
		}

		select {
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return ctx.Err()
		case <-ticker.C:
		case <-m.kick:
		}
	}
}

// wait sleeps for d, returning false if ctx ends first. Reconnect wakes it early.
func (m *ConnectionManager) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-m.kick:
		return true
	}
}

func (m *ConnectionManager) setState(s ConnState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	listeners := append(make([]func(ConnState), 0, len(m.listeners)), m.listeners...)
	m.mu.Unlock()

	m.logger.Debug("connection state", zap.String("state", s.String()))
	for _, fn := range listeners {
		fn(s)
	}
}
