// Package syncclient keeps a client-side replica of services and volunteers in
// step with the server: a REST client, a merge agent and a connection manager
// that switches between websocket push and snapshot polling.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/models"
	"github.com/servelist/backend/pkg/apperror"
)

const (
	headerClientID  = "X-Client-ID"
	maxResponseSize = 8 << 20
)

// ClientConfig configures an APIClient.
type ClientConfig struct {
	BaseURL string
	// Timeout bounds every request, including reading the body.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive connection failures that opens the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
	HTTPClient     *http.Client
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 15 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c
}

// APIClient talks to the REST surface. Business errors come back as the
// matching apperror sentinel; anything that prevented an answer is
// apperror.ErrConnectionFailed.
type APIClient struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[struct{}]
	logger  *zap.Logger

	mu       sync.RWMutex
	clientID string
	token    string
}

// NewAPIClient creates a REST client for cfg.BaseURL.
func NewAPIClient(cfg ClientConfig, logger *zap.Logger) (*APIClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", cfg.BaseURL)
	}

	c := &APIClient{baseURL: base, http: cfg.HTTPClient, timeout: cfg.Timeout, logger: logger}
	c.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "servelist-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Business errors prove the server is reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, apperror.ErrConnectionFailed)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change", zap.String("name", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c, nil
}

// SetClientID sets the X-Client-ID sent with every request.
func (c *APIClient) SetClientID(id string) {
	c.mu.Lock()
	c.clientID = id
	c.mu.Unlock()
}

// SetToken sets the admin capability token.
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current admin capability token, if any.
func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BreakerState reports the circuit breaker state.
func (c *APIClient) BreakerState() gobreaker.State {
	return c.cb.State()
}

// WebsocketURL returns the push endpoint matching the base URL.
func (c *APIClient) WebsocketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// Snapshot fetches the full authoritative state.
func (c *APIClient) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListServices fetches every service with its count.
func (c *APIClient) ListServices(ctx context.Context) ([]models.Service, error) {
	var list []models.Service
	if err := c.do(ctx, http.MethodGet, "/api/services", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListVolunteers fetches every volunteer.
func (c *APIClient) ListVolunteers(ctx context.Context) ([]models.Volunteer, error) {
	var list []models.Volunteer
	if err := c.do(ctx, http.MethodGet, "/api/volunteers", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Mine fetches the registrations the server attributes to this client id.
func (c *APIClient) Mine(ctx context.Context) ([]models.Volunteer, error) {
	var list []models.Volunteer
	if err := c.do(ctx, http.MethodGet, "/api/volunteers/mine", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AddVolunteer signs name up for a service.
func (c *APIClient) AddVolunteer(ctx context.Context, name string, serviceID uuid.UUID) (*models.Volunteer, error) {
	body := map[string]string{"name": name, "service_id": serviceID.String()}
	var v models.Volunteer
	if err := c.do(ctx, http.MethodPost, "/api/volunteers", body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DeleteVolunteer withdraws a registration.
func (c *APIClient) DeleteVolunteer(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/volunteers/"+id.String(), nil, nil)
}

// Login exchanges the admin password for a capability token and keeps it for
// later admin calls.
func (c *APIClient) Login(ctx context.Context, password string) (time.Time, error) {
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/admin/login", map[string]string{"password": password}, &out); err != nil {
		return time.Time{}, err
	}
	c.SetToken(out.Token)
	return out.ExpiresAt, nil
}

// CreateService creates a service (admin).
func (c *APIClient) CreateService(ctx context.Context, date string, capacity int, description string) (*models.Service, error) {
	body := map[string]interface{}{"date": date, "capacity": capacity, "description": description}
	var s models.Service
	if err := c.do(ctx, http.MethodPost, "/api/services", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateCapacity changes a service's capacity (admin).
func (c *APIClient) UpdateCapacity(ctx context.Context, id uuid.UUID, capacity int) (*models.Service, error) {
	var s models.Service
	if err := c.do(ctx, http.MethodPatch, "/api/services/"+id.String(), map[string]int{"capacity": capacity}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteService deletes a service and its volunteers (admin).
func (c *APIClient) DeleteService(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/services/"+id.String(), nil, nil)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, method, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", apperror.ErrConnectionFailed, err)
	}
	return err
}

func (c *APIClient) roundTrip(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.clientID != "" {
		req.Header.Set(headerClientID, c.clientID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", apperror.ErrConnectionFailed, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", apperror.ErrConnectionFailed, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s %s: status %d", apperror.ErrConnectionFailed, method, path, resp.StatusCode)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("%w: decode response: %w", apperror.ErrConnectionFailed, err)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp.StatusCode, env)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// statusError rebuilds the taxonomy error from a failed response.
func statusError(status int, env envelope) error {
	base := apperror.FromCode(env.Code)
	if base == nil {
		switch status {
		case http.StatusUnauthorized:
			base = apperror.ErrUnauthorized
		case http.StatusForbidden:
			base = apperror.ErrForbidden
		case http.StatusNotFound:
			base = apperror.ErrNotFound
		default:
			base = apperror.ErrInvalidInput
		}
	}
	if env.Error == "" || env.Error == base.Message {
		return base
	}
	return apperror.Newf(base, "%s", env.Error)
}
