package reservation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/metrics"
	"github.com/servelist/backend/internal/models"
	"github.com/servelist/backend/pkg/apperror"
)

const (
	// MaxNameLength bounds a volunteer display name, in runes.
	MaxNameLength = 100
	// MaxCapacity is the largest capacity the services table can hold.
	MaxCapacity = math.MaxInt32
)

// Broadcaster receives every committed change. Publish must not block.
type Broadcaster interface {
	Publish(evt models.Event)
}

// Actor identifies who is asking for a deletion.
type Actor struct {
	ClientID string
	Admin    bool
}

// Manager owns the reservation rules: it validates requests, commits them
// through the Datastore and emits one event per committed change.
type Manager struct {
	store  Datastore
	events Broadcaster
	locks  *keyedMutex
	logger *zap.Logger
}

// NewManager creates a Manager. events may be nil when nobody observes changes.
func NewManager(store Datastore, events Broadcaster, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, events: events, locks: newKeyedMutex(), logger: logger}
}

// CreateService validates and persists a new service.
func (m *Manager) CreateService(ctx context.Context, date string, capacity int, description string) (*models.Service, error) {
	date = strings.TrimSpace(date)
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, apperror.Newf(apperror.ErrInvalidInput, "date must be %s", models.DateLayout)
	}
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}

	s := &models.Service{Date: date, Capacity: capacity, Description: strings.TrimSpace(description)}
	if err := m.store.InsertService(ctx, s); err != nil {
		return nil, err
	}
	metrics.RecordMutation("create_service")
	m.logger.Info("service created", zap.String("service_id", s.ID.String()), zap.String("date", s.Date), zap.Int("capacity", s.Capacity))
	m.emit(models.EventServiceAdded, s)
	return s, nil
}

// DeleteService removes a service together with all of its volunteers.
func (m *Manager) DeleteService(ctx context.Context, id uuid.UUID) error {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.store.DeleteServiceCascade(ctx, id); err != nil {
		return err
	}
	metrics.RecordMutation("delete_service")
	m.logger.Info("service deleted", zap.String("service_id", id.String()))
	m.emit(models.EventServiceRemoved, models.ServiceRef{ID: id})
	return nil
}

// UpdateCapacity changes a service's capacity. Existing volunteers are kept even
// if the new capacity is below the current count.
func (m *Manager) UpdateCapacity(ctx context.Context, id uuid.UUID, capacity int) (*models.Service, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.store.UpdateServiceCapacity(ctx, id, capacity)
	if err != nil {
		return nil, err
	}
	if s.VolunteerCount > s.Capacity {
		m.logger.Warn("capacity reduced below current volunteer count",
			zap.String("service_id", id.String()), zap.Int("capacity", capacity), zap.Int("count", s.VolunteerCount))
	}
	metrics.RecordMutation("update_capacity")
	m.emit(models.EventServiceUpdated, models.ServiceUpdate{ID: id, Capacity: s.Capacity})
	return s, nil
}

// AddVolunteer signs name up for a service on behalf of clientID.
func (m *Manager) AddVolunteer(ctx context.Context, name string, serviceID uuid.UUID, clientID string) (*models.Volunteer, error) {
	v, err := m.addVolunteer(ctx, name, serviceID, clientID)
	if err != nil {
		outcome := strings.ToLower(apperror.Code(err))
		if outcome == "" {
			outcome = "error"
		}
		metrics.RecordReservation(outcome)
		return nil, err
	}
	metrics.RecordReservation("ok")
	return v, nil
}

func (m *Manager) addVolunteer(ctx context.Context, name string, serviceID uuid.UUID, clientID string) (*models.Volunteer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.Newf(apperror.ErrInvalidInput, "name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, apperror.Newf(apperror.ErrInvalidInput, "name must be at most %d characters", MaxNameLength)
	}

	unlock, err := m.locks.Lock(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	v := &models.Volunteer{Name: name, ServiceID: serviceID, ClientID: clientID}
	if err := m.store.InsertVolunteerIfUnderCapacity(ctx, v); err != nil {
		return nil, err
	}
	metrics.RecordMutation("add_volunteer")
	m.logger.Info("volunteer added", zap.String("volunteer_id", v.ID.String()), zap.String("service_id", serviceID.String()))
	m.emit(models.EventVolunteerAdded, v)
	return v, nil
}

// DeleteVolunteer removes a registration. Only an admin or the client that
// created it may do so.
func (m *Manager) DeleteVolunteer(ctx context.Context, id uuid.UUID, actor Actor) error {
	v, err := m.store.GetVolunteer(ctx, id)
	if err != nil {
		return err
	}
	if !actor.Admin && (actor.ClientID == "" || actor.ClientID != v.ClientID) {
		return apperror.Newf(apperror.ErrForbidden, "only the registrant or an admin can remove this volunteer")
	}

	unlock, err := m.locks.Lock(ctx, v.ServiceID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.store.DeleteVolunteer(ctx, id); err != nil {
		return err
	}
	metrics.RecordMutation("delete_volunteer")
	m.logger.Info("volunteer removed", zap.String("volunteer_id", id.String()), zap.Bool("admin", actor.Admin))
	m.emit(models.EventVolunteerRemoved, models.VolunteerRef{ID: id, ServiceID: v.ServiceID})
	return nil
}

// ListServices returns every service with its live volunteer count.
func (m *Manager) ListServices(ctx context.Context) ([]models.Service, error) {
	return m.store.ListServices(ctx)
}

// ListVolunteers returns every volunteer, newest first.
func (m *Manager) ListVolunteers(ctx context.Context) ([]models.Volunteer, error) {
	return m.store.ListVolunteers(ctx)
}

// ListVolunteersByClient returns the registrations created by clientID.
func (m *Manager) ListVolunteersByClient(ctx context.Context, clientID string) ([]models.Volunteer, error) {
	return m.store.ListVolunteersByClient(ctx, clientID)
}

// Snapshot reads the full state used by clients to resynchronize.
func (m *Manager) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

func (m *Manager) emit(t models.EventType, payload interface{}) {
	if m.events == nil {
		return
	}
	evt, err := models.NewEvent(t, payload)
	if err != nil {
		m.logger.Error("encode event", zap.String("type", string(t)), zap.Error(err))
		return
	}
	m.events.Publish(evt)
}

func checkCapacity(capacity int) error {
	if capacity < 1 {
		return apperror.ErrInvalidCapacity
	}
	if capacity > MaxCapacity {
		return apperror.Newf(apperror.ErrInvalidCapacity, "capacity must be at most %d", MaxCapacity)
	}
	return nil
}

// IsBusinessError reports whether err belongs to the error taxonomy, as opposed
// to a datastore or transport failure.
func IsBusinessError(err error) bool {
	var e *apperror.Error
	return errors.As(err, &e)
}
