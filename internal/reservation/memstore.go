package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/servelist/backend/internal/models"
	"github.com/servelist/backend/pkg/apperror"
)

// MemoryStore is a Datastore kept in process memory. Every method runs in a
// single critical section, so InsertVolunteerIfUnderCapacity is atomic.
type MemoryStore struct {
	mu         sync.RWMutex
	services   map[uuid.UUID]models.Service
	dates      map[string]uuid.UUID
	volunteers map[uuid.UUID]models.Volunteer
	counts     map[uuid.UUID]int
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory datastore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services:   make(map[uuid.UUID]models.Service),
		dates:      make(map[string]uuid.UUID),
		volunteers: make(map[uuid.UUID]models.Volunteer),
		counts:     make(map[uuid.UUID]int),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) InsertService(_ context.Context, s *models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dates[s.Date]; ok {
		return apperror.ErrDuplicateDate
	}
	s.ID = uuid.New()
	s.CreatedAt = m.now()
	s.VolunteerCount = 0
	m.services[s.ID] = *s
	m.dates[s.Date] = s.ID
	return nil
}

func (m *MemoryStore) GetService(_ context.Context, id uuid.UUID) (*models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	s.VolunteerCount = m.counts[id]
	return &s, nil
}

func (m *MemoryStore) ListServices(_ context.Context) ([]models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listServices(), nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &models.Snapshot{
		Services:   m.listServices(),
		Volunteers: m.filterVolunteers(func(models.Volunteer) bool { return true }),
	}, nil
}

// listServices must be called with m.mu held.
func (m *MemoryStore) listServices() []models.Service {
	list := make([]models.Service, 0, len(m.services))
	for id, s := range m.services {
		s.VolunteerCount = m.counts[id]
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Date < list[j].Date })
	return list
}

func (m *MemoryStore) UpdateServiceCapacity(_ context.Context, id uuid.UUID, capacity int) (*models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	s.Capacity = capacity
	m.services[id] = s
	s.VolunteerCount = m.counts[id]
	return &s, nil
}

func (m *MemoryStore) DeleteServiceCascade(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return apperror.ErrNotFound
	}
	for vid, v := range m.volunteers {
		if v.ServiceID == id {
			delete(m.volunteers, vid)
		}
	}
	delete(m.services, id)
	delete(m.dates, s.Date)
	delete(m.counts, id)
	return nil
}

func (m *MemoryStore) InsertVolunteerIfUnderCapacity(_ context.Context, v *models.Volunteer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[v.ServiceID]
	if !ok {
		return apperror.ErrNotFound
	}
	if count := m.counts[v.ServiceID]; count >= s.Capacity {
		return apperror.Newf(apperror.ErrCapacityExceeded, "no seats left for this service (%d/%d)", count, s.Capacity)
	}
	key := models.NameKey(v.Name)
	for _, other := range m.volunteers {
		if other.ServiceID == v.ServiceID && models.NameKey(other.Name) == key {
			return apperror.ErrDuplicateName
		}
	}
	v.ID = uuid.New()
	v.CreatedAt = m.now()
	m.volunteers[v.ID] = *v
	m.counts[v.ServiceID]++
	return nil
}

func (m *MemoryStore) GetVolunteer(_ context.Context, id uuid.UUID) (*models.Volunteer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.volunteers[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	return &v, nil
}

func (m *MemoryStore) DeleteVolunteer(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volunteers[id]
	if !ok {
		return apperror.ErrNotFound
	}
	delete(m.volunteers, id)
	m.counts[v.ServiceID]--
	return nil
}

func (m *MemoryStore) ListVolunteers(_ context.Context) ([]models.Volunteer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterVolunteers(func(models.Volunteer) bool { return true }), nil
}

func (m *MemoryStore) ListVolunteersByClient(_ context.Context, clientID string) ([]models.Volunteer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if clientID == "" {
		return []models.Volunteer{}, nil
	}
	return m.filterVolunteers(func(v models.Volunteer) bool { return v.ClientID == clientID }), nil
}

// filterVolunteers must be called with m.mu held.
func (m *MemoryStore) filterVolunteers(keep func(models.Volunteer) bool) []models.Volunteer {
	list := make([]models.Volunteer, 0, len(m.volunteers))
	for _, v := range m.volunteers {
		if keep(v) {
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	return list
}
