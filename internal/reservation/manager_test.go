package reservation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/models"
	"github.com/servelist/backend/pkg/apperror"
)

// recorder is a Broadcaster that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(evt models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) last() models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestManager(t *testing.T) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewManager(NewMemoryStore(), rec, zap.NewNop()), rec
}

func TestManager_CreateService(t *testing.T) {
	m, rec := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateService(ctx, "2026-03-01", 3, " Culto de domingo ")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", s.Date)
	assert.Equal(t, "Culto de domingo", s.Description)
	assert.Equal(t, 0, s.VolunteerCount)

	evt := rec.last()
	assert.Equal(t, models.EventServiceAdded, evt.Type)
	var payload models.Service
	require.NoError(t, evt.Decode(&payload))
	assert.Equal(t, s.ID, payload.ID)
	assert.Equal(t, 0, payload.VolunteerCount)
}

func TestManager_CreateServiceValidation(t *testing.T) {
	m, rec := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateService(ctx, "01/03/2026", 3, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = m.CreateService(ctx, "2026-03-01", 0, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidCapacity)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput, "InvalidCapacity refines InvalidInput")

	_, err = m.CreateService(ctx, "2026-03-01", MaxCapacity+1, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidCapacity)

	_, err = m.CreateService(ctx, "2026-03-01", 2, "")
	require.NoError(t, err)
	_, err = m.CreateService(ctx, "2026-03-01", 5, "")
	assert.ErrorIs(t, err, apperror.ErrDuplicateDate)

	assert.Equal(t, []models.EventType{models.EventServiceAdded}, rec.types(), "failed calls emit nothing")
}

func TestManager_SignUpScenario(t *testing.T) {
	m, rec := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateService(ctx, "2026-03-01", 2, "")
	require.NoError(t, err)

	_, err = m.AddVolunteer(ctx, "Ana", s.ID, "")
	require.NoError(t, err)
	_, err = m.AddVolunteer(ctx, "Beto", s.ID, "")
	require.NoError(t, err)
	_, err = m.AddVolunteer(ctx, "Caio", s.ID, "")
	assert.ErrorIs(t, err, apperror.ErrCapacityExceeded)

	got, err := m.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].VolunteerCount)
	assert.Equal(t, []models.EventType{
		models.EventServiceAdded, models.EventVolunteerAdded, models.EventVolunteerAdded,
	}, rec.types())
}

func TestManager_DuplicateNameIgnoresCaseAndSpace(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateService(ctx, "2026-03-01", 5, "")
	require.NoError(t, err)

	v, err := m.AddVolunteer(ctx, "  Ana", s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Ana", v.Name, "stored trimmed")

	_, err = m.AddVolunteer(ctx, "ana ", s.ID, "")
	assert.ErrorIs(t, err, apperror.ErrDuplicateName)

	other, err := m.CreateService(ctx, "2026-03-08", 5, "")
	require.NoError(t, err)
	_, err = m.AddVolunteer(ctx, "ana", other.ID, "")
	assert.NoError(t, err, "names are unique per service only")
}

func TestManager_AddVolunteerValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateService(ctx, "2026-03-01", 5, "")
	require.NoError(t, err)

	_, err = m.AddVolunteer(ctx, "   ", s.ID, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = m.AddVolunteer(ctx, strings.Repeat("a", MaxNameLength+1), s.ID, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = m.AddVolunteer(ctx, "Ana", uuid.New(), "")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestManager_ConcurrentSignUps(t *testing.T) {
	for _, tc := range []struct {
		workers, capacity int
	}{
		{workers: 50, capacity: 7},
		{workers: 3, capacity: 10},
		{workers: 30, capacity: 1},
	} {
		m, rec := newTestManager(t)
		ctx := context.Background()
		s, err := m.CreateService(ctx, "2026-03-01", tc.capacity, "")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		ok, rejected := 0, 0
		for i := 0; i < tc.workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.AddVolunteer(ctx, uuid.NewString(), s.ID, "")
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if errors.Is(err, apperror.ErrCapacityExceeded) {
					rejected++
				}
			}()
		}
		wg.Wait()

		want := tc.workers
		if tc.capacity < want {
			want = tc.capacity
		}
		assert.Equal(t, want, ok)
		assert.Equal(t, tc.workers-want, rejected)

		list, err := m.ListVolunteers(ctx)
		require.NoError(t, err)
		assert.Len(t, list, want)
		assert.Len(t, rec.types(), want+1)
		assert.Equal(t, 0, m.locks.Len())
	}
}

func TestManager_DeleteServiceCascades(t *testing.T) {
	m, rec := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateService(ctx, "2026-03-01", 3, "")
	require.NoError(t, err)
	v, err := m.AddVolunteer(ctx, "Ana", s.ID, "")
	require.NoError(t, err)

	require.NoError(t, m.DeleteService(ctx, s.ID))

	list, err := m.ListVolunteers(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	err = m.DeleteVolunteer(ctx, v.ID, Actor{Admin: true})
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	evt := rec.last()
	assert.Equal(t, models.EventServiceRemoved, evt.Type)
	var ref models.ServiceRef
	require.NoError(t, evt.Decode(&ref))
	assert.Equal(t, s.ID, ref.ID)

	assert.ErrorIs(t, m.DeleteService(ctx, s.ID), apperror.ErrNotFound)
}

func TestManager_UpdateCapacity(t *testing.T) {
	m, rec := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateService(ctx, "2026-03-01", 2, "")
	require.NoError(t, err)
	for _, name := range []string{"Ana", "Beto"} {
		_, err := m.AddVolunteer(ctx, name, s.ID, "")
		require.NoError(t, err)
	}

	_, err = m.UpdateCapacity(ctx, s.ID, 0)
	assert.ErrorIs(t, err, apperror.ErrInvalidCapacity)
	_, err = m.UpdateCapacity(ctx, s.ID, MaxCapacity+1)
	assert.ErrorIs(t, err, apperror.ErrInvalidCapacity)
	_, err = m.UpdateCapacity(ctx, uuid.New(), 3)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	updated, err := m.UpdateCapacity(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Capacity)
	assert.Equal(t, 2, updated.VolunteerCount, "no eviction")

	evt := rec.last()
	assert.Equal(t, models.EventServiceUpdated, evt.Type)
	var payload models.ServiceUpdate
	require.NoError(t, evt.Decode(&payload))
	assert.Equal(t, models.ServiceUpdate{ID: s.ID, Capacity: 1}, payload)

	_, err = m.AddVolunteer(ctx, "Caio", s.ID, "")
	assert.ErrorIs(t, err, apperror.ErrCapacityExceeded)

	_, err = m.UpdateCapacity(ctx, s.ID, 3)
	require.NoError(t, err)
	_, err = m.AddVolunteer(ctx, "Caio", s.ID, "")
	assert.NoError(t, err)
}

func TestManager_DeleteVolunteerOwnership(t *testing.T) {
	m, rec := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateService(ctx, "2026-03-01", 5, "")
	require.NoError(t, err)
	mine, err := m.AddVolunteer(ctx, "Ana", s.ID, "client-a")
	require.NoError(t, err)
	anon, err := m.AddVolunteer(ctx, "Beto", s.ID, "")
	require.NoError(t, err)

	err = m.DeleteVolunteer(ctx, mine.ID, Actor{ClientID: "client-b"})
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	err = m.DeleteVolunteer(ctx, anon.ID, Actor{})
	assert.ErrorIs(t, err, apperror.ErrForbidden, "a blank client id owns nothing")

	require.NoError(t, m.DeleteVolunteer(ctx, mine.ID, Actor{ClientID: "client-a"}))
	evt := rec.last()
	assert.Equal(t, models.EventVolunteerRemoved, evt.Type)
	var ref models.VolunteerRef
	require.NoError(t, evt.Decode(&ref))
	assert.Equal(t, models.VolunteerRef{ID: mine.ID, ServiceID: s.ID}, ref)

	require.NoError(t, m.DeleteVolunteer(ctx, anon.ID, Actor{Admin: true}))
	assert.ErrorIs(t, m.DeleteVolunteer(ctx, anon.ID, Actor{Admin: true}), apperror.ErrNotFound)
}

func TestManager_ListVolunteersByClient(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateService(ctx, "2026-03-01", 5, "")
	require.NoError(t, err)
	mine, err := m.AddVolunteer(ctx, "Ana", s.ID, "client-a")
	require.NoError(t, err)
	_, err = m.AddVolunteer(ctx, "Beto", s.ID, "client-b")
	require.NoError(t, err)

	list, err := m.ListVolunteersByClient(ctx, "client-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Services, 1)
	assert.Len(t, snap.Volunteers, 2)
}

func TestManager_NilBroadcaster(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, nil)
	_, err := m.CreateService(context.Background(), "2026-03-01", 1, "")
	assert.NoError(t, err)
}
