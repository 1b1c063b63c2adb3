package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/models"
	"github.com/servelist/backend/pkg/apperror"
)

// Backend is the server surface the agent needs. *APIClient implements it.
type Backend interface {
	SetClientID(id string)
	Snapshot(ctx context.Context) (*models.Snapshot, error)
	Mine(ctx context.Context) ([]models.Volunteer, error)
	AddVolunteer(ctx context.Context, name string, serviceID uuid.UUID) (*models.Volunteer, error)
	DeleteVolunteer(ctx context.Context, id uuid.UUID) error
	Login(ctx context.Context, password string) (time.Time, error)
	CreateService(ctx context.Context, date string, capacity int, description string) (*models.Service, error)
	UpdateCapacity(ctx context.Context, id uuid.UUID, capacity int) (*models.Service, error)
	DeleteService(ctx context.Context, id uuid.UUID) error
}

// View is a consistent copy of the local replica.
type View struct {
	// Services are ordered by date; VolunteerCount is derived from Volunteers.
	Services []models.Service
	// Volunteers are ordered newest first.
	Volunteers []models.Volunteer
	Owned      []uuid.UUID
	Selected   uuid.UUID
}

// Service returns the service with id from the view.
func (v View) Service(id uuid.UUID) (models.Service, bool) {
	for _, s := range v.Services {
		if s.ID == id {
			return s, true
		}
	}
	return models.Service{}, false
}

// Agent merges snapshots and change events into a local replica. Every merge
// runs under one mutex; listeners are called after it is released.
type Agent struct {
	api    Backend
	store  LocalState
	logger *zap.Logger

	mu         sync.Mutex
	services   map[uuid.UUID]models.Service
	volunteers map[uuid.UUID]models.Volunteer
	// removed holds ids deleted since the last snapshot so a late duplicate
	// Added cannot bring them back. Ids are never reused.
	removed map[uuid.UUID]struct{}
	// owned maps volunteer id to the generation at which it was recorded.
	owned     map[uuid.UUID]uint64
	gen       uint64
	selected  uuid.UUID
	clientID  string
	lastName  string
	listeners []func(View)
}

// NewAgent loads local state, creating and saving a client id on first use.
func NewAgent(api Backend, store LocalState, logger *zap.Logger) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = &MemoryState{}
	}
	st, err := store.Load()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		api:        api,
		store:      store,
		logger:     logger,
		services:   make(map[uuid.UUID]models.Service),
		volunteers: make(map[uuid.UUID]models.Volunteer),
		removed:    make(map[uuid.UUID]struct{}),
		owned:      make(map[uuid.UUID]uint64),
		clientID:   st.ClientID,
		lastName:   st.LastName,
	}
	for _, raw := range st.Owned {
		if id, err := uuid.Parse(raw); err == nil {
			a.owned[id] = 0
		}
	}
	if id, err := uuid.Parse(st.LastServiceID); err == nil {
		a.selected = id
	}
	if a.clientID == "" {
		a.clientID = uuid.NewString()
		if err := store.Save(a.stateLocked()); err != nil {
			return nil, fmt.Errorf("save client id: %w", err)
		}
	}
	api.SetClientID(a.clientID)
	return a, nil
}

// ClientID returns the opaque id this client sends as X-Client-ID.
func (a *Agent) ClientID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientID
}

// LastName returns the last name used for a successful sign-up.
func (a *Agent) LastName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastName
}

// OnChange registers fn to receive the view after every merge that changed it.
func (a *Agent) OnChange(fn func(View)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// View returns a copy of the replica.
func (a *Agent) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

// Owns reports whether id is one of this client's registrations.
func (a *Agent) Owns(id uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.owned[id]
	return ok
}

// Select remembers the service the user is looking at.
func (a *Agent) Select(id uuid.UUID) {
	a.mu.Lock()
	a.selected = id
	a.persistLocked()
	a.mu.Unlock()
}

// ApplySnapshot replaces the replica with the authoritative state.
func (a *Agent) ApplySnapshot(snap *models.Snapshot) {
	a.mu.Lock()
	a.applySnapshotLocked(snap, a.gen)
	a.unlockAndNotify()
}

// ApplyEvent merges one change event. Unknown types are ignored.
func (a *Agent) ApplyEvent(evt models.Event) error {
	a.mu.Lock()
	changed, err := a.applyEventLocked(evt)
	if err != nil || !changed {
		a.mu.Unlock()
		return err
	}
	a.unlockAndNotify()
	return nil
}

// Resync fetches a snapshot and then reconciles ownership with the server.
// Registrations recorded locally after Resync started are left alone.
func (a *Agent) Resync(ctx context.Context) error {
	a.mu.Lock()
	started := a.gen
	a.mu.Unlock()

	snap, err := a.api.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	mine, mineErr := a.api.Mine(ctx)
	if mineErr != nil {
		a.logger.Warn("fetch own registrations failed", zap.Error(mineErr))
	}

	a.mu.Lock()
	a.applySnapshotLocked(snap, started)
	if mineErr == nil {
		a.reconcileLocked(mine, started)
	}
	a.persistLocked()
	a.unlockAndNotify()
	return nil
}

// SignUp registers name for serviceID. A service already full in the local
// replica fails without a request.
func (a *Agent) SignUp(ctx context.Context, name string, serviceID uuid.UUID) (*models.Volunteer, error) {
	a.mu.Lock()
	if s, ok := a.services[serviceID]; ok {
		s.VolunteerCount = a.countLocked(serviceID)
		if s.Full() {
			a.mu.Unlock()
			return nil, apperror.Newf(apperror.ErrCapacityExceeded, "no seats left for %s (%d/%d)", s.Date, s.VolunteerCount, s.Capacity)
		}
	}
	a.mu.Unlock()

	v, err := a.api.AddVolunteer(ctx, name, serviceID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if _, gone := a.removed[v.ID]; !gone {
		a.gen++
		a.owned[v.ID] = a.gen
		a.volunteers[v.ID] = *v
	}
	a.lastName = strings.TrimSpace(name)
	a.selected = serviceID
	a.persistLocked()
	a.unlockAndNotify()
	return v, nil
}

// Withdraw removes one of this client's registrations. A registration the
// server no longer has counts as withdrawn.
func (a *Agent) Withdraw(ctx context.Context, id uuid.UUID) error {
	if err := a.api.DeleteVolunteer(ctx, id); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return err
	}
	a.mu.Lock()
	a.removeVolunteerLocked(id)
	a.persistLocked()
	a.unlockAndNotify()
	return nil
}

// Login obtains an admin capability token for the admin calls below.
func (a *Agent) Login(ctx context.Context, password string) (time.Time, error) {
	return a.api.Login(ctx, password)
}

// CreateService creates a service and merges it (admin).
func (a *Agent) CreateService(ctx context.Context, date string, capacity int, description string) (*models.Service, error) {
	s, err := a.api.CreateService(ctx, date, capacity, description)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	if _, ok := a.services[s.ID]; !ok {
		a.services[s.ID] = *s
	}
	a.unlockAndNotify()
	return s, nil
}

// UpdateCapacity changes a service's capacity and merges it (admin).
func (a *Agent) UpdateCapacity(ctx context.Context, id uuid.UUID, capacity int) (*models.Service, error) {
	s, err := a.api.UpdateCapacity(ctx, id, capacity)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	if cur, ok := a.services[id]; ok {
		cur.Capacity = s.Capacity
		a.services[id] = cur
	}
	a.unlockAndNotify()
	return s, nil
}

// DeleteService deletes a service and drops it locally with its volunteers (admin).
func (a *Agent) DeleteService(ctx context.Context, id uuid.UUID) error {
	if err := a.api.DeleteService(ctx, id); err != nil {
		return err
	}
	a.mu.Lock()
	a.removeServiceLocked(id)
	a.persistLocked()
	a.unlockAndNotify()
	return nil
}

func (a *Agent) applySnapshotLocked(snap *models.Snapshot, started uint64) {
	a.services = make(map[uuid.UUID]models.Service, len(snap.Services))
	for _, s := range snap.Services {
		a.services[s.ID] = s
	}
	a.volunteers = make(map[uuid.UUID]models.Volunteer, len(snap.Volunteers))
	for _, v := range snap.Volunteers {
		a.volunteers[v.ID] = v
	}
	a.removed = make(map[uuid.UUID]struct{})

	for id, gen := range a.owned {
		if _, ok := a.volunteers[id]; !ok && gen <= started {
			delete(a.owned, id)
		}
	}
	a.reselectLocked()
}

// reconcileLocked makes the ownership set match the server's answer, keeping
// entries recorded after started.
func (a *Agent) reconcileLocked(mine []models.Volunteer, started uint64) {
	server := make(map[uuid.UUID]struct{}, len(mine))
	for _, v := range mine {
		server[v.ID] = struct{}{}
		if _, ok := a.owned[v.ID]; !ok {
			a.owned[v.ID] = started
		}
	}
	for id, gen := range a.owned {
		if _, ok := server[id]; !ok && gen <= started {
			delete(a.owned, id)
		}
	}
}

func (a *Agent) applyEventLocked(evt models.Event) (bool, error) {
	switch evt.Type {
	case models.EventServiceAdded:
		var s models.Service
		if err := evt.Decode(&s); err != nil {
			return false, err
		}
		if _, ok := a.services[s.ID]; ok {
			return false, nil
		}
		if _, gone := a.removed[s.ID]; gone {
			return false, nil
		}
		a.services[s.ID] = s
		if a.selected == uuid.Nil {
			a.reselectLocked()
		}
		return true, nil

	case models.EventServiceUpdated:
		var u models.ServiceUpdate
		if err := evt.Decode(&u); err != nil {
			return false, err
		}
		s, ok := a.services[u.ID]
		if !ok || s.Capacity == u.Capacity {
			return false, nil
		}
		s.Capacity = u.Capacity
		a.services[u.ID] = s
		return true, nil

	case models.EventServiceRemoved:
		var ref models.ServiceRef
		if err := evt.Decode(&ref); err != nil {
			return false, err
		}
		a.removed[ref.ID] = struct{}{}
		if _, ok := a.services[ref.ID]; !ok {
			return false, nil
		}
		a.removeServiceLocked(ref.ID)
		a.persistLocked()
		return true, nil

	case models.EventVolunteerAdded:
		var v models.Volunteer
		if err := evt.Decode(&v); err != nil {
			return false, err
		}
		if _, ok := a.volunteers[v.ID]; ok {
			return false, nil
		}
		if _, gone := a.removed[v.ID]; gone {
			return false, nil
		}
		if _, gone := a.removed[v.ServiceID]; gone {
			return false, nil
		}
		a.volunteers[v.ID] = v
		return true, nil

	case models.EventVolunteerRemoved:
		var ref models.VolunteerRef
		if err := evt.Decode(&ref); err != nil {
			return false, err
		}
		_, present := a.volunteers[ref.ID]
		_, owned := a.owned[ref.ID]
		a.removeVolunteerLocked(ref.ID)
		if owned {
			a.persistLocked()
		}
		return present, nil

	default:
		a.logger.Debug("ignoring unknown event", zap.String("type", string(evt.Type)))
		return false, nil
	}
}

func (a *Agent) removeVolunteerLocked(id uuid.UUID) {
	delete(a.volunteers, id)
	delete(a.owned, id)
	a.removed[id] = struct{}{}
}

func (a *Agent) removeServiceLocked(id uuid.UUID) {
	delete(a.services, id)
	a.removed[id] = struct{}{}
	for vid, v := range a.volunteers {
		if v.ServiceID == id {
			a.removeVolunteerLocked(vid)
		}
	}
	if a.selected == id {
		a.selected = uuid.Nil
		a.reselectLocked()
	}
}

// reselectLocked keeps the selection if it still exists, otherwise picks the
// earliest service.
func (a *Agent) reselectLocked() {
	if _, ok := a.services[a.selected]; ok {
		return
	}
	a.selected = uuid.Nil
	first := ""
	for id, s := range a.services {
		if first == "" || s.Date < first {
			first = s.Date
			a.selected = id
		}
	}
}

func (a *Agent) countLocked(serviceID uuid.UUID) int {
	n := 0
	for _, v := range a.volunteers {
		if v.ServiceID == serviceID {
			n++
		}
	}
	return n
}

func (a *Agent) viewLocked() View {
	counts := make(map[uuid.UUID]int, len(a.services))
	volunteers := make([]models.Volunteer, 0, len(a.volunteers))
	for _, v := range a.volunteers {
		counts[v.ServiceID]++
		volunteers = append(volunteers, v)
	}
	sort.Slice(volunteers, func(i, j int) bool {
		if !volunteers[i].CreatedAt.Equal(volunteers[j].CreatedAt) {
			return volunteers[i].CreatedAt.After(volunteers[j].CreatedAt)
		}
		return volunteers[i].ID.String() < volunteers[j].ID.String()
	})

	services := make([]models.Service, 0, len(a.services))
	for id, s := range a.services {
		s.VolunteerCount = counts[id]
		services = append(services, s)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Date < services[j].Date })

	return View{Services: services, Volunteers: volunteers, Owned: a.ownedLocked(), Selected: a.selected}
}

func (a *Agent) ownedLocked() []uuid.UUID {
	owned := make([]uuid.UUID, 0, len(a.owned))
	for id := range a.owned {
		owned = append(owned, id)
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].String() < owned[j].String() })
	return owned
}

func (a *Agent) stateLocked() State {
	st := State{ClientID: a.clientID, LastName: a.lastName}
	for _, id := range a.ownedLocked() {
		st.Owned = append(st.Owned, id.String())
	}
	if a.selected != uuid.Nil {
		st.LastServiceID = a.selected.String()
	}
	return st
}

func (a *Agent) persistLocked() {
	if err := a.store.Save(a.stateLocked()); err != nil {
		a.logger.Warn("save local state failed", zap.Error(err))
	}
}

// unlockAndNotify releases a.mu and hands the new view to every listener.
func (a *Agent) unlockAndNotify() {
	view := a.viewLocked()
	listeners := append(make([]func(View), 0, len(a.listeners)), a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(view)
	}
}
