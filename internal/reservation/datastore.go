package reservation

import (
	"context"

	"github.com/google/uuid"

	"github.com/servelist/backend/internal/models"
)

// Datastore is the durable store of services and volunteers. Implementations
// report absent rows with apperror.ErrNotFound and business-rule violations
// with the matching apperror sentinel.
type Datastore interface {
	// InsertService persists s and fills its ID and CreatedAt. ErrDuplicateDate
	// if another service already has s.Date.
	InsertService(ctx context.Context, s *models.Service) error
	GetService(ctx context.Context, id uuid.UUID) (*models.Service, error)
	// ListServices returns every service with its live volunteer count, ordered by date.
	ListServices(ctx context.Context) ([]models.Service, error)
	UpdateServiceCapacity(ctx context.Context, id uuid.UUID, capacity int) (*models.Service, error)
	// DeleteServiceCascade removes the service and all of its volunteers as one unit.
	DeleteServiceCascade(ctx context.Context, id uuid.UUID) error

	// InsertVolunteerIfUnderCapacity inserts v only if its service exists, has no
	// volunteer with the same NameKey and holds fewer volunteers than its capacity.
	// The check and the insert must be atomic with respect to other inserts.
	InsertVolunteerIfUnderCapacity(ctx context.Context, v *models.Volunteer) error
	GetVolunteer(ctx context.Context, id uuid.UUID) (*models.Volunteer, error)
	DeleteVolunteer(ctx context.Context, id uuid.UUID) error
	// ListVolunteers returns every volunteer, newest first.
	ListVolunteers(ctx context.Context) ([]models.Volunteer, error)
	ListVolunteersByClient(ctx context.Context, clientID string) ([]models.Volunteer, error)

	// Snapshot reads every service and every volunteer as of one point in time,
	// so no volunteer refers to a service missing from the same snapshot.
	Snapshot(ctx context.Context) (*models.Snapshot, error)
}
