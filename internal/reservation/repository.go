package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servelist/backend/internal/models"
	"github.com/servelist/backend/pkg/apperror"
)

const (
	uniqueViolation = "23505"

	constraintServiceDate   = "services_date_key"
	constraintVolunteerName = "volunteers_service_name_key"
)

// PostgresStore is the Datastore backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewPostgresStore creates a PostgreSQL datastore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const serviceColumns = `s.id, s.date, s.capacity, COALESCE(s.description, ''), s.created_at,
	(SELECT COUNT(*) FROM volunteers v WHERE v.service_id = s.id)`

func scanService(row pgx.Row) (*models.Service, error) {
	var s models.Service
	var date time.Time
	if err := row.Scan(&s.ID, &date, &s.Capacity, &s.Description, &s.CreatedAt, &s.VolunteerCount); err != nil {
		return nil, err
	}
	s.Date = date.Format(models.DateLayout)
	return &s, nil
}

// InsertService inserts a service; the unique index on date reports duplicates.
func (r *PostgresStore) InsertService(ctx context.Context, s *models.Service) error {
	date, err := time.Parse(models.DateLayout, s.Date)
	if err != nil {
		return apperror.Newf(apperror.ErrInvalidInput, "date must be %s", models.DateLayout)
	}
	const q = `INSERT INTO services (date, capacity, description)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING id, created_at`
	err = r.pool.QueryRow(ctx, q, date, s.Capacity, s.Description).Scan(&s.ID, &s.CreatedAt)
	if isUniqueViolation(err, constraintServiceDate) {
		return apperror.ErrDuplicateDate
	}
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	s.VolunteerCount = 0
	return nil
}

// GetService returns a service with its live count.
func (r *PostgresStore) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	s, err := scanService(r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	return s, nil
}

// ListServices returns all services ordered by date.
func (r *PostgresStore) ListServices(ctx context.Context) ([]models.Service, error) {
	return listServices(ctx, r.pool)
}

func listServices(ctx context.Context, q querier) ([]models.Service, error) {
	rows, err := q.Query(ctx, `SELECT `+serviceColumns+` FROM services s ORDER BY s.date ASC`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	list := make([]models.Service, 0)
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// UpdateServiceCapacity sets the capacity without touching existing volunteers.
func (r *PostgresStore) UpdateServiceCapacity(ctx context.Context, id uuid.UUID, capacity int) (*models.Service, error) {
	const q = `UPDATE services s SET capacity = $2 WHERE s.id = $1 RETURNING ` + serviceColumns
	s, err := scanService(r.pool.QueryRow(ctx, q, id, capacity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update service capacity: %w", err)
	}
	return s, nil
}

// DeleteServiceCascade deletes the service; ON DELETE CASCADE removes its volunteers
// in the same statement.
func (r *PostgresStore) DeleteServiceCascade(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

// InsertVolunteerIfUnderCapacity runs the capacity check and the insert in one
// transaction holding a row lock on the service, so concurrent sign-ups for the
// same service commit one at a time.
func (r *PostgresStore) InsertVolunteerIfUnderCapacity(ctx context.Context, v *models.Volunteer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var capacity int
	err = tx.QueryRow(ctx, `SELECT capacity FROM services WHERE id = $1 FOR UPDATE`, v.ServiceID).Scan(&capacity)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock service: %w", err)
	}

	key := models.NameKey(v.Name)
	var count, sameName int
	err = tx.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE name_key = $2)
		FROM volunteers WHERE service_id = $1`, v.ServiceID, key).Scan(&count, &sameName)
	if err != nil {
		return fmt.Errorf("count volunteers: %w", err)
	}
	if count >= capacity {
		return apperror.Newf(apperror.ErrCapacityExceeded, "no seats left for this service (%d/%d)", count, capacity)
	}
	if sameName > 0 {
		return apperror.ErrDuplicateName
	}

	const q = `INSERT INTO volunteers (name, name_key, service_id, client_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, created_at`
	err = tx.QueryRow(ctx, q, v.Name, key, v.ServiceID, v.ClientID).Scan(&v.ID, &v.CreatedAt)
	if isUniqueViolation(err, constraintVolunteerName) {
		return apperror.ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("insert volunteer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit volunteer: %w", err)
	}
	return nil
}

const volunteerColumns = `id, name, service_id, COALESCE(client_id, ''), created_at`

func scanVolunteer(row pgx.Row) (*models.Volunteer, error) {
	var v models.Volunteer
	if err := row.Scan(&v.ID, &v.Name, &v.ServiceID, &v.ClientID, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVolunteer returns a volunteer by ID.
func (r *PostgresStore) GetVolunteer(ctx context.Context, id uuid.UUID) (*models.Volunteer, error) {
	v, err := scanVolunteer(r.pool.QueryRow(ctx, `SELECT `+volunteerColumns+` FROM volunteers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get volunteer: %w", err)
	}
	return v, nil
}

// DeleteVolunteer removes a volunteer by ID.
func (r *PostgresStore) DeleteVolunteer(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM volunteers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete volunteer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

// ListVolunteers returns all volunteers, newest first.
func (r *PostgresStore) ListVolunteers(ctx context.Context) ([]models.Volunteer, error) {
	return queryVolunteers(ctx, r.pool, allVolunteers)
}

// ListVolunteersByClient returns the volunteers created by one client.
func (r *PostgresStore) ListVolunteersByClient(ctx context.Context, clientID string) ([]models.Volunteer, error) {
	if clientID == "" {
		return []models.Volunteer{}, nil
	}
	return queryVolunteers(ctx, r.pool, `SELECT `+volunteerColumns+` FROM volunteers WHERE client_id = $1 ORDER BY created_at DESC, id`, clientID)
}

// Snapshot reads services and volunteers in one read-only REPEATABLE READ
// transaction, which sees a single consistent view of both tables.
func (r *PostgresStore) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	services, err := listServices(ctx, tx)
	if err != nil {
		return nil, err
	}
	volunteers, err := queryVolunteers(ctx, tx, allVolunteers)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return &models.Snapshot{Services: services, Volunteers: volunteers}, nil
}

const allVolunteers = `SELECT ` + volunteerColumns + ` FROM volunteers ORDER BY created_at DESC, id`

func queryVolunteers(ctx context.Context, db querier, q string, args ...any) ([]models.Volunteer, error) {
	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list volunteers: %w", err)
	}
	defer rows.Close()

	list := make([]models.Volunteer, 0)
	for rows.Next() {
		v, err := scanVolunteer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan volunteer: %w", err)
		}
		list = append(list, *v)
	}
	return list, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}
