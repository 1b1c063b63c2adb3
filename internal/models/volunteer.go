package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Volunteer occupies one seat of a Service.
type Volunteer struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	ServiceID uuid.UUID `json:"service_id"`
	// ClientID is the opaque id of the client that created the registration.
	// It is never exposed in listings.
	ClientID  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// NameKey normalizes a name for the per-service uniqueness check.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
