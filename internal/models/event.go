package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventType identifies a committed change pushed to observers.
type EventType string

const (
	EventServiceAdded     EventType = "SERVICE_ADDED"
	EventServiceUpdated   EventType = "SERVICE_UPDATED"
	EventServiceRemoved   EventType = "SERVICE_REMOVED"
	EventVolunteerAdded   EventType = "VOLUNTEER_ADDED"
	EventVolunteerRemoved EventType = "VOLUNTEER_REMOVED"
)

// Event is the change-notification envelope.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServiceUpdate is the SERVICE_UPDATED payload; only capacity is mutable.
type ServiceUpdate struct {
	ID       uuid.UUID `json:"id"`
	Capacity int       `json:"capacity"`
}

// ServiceRef is the SERVICE_REMOVED payload.
type ServiceRef struct {
	ID uuid.UUID `json:"id"`
}

// VolunteerRef is the VOLUNTEER_REMOVED payload. It carries the service id so
// observers can adjust per-service counts without a lookup.
type VolunteerRef struct {
	ID        uuid.UUID `json:"id"`
	ServiceID uuid.UUID `json:"service_id"`
}

// NewEvent marshals payload into an event of the given type.
func NewEvent(t EventType, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Snapshot is the full authoritative listing used to resynchronize.
type Snapshot struct {
	Services   []Service   `json:"services"`
	Volunteers []Volunteer `json:"volunteers"`
}
