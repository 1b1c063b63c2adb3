package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-date format used for Service.Date on the wire and in storage.
const DateLayout = "2006-01-02"

// Service is a capacity-bounded event identified by a unique date.
type Service struct {
	ID             uuid.UUID `json:"id"`
	Date           string    `json:"date"`
	Capacity       int       `json:"capacity"`
	Description    string    `json:"description,omitempty"`
	VolunteerCount int       `json:"volunteer_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Full reports whether every seat is taken. A capacity reduced below the
// current count also reads as full.
func (s Service) Full() bool {
	return s.VolunteerCount >= s.Capacity
}

// Remaining returns the number of open seats, never negative.
func (s Service) Remaining() int {
	if n := s.Capacity - s.VolunteerCount; n > 0 {
		return n
	}
	return 0
}
