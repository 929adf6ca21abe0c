package slots

import (
	"errors"
	"fmt"
	"time"

	"availability-service/internal/availability"
)

var (
	ErrInvalidEvent    = errors.New("invalid event")
	ErrInvalidSchedule = availability.ErrInvalidSchedule
	ErrInvalidGrid     = errors.New("invalid time grid")
)

// PrimaryEventID is the id of the event synthesized from schedule settings.
const PrimaryEventID = "primary"

type Kind string

const (
	KindStored  Kind = "stored"
	KindPrimary Kind = "primary"
)

// Event is a bookable meeting type. Stored and primary events resolve the same way.
type Event struct {
	ID                string `json:"id"`
	HostID            string `json:"host_id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	DurationInMinutes int    `json:"duration_in_minutes"`
	IsActive          bool   `json:"is_active"`
	Kind              Kind   `json:"kind"`
}

func (e Event) Duration() time.Duration {
	return time.Duration(e.DurationInMinutes) * time.Minute
}

func (e Event) Validate() error {
	if e.DurationInMinutes <= 0 {
		return fmt.Errorf("%w: duration %d minutes must be positive", ErrInvalidEvent, e.DurationInMinutes)
	}
	return nil
}

// PrimaryEvent builds the host's default event from schedule settings.
func PrimaryEvent(s availability.Schedule, hostName string) Event {
	desc := s.PrimaryEventDescription
	if desc == "" {
		desc = "Book a meeting with " + hostName
	}
	return Event{
		ID:                PrimaryEventID,
		HostID:            s.HostID,
		Name:              "Meeting with " + hostName,
		Description:       desc,
		DurationInMinutes: s.PrimaryEventDuration,
		IsActive:          s.PrimaryEventEnabled,
		Kind:              KindPrimary,
	}
}
