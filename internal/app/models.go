package app

import (
	"strings"
	"time"

	"availability-service/internal/availability"
)

// HostSchedule is a host's weekly availability plus the name guests see.
type HostSchedule struct {
	HostName string `json:"host_name"`
	availability.Schedule
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type Booking struct {
	ID            string        `json:"id"`
	HostID        string        `json:"host_id"`
	EventID       string        `json:"event_id"`
	GuestName     string        `json:"guest_name"`
	GuestEmail    string        `json:"guest_email"`
	GuestNotes    string        `json:"guest_notes,omitempty"`
	GuestTimezone string        `json:"guest_timezone,omitempty"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Status        BookingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at,omitempty"`
}

// weekdayParam accepts 0-6 or an English day name.
type weekdayParam time.Weekday

func (w *weekdayParam) UnmarshalJSON(b []byte) error {
	d, err := availability.ParseWeekday(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*w = weekdayParam(d)
	return nil
}

type windowRequest struct {
	DayOfWeek weekdayParam           `json:"day_of_week"`
	StartTime availability.TimeOfDay `json:"start_time"`
	EndTime   availability.TimeOfDay `json:"end_time"`
}

type scheduleRequest struct {
	HostName                string          `json:"host_name"`
	Timezone                string          `json:"timezone" binding:"required"`
	Availabilities          []windowRequest `json:"availabilities"`
	PrimaryEventEnabled     *bool           `json:"primary_event_enabled"`
	PrimaryEventDuration    int             `json:"primary_event_duration"`
	PrimaryEventDescription string          `json:"primary_event_description"`
}

func (r scheduleRequest) toSchedule(hostID string) *HostSchedule {
	s := &HostSchedule{
		HostName: r.HostName,
		Schedule: availability.Schedule{
			HostID:                  hostID,
			Timezone:                r.Timezone,
			Windows:                 make([]availability.Window, 0, len(r.Availabilities)),
			PrimaryEventEnabled:     r.PrimaryEventEnabled == nil || *r.PrimaryEventEnabled,
			PrimaryEventDuration:    r.PrimaryEventDuration,
			PrimaryEventDescription: r.PrimaryEventDescription,
		},
	}
	if s.PrimaryEventDuration == 0 {
		s.PrimaryEventDuration = availability.DefaultPrimaryEventDuration
	}
	for _, w := range r.Availabilities {
		s.Windows = append(s.Windows, availability.Window{
			DayOfWeek: time.Weekday(w.DayOfWeek),
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
		})
	}
	return s
}

type eventRequest struct {
	Name              string `json:"name" binding:"required"`
	Description       string `json:"description"`
	DurationInMinutes int    `json:"duration_in_minutes" binding:"required"`
	IsActive          *bool  `json:"is_active"`
}

type eventUpdateRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

type feedRequest struct {
	URL string `json:"url" binding:"required,url"`
}

type guestRequest struct {
	GuestName  string `json:"guest_name" binding:"required"`
	GuestEmail string `json:"guest_email" binding:"required,email"`
	GuestNotes string `json:"guest_notes"`
}

type createBookingReq struct {
	guestRequest
	StartTime string `json:"start_time" binding:"required"` // RFC3339
	Timezone  string `json:"timezone"`
}

type sessionRequest struct {
	Timezone string `json:"timezone"`
}

type directionRequest struct {
	Direction string `json:"direction" binding:"required"`
}

type dateRequest struct {
	Date string `json:"date" binding:"required"` // YYYY-MM-DD in the session's zone
}

// pageRequest jumps to Page when set, otherwise steps by Direction.
type pageRequest struct {
	Page      *int   `json:"page"`
	Direction string `json:"direction"`
}

type timeRequest struct {
	Time string `json:"time" binding:"required"` // RFC3339
}

// slotsResponse renders a resolved set; times are UTC plus the guest's zone.
type slotsResponse struct {
	HostID    string      `json:"host_id"`
	EventID   string      `json:"event_id"`
	EventName string      `json:"event_name"`
	Duration  int         `json:"duration_in_minutes"`
	Timezone  string      `json:"timezone"`
	Available bool        `json:"available"`
	Times     []time.Time `json:"times"`
	Local     []string    `json:"local_times"`
}
