package app

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"availability-service/internal/busy"
	"availability-service/internal/slots"
)

// Store is the persistence the handlers and services need. PGStore is the
// production implementation.
type Store interface {
	GetSchedule(ctx context.Context, hostID string) (*HostSchedule, error)
	SaveSchedule(ctx context.Context, s *HostSchedule) error

	CreateEvent(ctx context.Context, e *slots.Event) error
	GetEvent(ctx context.Context, hostID, eventID string) (*slots.Event, error)
	ListEvents(ctx context.Context, hostID string) ([]slots.Event, error)
	SetEventActive(ctx context.Context, hostID, eventID string, active bool) (*slots.Event, error)

	CreateFeed(ctx context.Context, f *busy.Feed) error
	ListFeeds(ctx context.Context, hostID string) ([]busy.Feed, error)
	ListAllFeeds(ctx context.Context) ([]busy.Feed, error)

	// CreateBooking inserts b in one transaction that serializes bookings of
	// the host, rejects overlaps with ErrSlotTaken and runs verify before the
	// insert.
	CreateBooking(ctx context.Context, b *Booking, verify func(context.Context) error) error
	ListBookings(ctx context.Context, hostID string, from, to time.Time, filtered bool) ([]Booking, error)
	GetBooking(ctx context.Context, id string) (*Booking, error)
	CancelBooking(ctx context.Context, id string) (*Booking, error)
	ConfirmedBookings(ctx context.Context, hostID string, from, to time.Time) ([]busy.Interval, error)

	GetToken(ctx context.Context, hostID string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, hostID string, tok *oauth2.Token) error
}

var (
	_ busy.FeedStore    = Store(nil)
	_ busy.BookingStore = Store(nil)
	_ busy.TokenStore   = Store(nil)
)
