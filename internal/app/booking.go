package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"availability-service/internal/busy"
	"availability-service/internal/selection"
	"availability-service/internal/slots"
)

// BookingService resolves bookable slots and turns a chosen slot into a
// confirmed booking.
type BookingService struct {
	store         Store
	busy          busy.Source
	notifier      Notifier
	steps         slots.StepPolicy
	horizonMonths int
	now           func() time.Time
	log           *zap.Logger
}

type BookingServiceOptions struct {
	Steps         slots.StepPolicy
	HorizonMonths int
	Now           func() time.Time
	Notifier      Notifier
}

func NewBookingService(store Store, src busy.Source, log *zap.Logger, opts BookingServiceOptions) *BookingService {
	s := &BookingService{
		store:         store,
		busy:          src,
		notifier:      opts.Notifier,
		steps:         opts.Steps,
		horizonMonths: opts.HorizonMonths,
		now:           opts.Now,
		log:           log,
	}
	if s.horizonMonths <= 0 {
		s.horizonMonths = slots.DefaultHorizonMonths
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// CreateBooking books req.StartTime if a fresh resolution still offers it.
// The check and the insert share one transaction.
func (s *BookingService) CreateBooking(ctx context.Context, req selection.BookingRequest) (*Booking, error) {
	if req.GuestName == "" || req.GuestEmail == "" {
		return nil, fmt.Errorf("%w: guest name and email are required", ErrBadRequest)
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return nil, fmt.Errorf("%w: timezone %q", ErrBadRequest, req.Timezone)
		}
	}

	host, err := s.store.GetSchedule(ctx, req.HostID)
	if err != nil {
		return nil, err
	}
	ev, err := s.LoadEvent(ctx, host, req.EventID)
	if err != nil {
		return nil, err
	}

	start := req.StartTime.UTC()
	b := &Booking{
		ID:            uuid.NewString(),
		HostID:        req.HostID,
		EventID:       ev.ID,
		GuestName:     req.GuestName,
		GuestEmail:    req.GuestEmail,
		GuestNotes:    req.GuestNotes,
		GuestTimezone: req.Timezone,
		StartTime:     start,
		EndTime:       start.Add(ev.Duration()),
		Status:        BookingConfirmed,
	}

	err = s.store.CreateBooking(ctx, b, func(ctx context.Context) error {
		res, err := s.ResolveSlots(ctx, req.HostID, req.EventID)
		if err != nil {
			return err
		}
		if !res.Times.Contains(start) {
			return fmt.Errorf("%w: %s", ErrSlotUnavailable, start.Format(time.RFC3339))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("booking created",
		zap.String("booking_id", b.ID),
		zap.String("host_id", b.HostID),
		zap.String("event_id", b.EventID),
		zap.Time("start", b.StartTime))
	s.notifier.BookingCreated(ctx, *b, ev)
	return b, nil
}

func (s *BookingService) CancelBooking(ctx context.Context, id string) (*Booking, error) {
	b, err := s.store.CancelBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking cancelled", zap.String("booking_id", b.ID), zap.String("host_id", b.HostID))
	s.notifier.BookingCancelled(ctx, *b)
	return b, nil
}

// sessionBooker lets a selection machine book through the service.
type sessionBooker struct {
	svc *BookingService
}

func (sb sessionBooker) CreateBooking(ctx context.Context, req selection.BookingRequest) error {
	_, err := sb.svc.CreateBooking(ctx, req)
	return err
}
