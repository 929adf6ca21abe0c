package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"availability-service/internal/busy"
	"availability-service/internal/slots"
)

// Resolution is the bookable start set of one event at one instant.
type Resolution struct {
	Host  *HostSchedule
	Event slots.Event
	Times slots.ValidTimeSet
}

// LoadEvent returns the active event eventID of hostID. The id "primary"
// names the event synthesized from the schedule.
func (s *BookingService) LoadEvent(ctx context.Context, host *HostSchedule, eventID string) (slots.Event, error) {
	if eventID == slots.PrimaryEventID {
		ev := slots.PrimaryEvent(host.Schedule, host.HostName)
		if !ev.IsActive {
			return slots.Event{}, fmt.Errorf("primary event of host %s is disabled: %w", host.HostID, ErrEventNotFound)
		}
		return ev, nil
	}
	ev, err := s.store.GetEvent(ctx, host.HostID, eventID)
	if err != nil {
		return slots.Event{}, err
	}
	if !ev.IsActive {
		return slots.Event{}, fmt.Errorf("event %s: %w", eventID, ErrEventNotFound)
	}
	return *ev, nil
}

// ResolveSlots builds the candidate grid in the host zone, fetches busy time
// for the horizon and intersects the two.
func (s *BookingService) ResolveSlots(ctx context.Context, hostID, eventID string) (*Resolution, error) {
	host, err := s.store.GetSchedule(ctx, hostID)
	if err != nil {
		return nil, err
	}
	ev, err := s.LoadEvent(ctx, host, eventID)
	if err != nil {
		return nil, err
	}
	loc, err := host.Location()
	if err != nil {
		return nil, err
	}

	now := s.now()
	grid, err := slots.Grid(now, s.steps.StepFor(ev), s.horizonMonths, loc)
	if err != nil {
		return nil, err
	}
	res := &Resolution{Host: host, Event: ev, Times: slots.ValidTimeSet{}}
	if len(grid) == 0 {
		return res, nil
	}

	to := grid[len(grid)-1].Add(ev.Duration())
	intervals, err := s.busy.Busy(ctx, hostID, now, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusyUnavailable, err)
	}

	res.Times, err = slots.NewResolver(host.Schedule, intervals, now).Resolve(grid, ev)
	if err != nil {
		return nil, err
	}
	s.log.Debug("slots resolved",
		zap.String("host_id", hostID),
		zap.String("event_id", ev.ID),
		zap.Int("candidates", len(grid)),
		zap.Int("busy", len(intervals)),
		zap.Int("valid", len(res.Times)))
	return res, nil
}

// BusyBetween exposes the merged busy intervals for diagnostics.
func (s *BookingService) BusyBetween(ctx context.Context, hostID string, from, to time.Time) ([]busy.Interval, error) {
	if _, err := s.store.GetSchedule(ctx, hostID); err != nil {
		return nil, err
	}
	ivs, err := s.busy.Busy(ctx, hostID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusyUnavailable, err)
	}
	return ivs, nil
}
