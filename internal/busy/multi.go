package busy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Named labels a source for logging. A Required source failing fails the
// whole query; any other failure is logged and treated as no data.
type Named struct {
	Name     string
	Source   Source
	Required bool
}

// Multi queries every source concurrently and merges the results.
type Multi struct {
	sources []Named
	log     *zap.Logger
}

// NewMulti merges sources. Only a Required source failing fails the query.
func NewMulti(log *zap.Logger, sources ...Named) *Multi {
	if log == nil {
		log = zap.NewNop()
	}
	return &Multi{sources: sources, log: log}
}

func (m *Multi) Busy(ctx context.Context, hostID string, from, to time.Time) ([]Interval, error) {
	results := make([][]Interval, len(m.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range m.sources {
		g.Go(func() error {
			ivs, err := s.Source.Busy(gctx, hostID, from, to)
			if err != nil {
				if s.Required {
					return fmt.Errorf("busy source %s: %w", s.Name, err)
				}
				m.log.Warn("busy source unavailable, ignoring",
					zap.String("source", s.Name),
					zap.String("host_id", hostID),
					zap.Error(err))
				return nil
			}
			results[i] = ivs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Interval
	for _, r := range results {
		all = append(all, r...)
	}
	return Merge(all), nil
}

// BookingStore lists the confirmed bookings of a host as busy intervals.
type BookingStore interface {
	ConfirmedBookings(ctx context.Context, hostID string, from, to time.Time) ([]Interval, error)
}

// BookingSource exposes already confirmed bookings so a slot is never offered twice.
type BookingSource struct {
	store BookingStore
}

func NewBookingSource(store BookingStore) *BookingSource {
	return &BookingSource{store: store}
}

func (b *BookingSource) Busy(ctx context.Context, hostID string, from, to time.Time) ([]Interval, error) {
	return b.store.ConfirmedBookings(ctx, hostID, from, to)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, hostID string, from, to time.Time) ([]Interval, error)

func (f SourceFunc) Busy(ctx context.Context, hostID string, from, to time.Time) ([]Interval, error) {
	return f(ctx, hostID, from, to)
}
