package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"

	"availability-service/internal/availability"
	"availability-service/internal/busy"
	"availability-service/internal/slots"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) GetSchedule(ctx context.Context, hostID string) (*HostSchedule, error) {
	q := `SELECT host_id, host_name, timezone, primary_event_enabled, primary_event_duration,
	             primary_event_description, updated_at
	      FROM schedules WHERE host_id=$1`
	var hs HostSchedule
	err := s.pool.QueryRow(ctx, q, hostID).Scan(&hs.HostID, &hs.HostName, &hs.Timezone,
		&hs.PrimaryEventEnabled, &hs.PrimaryEventDuration, &hs.PrimaryEventDescription, &hs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("schedule for host %s: %w", hostID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT day_of_week, start_minute, end_minute
	      FROM schedule_availabilities WHERE host_id=$1 ORDER BY day_of_week, start_minute`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list availabilities: %w", err)
	}
	defer rows.Close()

	hs.Windows = []availability.Window{}
	for rows.Next() {
		var day, start, end int
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		hs.Windows = append(hs.Windows, availability.Window{
			DayOfWeek: time.Weekday(day),
			StartTime: availability.TimeOfDay(start),
			EndTime:   availability.TimeOfDay(end),
		})
	}
	return &hs, rows.Err()
}

// SaveSchedule replaces the host's schedule and all of its windows.
func (s *PGStore) SaveSchedule(ctx context.Context, hs *HostSchedule) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	q := `INSERT INTO schedules
	        (host_id, host_name, timezone, primary_event_enabled, primary_event_duration, primary_event_description, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,now())
	      ON CONFLICT (host_id) DO UPDATE SET
	        host_name=EXCLUDED.host_name, timezone=EXCLUDED.timezone,
	        primary_event_enabled=EXCLUDED.primary_event_enabled,
	        primary_event_duration=EXCLUDED.primary_event_duration,
	        primary_event_description=EXCLUDED.primary_event_description,
	        updated_at=now()
	      RETURNING updated_at`
	if err := tx.QueryRow(ctx, q, hs.HostID, hs.HostName, hs.Timezone, hs.PrimaryEventEnabled,
		hs.PrimaryEventDuration, hs.PrimaryEventDescription).Scan(&hs.UpdatedAt); err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM schedule_availabilities WHERE host_id=$1`, hs.HostID); err != nil {
		return fmt.Errorf("clear availabilities: %w", err)
	}
	for _, w := range hs.Windows {
		if _, err := tx.Exec(ctx,
			`INSERT INTO schedule_availabilities (host_id, day_of_week, start_minute, end_minute) VALUES ($1,$2,$3,$4)`,
			hs.HostID, int(w.DayOfWeek), int(w.StartTime), int(w.EndTime)); err != nil {
			return fmt.Errorf("insert availability: %w", err)
		}
	}
	return tx.Commit(ctx)
}

const eventColumns = `id, host_id, name, description, duration_in_minutes, is_active`

func scanEvent(row pgx.Row) (*slots.Event, error) {
	e := slots.Event{Kind: slots.KindStored}
	if err := row.Scan(&e.ID, &e.HostID, &e.Name, &e.Description, &e.DurationInMinutes, &e.IsActive); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PGStore) CreateEvent(ctx context.Context, e *slots.Event) error {
	q := `INSERT INTO events (` + eventColumns + `, created_at) VALUES ($1,$2,$3,$4,$5,$6,now())`
	if _, err := s.pool.Exec(ctx, q, e.ID, e.HostID, e.Name, e.Description, e.DurationInMinutes, e.IsActive); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *PGStore) GetEvent(ctx context.Context, hostID, eventID string) (*slots.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE host_id=$1 AND id=$2`
	e, err := scanEvent(s.pool.QueryRow(ctx, q, hostID, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *PGStore) ListEvents(ctx context.Context, hostID string) ([]slots.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE host_id=$1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q, hostID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []slots.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *PGStore) SetEventActive(ctx context.Context, hostID, eventID string, active bool) (*slots.Event, error) {
	q := `UPDATE events SET is_active=$3 WHERE host_id=$1 AND id=$2 RETURNING ` + eventColumns
	e, err := scanEvent(s.pool.QueryRow(ctx, q, hostID, eventID, active))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return e, nil
}

func (s *PGStore) CreateFeed(ctx context.Context, f *busy.Feed) error {
	q := `INSERT INTO calendar_feeds (id, host_id, url, created_at) VALUES ($1,$2,$3,now())
	      ON CONFLICT (host_id, url) DO UPDATE SET url=EXCLUDED.url
	      RETURNING id`
	if err := s.pool.QueryRow(ctx, q, f.ID, f.HostID, f.URL).Scan(&f.ID); err != nil {
		return fmt.Errorf("create feed: %w", err)
	}
	return nil
}

func (s *PGStore) ListFeeds(ctx context.Context, hostID string) ([]busy.Feed, error) {
	return s.queryFeeds(ctx, `SELECT id, host_id, url FROM calendar_feeds WHERE host_id=$1 ORDER BY created_at`, hostID)
}

func (s *PGStore) ListAllFeeds(ctx context.Context) ([]busy.Feed, error) {
	return s.queryFeeds(ctx, `SELECT id, host_id, url FROM calendar_feeds ORDER BY host_id, created_at`)
}

func (s *PGStore) queryFeeds(ctx context.Context, q string, args ...any) ([]busy.Feed, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	out := []busy.Feed{}
	for rows.Next() {
		var f busy.Feed
		if err := rows.Scan(&f.ID, &f.HostID, &f.URL); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateBooking(ctx context.Context, b *Booking, verify func(context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// the schedule row lock serializes concurrent bookings of one host
	var hostID string
	err = tx.QueryRow(ctx, `SELECT host_id FROM schedules WHERE host_id=$1 FOR UPDATE`, b.HostID).Scan(&hostID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("schedule for host %s: %w", b.HostID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock schedule: %w", err)
	}

	var existingID string
	checkQ := `SELECT id FROM bookings
	           WHERE host_id=$1 AND status='confirmed' AND start_at < $3 AND end_at > $2
	           LIMIT 1`
	err = tx.QueryRow(ctx, checkQ, b.HostID, b.StartTime.UTC(), b.EndTime.UTC()).Scan(&existingID)
	if err == nil {
		return ErrSlotTaken
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check overlap: %w", err)
	}

	if verify != nil {
		if err := verify(ctx); err != nil {
			return err
		}
	}

	insertQ := `INSERT INTO bookings
		(id, host_id, event_id, guest_name, guest_email, guest_notes, guest_timezone, start_at, end_at, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		RETURNING created_at`
	if err := tx.QueryRow(ctx, insertQ, b.ID, b.HostID, b.EventID, b.GuestName, b.GuestEmail, b.GuestNotes,
		b.GuestTimezone, b.StartTime.UTC(), b.EndTime.UTC(), string(b.Status)).Scan(&b.CreatedAt); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return tx.Commit(ctx)
}

const bookingColumns = `id, host_id, event_id, guest_name, guest_email, guest_notes, guest_timezone,
	start_at, end_at, status, created_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var status string
	if err := row.Scan(&b.ID, &b.HostID, &b.EventID, &b.GuestName, &b.GuestEmail, &b.GuestNotes,
		&b.GuestTimezone, &b.StartTime, &b.EndTime, &status, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Status = BookingStatus(status)
	b.StartTime = b.StartTime.UTC()
	b.EndTime = b.EndTime.UTC()
	return &b, nil
}

func (s *PGStore) ListBookings(ctx context.Context, hostID string, from, to time.Time, filtered bool) ([]Booking, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if filtered {
		q := `SELECT ` + bookingColumns + ` FROM bookings
		      WHERE host_id=$1 AND start_at >= $2 AND start_at < $3
		      ORDER BY start_at`
		rows, err = s.pool.Query(ctx, q, hostID, from.UTC(), to.UTC())
	} else {
		q := `SELECT ` + bookingColumns + ` FROM bookings WHERE host_id=$1 ORDER BY start_at`
		rows, err = s.pool.Query(ctx, q, hostID)
	}
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	out := []Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PGStore) GetBooking(ctx context.Context, id string) (*Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id=$1`
	b, err := scanBooking(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *PGStore) CancelBooking(ctx context.Context, id string) (*Booking, error) {
	q := `UPDATE bookings SET status='cancelled' WHERE id=$1 AND status != 'cancelled' RETURNING ` + bookingColumns
	b, err := scanBooking(s.pool.QueryRow(ctx, q, id))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	// nothing updated: tell a missing booking from an already cancelled one
	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM bookings WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	return nil, ErrAlreadyCancelled
}

func (s *PGStore) ConfirmedBookings(ctx context.Context, hostID string, from, to time.Time) ([]busy.Interval, error) {
	q := `SELECT start_at, end_at FROM bookings
	      WHERE host_id=$1 AND status='confirmed' AND start_at < $3 AND end_at > $2`
	rows, err := s.pool.Query(ctx, q, hostID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("confirmed bookings: %w", err)
	}
	defer rows.Close()

	var out []busy.Interval
	for rows.Next() {
		var iv busy.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("scan booking interval: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *PGStore) GetToken(ctx context.Context, hostID string) (*oauth2.Token, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT token FROM calendar_tokens WHERE host_id=$1`, hostID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

func (s *PGStore) SaveToken(ctx context.Context, hostID string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	q := `INSERT INTO calendar_tokens (host_id, token, updated_at) VALUES ($1, $2::jsonb, now())
	      ON CONFLICT (host_id) DO UPDATE SET token=EXCLUDED.token, updated_at=now()`
	if _, err := s.pool.Exec(ctx, q, hostID, string(raw)); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

var _ Store = (*PGStore)(nil)
