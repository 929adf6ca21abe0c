package busy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
)

// maxOccurrences caps the expansion of a single recurring event.
const maxOccurrences = 2000

// Feed is an ICS subscription registered by a host.
type Feed struct {
	ID     string `json:"id"`
	HostID string `json:"host_id"`
	URL    string `json:"url"`
}

type FeedStore interface {
	ListFeeds(ctx context.Context, hostID string) ([]Feed, error)
}

// Fetcher downloads ICS bodies, keeping the last good body and its validators
// in a KV so conditional requests and outages can fall back to it.
type Fetcher struct {
	client *http.Client
	kv     KV
	log    *zap.Logger
}

type fetchEntry struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Body         []byte    `json:"body"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewFetcher(client *http.Client, kv KV, log *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{client: client, kv: kv, log: log}
}

func fetchKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "ics:" + hex.EncodeToString(sum[:8])
}

// Fetch returns the feed body, from the network when it changed and from the
// KV when the server answers 304 or cannot be reached.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("feed url is empty")
	}
	key := fetchKey(url)
	var cached fetchEntry
	if raw, err := f.kv.Get(ctx, key); err == nil {
		if jerr := json.Unmarshal([]byte(raw), &cached); jerr != nil {
			// a half-decoded entry could send a validator with no body behind it
			cached = fetchEntry{}
			f.log.Warn("discarding unreadable ics cache entry", zap.String("url", redactURL(url)), zap.Error(jerr))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}
	if cached.LastModified != "" {
		req.Header.Set("If-Modified-Since", cached.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached.Body) > 0 {
			f.log.Warn("ics fetch failed, using cached body", zap.String("url", redactURL(url)), zap.Error(err))
			return cached.Body, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		entry := fetchEntry{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			UpdatedAt:    time.Now().UTC(),
		}
		if b, jerr := json.Marshal(entry); jerr == nil {
			// no expiry: the body is the fallback for outages
			if serr := f.kv.Set(ctx, key, string(b), 0); serr != nil {
				f.log.Warn("ics cache save failed", zap.String("url", redactURL(url)), zap.Error(serr))
			}
		}
		return body, nil
	case http.StatusNotModified:
		if len(cached.Body) == 0 {
			return nil, errors.New("304 Not Modified without a cached body")
		}
		return cached.Body, nil
	default:
		if len(cached.Body) > 0 {
			f.log.Warn("ics fetch non-OK, using cached body", zap.String("url", redactURL(url)), zap.Int("status", resp.StatusCode))
			return cached.Body, nil
		}
		return nil, fmt.Errorf("ics fetch: %s", resp.Status)
	}
}

// redactURL keeps only scheme and host; feed paths usually embed a secret.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/..."
}

// ICSSource turns the host's subscribed ICS feeds into busy intervals.
type ICSSource struct {
	feeds   FeedStore
	fetcher *Fetcher
	log     *zap.Logger
}

func NewICSSource(feeds FeedStore, fetcher *Fetcher, log *zap.Logger) *ICSSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &ICSSource{feeds: feeds, fetcher: fetcher, log: log}
}

// Busy fails only when feeds cannot be listed; a broken feed is skipped.
func (s *ICSSource) Busy(ctx context.Context, hostID string, from, to time.Time) ([]Interval, error) {
	feeds, err := s.feeds.ListFeeds(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	var out []Interval
	for _, fd := range feeds {
		body, err := s.fetcher.Fetch(ctx, fd.URL)
		if err != nil {
			s.log.Warn("skipping ics feed", zap.String("feed_id", fd.ID), zap.String("url", redactURL(fd.URL)), zap.Error(err))
			continue
		}
		ivs, err := ParseICS(body, from, to)
		if err != nil {
			s.log.Warn("skipping unparsable ics feed", zap.String("feed_id", fd.ID), zap.Error(err))
			continue
		}
		out = append(out, ivs...)
	}
	return Normalize(out), nil
}

type vevent struct {
	uid        string
	start      time.Time
	end        time.Time
	allDay     bool
	rrule      string
	exdates    []time.Time
	recurrence *time.Time
}

// ParseICS returns the busy intervals of body that overlap [from, to).
// Transparent and cancelled events do not block time. Recurring events are
// expanded with EXDATEs and overridden instances removed.
func ParseICS(body []byte, from, to time.Time) ([]Interval, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var events []vevent
	overridden := make(map[string][]time.Time)
	for _, ve := range cal.Events() {
		ev, ok := readEvent(ve)
		if !ok {
			continue
		}
		if ev.recurrence != nil {
			overridden[ev.uid] = append(overridden[ev.uid], *ev.recurrence)
		}
		events = append(events, ev)
	}

	var out []Interval
	for _, ev := range events {
		if ev.rrule == "" || ev.recurrence != nil {
			if ev.end.After(from) && ev.start.Before(to) {
				out = append(out, Interval{Start: ev.start, End: ev.end})
			}
			continue
		}
		out = append(out, expand(ev, overridden[ev.uid], from, to)...)
	}
	return Clip(Normalize(out), from, to), nil
}

func readEvent(ve *ical.VEvent) (vevent, bool) {
	var ev vevent
	if p := ve.GetProperty(ical.ComponentPropertyTransp); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
		return ev, false
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return ev, false
	}
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.uid = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, false
	}
	ev.allDay = isDateValue(dtStart)

	var err error
	if ev.allDay {
		ev.start, err = ve.GetAllDayStartAt()
	} else {
		ev.start, err = ve.GetStartAt()
	}
	if err != nil {
		return ev, false
	}
	if ev.allDay {
		ev.end, err = ve.GetAllDayEndAt()
	} else {
		ev.end, err = ve.GetEndAt()
	}
	if err != nil || !ev.end.After(ev.start) {
		if !ev.allDay {
			return ev, false
		}
		ev.end = ev.start.AddDate(0, 0, 1)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p.ICalParameters, ev.start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		loc := paramLocation(p.ICalParameters, ev.start.Location())
		if t, err := parseICSTime(p.Value, loc); err == nil {
			ev.recurrence = &t
		}
	}
	return ev, true
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func paramLocation(params map[string][]string, fallback *time.Location) *time.Location {
	if tz, ok := params["TZID"]; ok && len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	return fallback
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func expand(ev vevent, overridden []time.Time, from, to time.Time) []Interval {
	r, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		return nil
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}
	for _, rid := range overridden {
		set.ExDate(rid.In(ev.start.Location()))
	}

	dur := ev.end.Sub(ev.start)
	// occurrences starting before from may still run into the range
	starts := set.Between(from.Add(-dur).In(ev.start.Location()), to.In(ev.start.Location()), true)
	if len(starts) > maxOccurrences {
		starts = starts[:maxOccurrences]
	}

	// all-day spans repeat in calendar days, which DST can make 23 or 25 hours
	days := int((dur + 12*time.Hour) / (24 * time.Hour))
	out := make([]Interval, 0, len(starts))
	for _, s := range starts {
		end := s.Add(dur)
		if ev.allDay {
			end = s.AddDate(0, 0, days)
		}
		out = append(out, Interval{Start: s, End: end})
	}
	return out
}
