package busy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// TokenStore persists the Google OAuth2 token granted by each host.
// GetToken returns a nil token when the host never connected a calendar.
type TokenStore interface {
	GetToken(ctx context.Context, hostID string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, hostID string, tok *oauth2.Token) error
}

// GoogleSource reads busy time from the host's Google calendars via FreeBusy.
type GoogleSource struct {
	cfg         *oauth2.Config
	tokens      TokenStore
	calendarIDs []string
	log         *zap.Logger
	opts        []option.ClientOption
}

func NewGoogleSource(cfg *oauth2.Config, tokens TokenStore, log *zap.Logger, opts ...option.ClientOption) *GoogleSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &GoogleSource{cfg: cfg, tokens: tokens, calendarIDs: []string{"primary"}, log: log, opts: opts}
}

func (g *GoogleSource) Busy(ctx context.Context, hostID string, from, to time.Time) ([]Interval, error) {
	tok, err := g.tokens.GetToken(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("load calendar token: %w", err)
	}
	if tok == nil {
		return nil, nil
	}

	ts := g.cfg.TokenSource(ctx, tok)
	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}, g.opts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	req := &calendar.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
	}
	for _, id := range g.calendarIDs {
		req.Items = append(req.Items, &calendar.FreeBusyRequestItem{Id: id})
	}
	resp, err := srv.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	var out []Interval
	for id, cal := range resp.Calendars {
		for _, e := range cal.Errors {
			g.log.Warn("freebusy calendar error", zap.String("calendar_id", id), zap.String("reason", e.Reason))
		}
		for _, p := range cal.Busy {
			start, serr := time.Parse(time.RFC3339, p.Start)
			end, eerr := time.Parse(time.RFC3339, p.End)
			if serr != nil || eerr != nil {
				g.log.Warn("skipping unparsable busy period", zap.String("start", p.Start), zap.String("end", p.End))
				continue
			}
			out = append(out, Interval{Start: start, End: end})
		}
	}

	// keep a refreshed access token so the next query skips the refresh
	if fresh, terr := ts.Token(); terr == nil && fresh.AccessToken != tok.AccessToken {
		if serr := g.tokens.SaveToken(ctx, hostID, fresh); serr != nil {
			g.log.Warn("failed to persist refreshed token", zap.String("host_id", hostID), zap.Error(serr))
		}
	}
	return Normalize(out), nil
}
