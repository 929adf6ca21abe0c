package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"availability-service/internal/busy"
)

const sessionSweepSpec = "@every 5m"

// Jobs runs background maintenance: keeping ICS feed bodies warm so slot
// requests rarely wait on a remote calendar, and expiring idle sessions.
type Jobs struct {
	cron     *cron.Cron
	store    Store
	fetcher  *busy.Fetcher
	sessions *SessionManager
	log      *zap.Logger
}

func NewJobs(feedSpec string, store Store, fetcher *busy.Fetcher, sessions *SessionManager, log *zap.Logger) (*Jobs, error) {
	j := &Jobs{
		cron:     cron.New(),
		store:    store,
		fetcher:  fetcher,
		sessions: sessions,
		log:      log,
	}
	if fetcher != nil {
		if _, err := j.cron.AddFunc(feedSpec, j.RefreshFeeds); err != nil {
			return nil, fmt.Errorf("schedule feed refresh %q: %w", feedSpec, err)
		}
	}
	if sessions != nil {
		if _, err := j.cron.AddFunc(sessionSweepSpec, j.SweepSessions); err != nil {
			return nil, fmt.Errorf("schedule session sweep: %w", err)
		}
	}
	return j, nil
}

// Start runs the cron scheduler in its own goroutine. It does not block.
func (j *Jobs) Start() {
	j.log.Info("starting background jobs", zap.Int("entries", len(j.cron.Entries())))
	j.cron.Start()
}

// Stop waits for running jobs or until ctx is done.
func (j *Jobs) Stop(ctx context.Context) {
	j.log.Info("stopping background jobs")
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *Jobs) RefreshFeeds() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	feeds, err := j.store.ListAllFeeds(ctx)
	if err != nil {
		j.log.Error("feed refresh: list feeds", zap.Error(err))
		return
	}
	failed := 0
	for _, f := range feeds {
		if _, err := j.fetcher.Fetch(ctx, f.URL); err != nil {
			failed++
			j.log.Warn("feed refresh failed", zap.String("feed_id", f.ID), zap.String("host_id", f.HostID), zap.Error(err))
		}
	}
	j.log.Info("feed refresh completed", zap.Int("feeds", len(feeds)), zap.Int("failed", failed))
}

func (j *Jobs) SweepSessions() {
	if n := j.sessions.Sweep(); n > 0 {
		j.log.Debug("expired sessions removed", zap.Int("count", n))
	}
}
