package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Policy holds the booking knobs operators tune without a redeploy.
type Policy struct {
	// HorizonMonths is how far ahead guests may book.
	HorizonMonths int `yaml:"horizon_months" json:"horizon_months"`

	// PrimaryStepMinutes and EventStepMinutes are the candidate grid
	// spacing for the primary event and for stored events.
	PrimaryStepMinutes int `yaml:"primary_step_minutes" json:"primary_step_minutes"`
	EventStepMinutes   int `yaml:"event_step_minutes" json:"event_step_minutes"`

	PageSize int `yaml:"page_size" json:"page_size"`

	BusyCacheTTL time.Duration `yaml:"busy_cache_ttl" json:"busy_cache_ttl"`

	// FeedRefreshCron is a standard five-field cron spec.
	FeedRefreshCron string `yaml:"feed_refresh_cron" json:"feed_refresh_cron"`

	SessionTTL time.Duration `yaml:"session_ttl" json:"session_ttl"`
}

func DefaultPolicy() *Policy {
	return &Policy{
		HorizonMonths:      2,
		PrimaryStepMinutes: 30,
		EventStepMinutes:   15,
		PageSize:           6,
		BusyCacheTTL:       2 * time.Minute,
		FeedRefreshCron:    "*/15 * * * *",
		SessionTTL:         time.Hour,
	}
}

// Normalize replaces zero or unusable values with defaults.
func (p *Policy) Normalize() {
	d := DefaultPolicy()
	if p.HorizonMonths <= 0 {
		p.HorizonMonths = d.HorizonMonths
	}
	if p.PrimaryStepMinutes <= 0 {
		p.PrimaryStepMinutes = d.PrimaryStepMinutes
	}
	if p.EventStepMinutes <= 0 {
		p.EventStepMinutes = d.EventStepMinutes
	}
	if p.PageSize <= 0 {
		p.PageSize = d.PageSize
	}
	if p.BusyCacheTTL <= 0 {
		p.BusyCacheTTL = d.BusyCacheTTL
	}
	if _, err := cron.ParseStandard(p.FeedRefreshCron); err != nil {
		p.FeedRefreshCron = d.FeedRefreshCron
	}
	if p.SessionTTL <= 0 {
		p.SessionTTL = d.SessionTTL
	}
}

func (p *Policy) PrimaryStep() time.Duration {
	return time.Duration(p.PrimaryStepMinutes) * time.Minute
}

func (p *Policy) EventStep() time.Duration {
	return time.Duration(p.EventStepMinutes) * time.Minute
}

// LoadPolicy reads the YAML policy at path. An empty path or a missing file
// yields the defaults.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultPolicy(), nil
		}
		return nil, err
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	p.Normalize()
	return &p, nil
}
