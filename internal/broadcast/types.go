package broadcast

import (
	"context"
	"time"

	appcfg "xabar/internal/config"
	"xabar/internal/storage"
)

const (
	DefaultTick        = 8 * time.Second
	DefaultMinInterval = 15 * time.Second
	DefaultPacing      = 500 * time.Millisecond
)

// Config is the scheduler's runtime configuration.
type Config struct {
	Enabled     bool
	Tick        time.Duration
	MinInterval time.Duration
	Pacing      time.Duration
	Tagline     string
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.Pacing <= 0 {
		c.Pacing = DefaultPacing
	}
	return c
}

// FromSettings converts the file-level section into a runtime Config.
// A nil section means enabled with defaults.
func FromSettings(s *appcfg.BroadcastConfig) (Config, error) {
	c := Config{Enabled: true}
	if s == nil {
		return c.withDefaults(), nil
	}
	if s.Enabled != nil {
		c.Enabled = *s.Enabled
	}
	var err error
	if c.Tick, err = appcfg.ParseDurationOrDefault("broadcast.tick", s.Tick, DefaultTick); err != nil {
		return Config{}, err
	}
	if c.MinInterval, err = appcfg.ParseDurationOrDefault("broadcast.min_interval", s.MinInterval, DefaultMinInterval); err != nil {
		return Config{}, err
	}
	if c.Pacing, err = appcfg.ParseDurationOrDefault("broadcast.pacing", s.Pacing, DefaultPacing); err != nil {
		return Config{}, err
	}
	c.Tagline = s.Tagline
	return c.withDefaults(), nil
}

// Store is the slice of the persistence layer the scheduler reads each
// tick, plus the single write it performs.
type Store interface {
	ListActiveJobs(ctx context.Context) ([]storage.Job, error)
	Subscription(ctx context.Context, owner int64) (storage.Subscription, error)
	ActiveDestinations(ctx context.Context, owner int64) ([]storage.Destination, error)
	ActiveCredential(ctx context.Context, owner int64) (storage.Credential, error)
	RecordJobRun(ctx context.Context, id int64, at time.Time) error
}

// PassResult summarizes one fan-out pass. Attempted counts destinations
// the pass reached; Delivered + Failed == Attempted once the pass ends.
type PassResult struct {
	Attempted    int
	Delivered    int
	Failed       int
	ThrottleWait time.Duration
}
