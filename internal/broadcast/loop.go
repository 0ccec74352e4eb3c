package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"xabar/internal/storage"
	kit "xabar/internal/transport"
	logx "xabar/pkg/logx"
)

func (s *Service) run(ctx context.Context) error {
	cfg, _ := s.snapshot()
	tick := cfg.Tick
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	s.runMu.Lock()
	stopCh := s.stopCh
	s.runMu.Unlock()

	s.log.Debug("scheduler loop running", logx.Duration("tick", tick))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopCh:
			return nil
		case <-ticker.C:
		}

		if cfg, _ := s.snapshot(); cfg.Enabled {
			s.runTick(ctx, time.Now())
		}

		// Pick up a tick change after the current interval fires.
		if cfg, _ := s.snapshot(); cfg.Tick != tick {
			tick = cfg.Tick
			ticker.Reset(tick)
			s.log.Info("tick period changed", logx.Duration("tick", tick))
		}
	}
}

// runTick loads the active job set and processes each job in isolation.
// The load itself is retried with backoff; a store that is briefly
// unreachable costs one delayed tick, not the process.
func (s *Service) runTick(ctx context.Context, now time.Time) {
	var jobs []storage.Job
	err := retry.Do(
		func() error {
			var e error
			jobs, e = s.store.ListActiveJobs(ctx)
			return e
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		s.log.Error("active job load failed, skipping tick", logx.Err(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	start := time.Now()
	ran := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if s.processJob(ctx, job, now) {
			ran++
		}
	}
	if ran > 0 {
		s.log.Info("tick complete",
			logx.Int("jobs", len(jobs)), logx.Int("ran", ran),
			logx.Duration("dur", time.Since(start)))
	}
}

// processJob applies both gates to one job and, if admitted, runs the
// fan-out pass and the bookkeeping write. It reports whether a pass ran.
// Panics and errors stay inside this job.
func (s *Service) processJob(ctx context.Context, job storage.Job, now time.Time) (ran bool) {
	log := s.log.With(logx.Int64("job", job.ID), logx.Int64("owner", job.Owner))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job processing panicked", logx.Any("panic", r))
			ran = false
		}
	}()

	cfg, lim := s.snapshot()

	sub, err := s.store.Subscription(ctx, job.Owner)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn("subscription read failed", logx.Err(err))
		}
		return false
	}
	if !job.Active || !sub.Active(now) {
		return false
	}

	dests, err := s.store.ActiveDestinations(ctx, job.Owner)
	if err != nil {
		log.Warn("destination read failed", logx.Err(err))
		return false
	}
	cred, err := s.store.ActiveCredential(ctx, job.Owner)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn("credential read failed", logx.Err(err))
		}
		return false
	}

	if !eligible(job, sub, dests, cred, now) {
		return false
	}
	if !due(job, cfg.MinInterval, now) {
		return false
	}

	content := kit.Content{Body: job.Body, PhotoID: job.PhotoID}
	if cfg.Tagline != "" {
		content.Body = fmt.Sprintf("%s\n\n%s", content.Body, cfg.Tagline)
	}

	// One credential, one pass at a time.
	mu := s.lockFor(cred.ID)
	mu.Lock()
	res := s.sendPass(ctx, lim, kit.Credential{ID: cred.ID, Token: cred.Token}, dests, content)
	mu.Unlock()

	if res.Attempted == 0 {
		// The pass never reached a destination (cancellation); leave the
		// cadence untouched so the job is retried next tick.
		return false
	}

	// An attempted pass counts as run, whatever the destinations did.
	if err := s.store.RecordJobRun(ctx, job.ID, now); err != nil {
		log.Error("run bookkeeping failed", logx.Err(err))
	}

	if res.Failed > 0 {
		log.Warn("pass finished with failures",
			logx.Int("attempted", res.Attempted), logx.Int("delivered", res.Delivered),
			logx.Int("failed", res.Failed), logx.Duration("throttle_wait", res.ThrottleWait))
	} else {
		log.Info("pass finished",
			logx.Int("delivered", res.Delivered),
			logx.Duration("throttle_wait", res.ThrottleWait))
	}
	return true
}
