package broadcast

import (
	"time"

	"xabar/internal/storage"
)

// eligible reports whether the job may run this tick. Re-evaluated every
// tick from fresh store reads; subscriptions expire independently of job
// state, so nothing here is cached.
func eligible(job storage.Job, sub storage.Subscription, dests []storage.Destination, cred storage.Credential, now time.Time) bool {
	if !job.Active {
		return false
	}
	if !sub.Active(now) {
		return false
	}
	if len(dests) == 0 {
		return false
	}
	if !cred.Active || cred.Token == "" {
		return false
	}
	return true
}

// due reports whether the job's cadence has elapsed. A zero LastRun
// (never run, or an unreadable stamp) is due immediately. The boundary
// is inclusive: elapsed == interval counts as due.
func due(job storage.Job, minInterval time.Duration, now time.Time) bool {
	if job.LastRun.IsZero() {
		return true
	}
	interval := job.Interval
	if interval < minInterval {
		interval = minInterval
	}
	return now.Sub(job.LastRun) >= interval
}
