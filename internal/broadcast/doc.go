// Package broadcast runs the recurring broadcast scheduler.
//
// The scheduler wakes on a fixed tick, loads every active job, and for
// each one independently checks owner eligibility and cadence. Admitted
// jobs fan out sequentially across the owner's registered destinations
// under a single credential, with fixed pacing between sends and a
// bounded retry when the provider signals a throttle wait. After a pass
// the job's last-run stamp and delivery counter advance exactly once,
// whatever the per-destination outcomes were.
//
// Jobs are isolated: a failure inside one job is logged and the tick
// moves on. Sends sharing a credential are serialized by a per-credential
// lock so a future concurrent tick cannot parallelize them by accident.
package broadcast
