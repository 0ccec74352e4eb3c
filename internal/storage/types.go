package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is an account on the bot surface. PaidUntil is the subscription expiry;
// a zero value means no subscription was ever activated.
type User struct {
	ID        int64
	IsAdmin   bool
	PaidUntil time.Time
	Balance   int64
	CreatedAt time.Time
}

// Subscription is the slice of User the scheduler reads each tick.
type Subscription struct {
	Owner     int64
	PaidUntil time.Time
	Balance   int64
}

// Active reports whether the subscription covers the given instant.
func (s Subscription) Active(now time.Time) bool {
	return !s.PaidUntil.IsZero() && now.Before(s.PaidUntil)
}

// Credential is a messaging credential linked by one owner. Token is the
// opaque session token the outbound sender authenticates with.
type Credential struct {
	ID        int64
	Owner     int64
	Label     string
	Token     string
	Active    bool
	CreatedAt time.Time
}

// Destination is a registered chat target. ChatRef is the provider-level
// handle (@username or a numeric chat id), resolved once at registration.
type Destination struct {
	ID        int64
	Owner     int64
	ChatRef   string
	Title     string
	Active    bool
	CreatedAt time.Time
}

// Job is a recurring broadcast configuration.
//
// LastRun is zero until the first completed pass. An unparsable stored
// timestamp also scans as zero: the job is then considered due immediately
// (fail-open), since it has presumably never been serviced.
type Job struct {
	ID        int64
	Owner     int64
	Body      string
	PhotoID   string // provider file reference; empty for text-only
	Interval  time.Duration
	LastRun   time.Time
	SentCount int64
	Active    bool
	CreatedAt time.Time
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

type Payment struct {
	ID        int64
	Owner     int64
	Amount    int64
	Days      int
	Status    PaymentStatus
	CreatedAt time.Time
	DecidedAt time.Time
	Note      string
}

// AdminStats is the aggregate view shown in the admin panel.
type AdminStats struct {
	Users           int64
	ActiveSubs      int64
	ActiveJobs      int64
	TotalSent       int64
	PendingPayments int64
}
