// Package billing owns subscription bookkeeping: pricing, payment
// approval, expiry math, and the periodic maintenance sweeps.
package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"xabar/internal/storage"
	logx "xabar/pkg/logx"
)

const (
	DefaultDailyPrice = 1000
	DefaultSweepSpec  = "@daily"
	DefaultNagSpec    = "@every 6h"
)

type Config struct {
	DailyPrice      int64
	Card            string
	ExpirySweepSpec string
	PendingNagSpec  string
}

func (c Config) withDefaults() Config {
	if c.DailyPrice <= 0 {
		c.DailyPrice = DefaultDailyPrice
	}
	if c.ExpirySweepSpec == "" {
		c.ExpirySweepSpec = DefaultSweepSpec
	}
	if c.PendingNagSpec == "" {
		c.PendingNagSpec = DefaultNagSpec
	}
	return c
}

// Store is the persistence slice billing needs.
type Store interface {
	Subscription(ctx context.Context, owner int64) (storage.Subscription, error)
	SetPaidUntil(ctx context.Context, owner int64, until time.Time) error
	AddBalance(ctx context.Context, owner int64, delta int64) error
	CreatePayment(ctx context.Context, p storage.Payment) (int64, error)
	PendingPayments(ctx context.Context) ([]storage.Payment, error)
	DecidePendingPayments(ctx context.Context, owner int64, status storage.PaymentStatus) (int64, error)
	ExpiringSubscriptions(ctx context.Context, now time.Time, within time.Duration) ([]storage.Subscription, error)
	AdminStats(ctx context.Context, now time.Time) (storage.AdminStats, error)
}

// Notifier pushes billing outcomes back to users and admins. The bot
// surface implements it.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, text string) error
	NotifyAdmins(ctx context.Context, text string) error
}

type Service struct {
	log   logx.Logger
	store Store
	cfg   Config

	mu       sync.Mutex
	notifier Notifier

	cron *cron.Cron
	now  func() time.Time
}

func New(store Store, notifier Notifier, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		store:    store,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// SetNotifier installs the notification sink. Billing and the bot
// surface reference each other, so the sink arrives after construction.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *Service) notifyUser(ctx context.Context, userID int64, text string) error {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n == nil {
		return nil
	}
	return n.NotifyUser(ctx, userID, text)
}

func (s *Service) notifyAdmins(ctx context.Context, text string) error {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n == nil {
		return nil
	}
	return n.NotifyAdmins(ctx, text)
}

func (s *Service) Price(days int) int64 {
	return int64(days) * s.cfg.DailyPrice
}

func (s *Service) Card() string { return s.cfg.Card }

// RequestSubscription records a pending payment for the given number of
// days and tells the admins about it. note carries the receipt reference
// (a photo file id) when the user attached one.
func (s *Service) RequestSubscription(ctx context.Context, userID int64, days int, note string) (storage.Payment, error) {
	if days <= 0 {
		return storage.Payment{}, fmt.Errorf("billing: days must be positive, got %d", days)
	}
	p := storage.Payment{
		Owner:  userID,
		Amount: s.Price(days),
		Days:   days,
		Status: storage.PaymentPending,
		Note:   note,
	}
	id, err := s.store.CreatePayment(ctx, p)
	if err != nil {
		return storage.Payment{}, err
	}
	p.ID = id

	receipt := "no receipt attached"
	if note != "" {
		receipt = "receipt attached"
	}
	msg := fmt.Sprintf("Payment request: user %d, %d day(s), %d (%s).\nApprove: /approve_%d_%d\nReject: /reject_%d",
		userID, days, p.Amount, receipt, userID, days, userID)
	if err := s.notifyAdmins(ctx, msg); err != nil {
		s.log.Warn("admin notification failed", logx.Int64("user", userID), logx.Err(err))
	}
	return p, nil
}

// ExtendSubscription pushes paid_until forward by the given days. An
// unexpired subscription extends from its current expiry; a lapsed or
// missing one restarts from now.
func (s *Service) ExtendSubscription(ctx context.Context, userID int64, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, fmt.Errorf("billing: days must be positive, got %d", days)
	}
	now := s.now()
	base := now
	sub, err := s.store.Subscription(ctx, userID)
	switch {
	case err == nil && sub.PaidUntil.After(now):
		base = sub.PaidUntil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return time.Time{}, err
	}
	until := base.AddDate(0, 0, days)
	if err := s.store.SetPaidUntil(ctx, userID, until); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// Approve settles the user's pending payments and extends the
// subscription.
func (s *Service) Approve(ctx context.Context, userID int64, days int) (time.Time, error) {
	n, err := s.store.DecidePendingPayments(ctx, userID, storage.PaymentApproved)
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, storage.ErrNotFound
	}
	until, err := s.ExtendSubscription(ctx, userID, days)
	if err != nil {
		return time.Time{}, err
	}
	s.log.Info("payment approved",
		logx.Int64("user", userID), logx.Int("days", days), logx.Time("until", until))
	if err := s.notifyUser(ctx, userID,
		fmt.Sprintf("Payment approved. Subscription active until %s.", until.Format("2006-01-02 15:04"))); err != nil {
		s.log.Warn("user notification failed", logx.Int64("user", userID), logx.Err(err))
	}
	return until, nil
}

// Reject discards the user's pending payments.
func (s *Service) Reject(ctx context.Context, userID int64) error {
	n, err := s.store.DecidePendingPayments(ctx, userID, storage.PaymentRejected)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	s.log.Info("payment rejected", logx.Int64("user", userID))
	if err := s.notifyUser(ctx, userID, "Payment rejected. Contact support if this is a mistake."); err != nil {
		s.log.Warn("user notification failed", logx.Int64("user", userID), logx.Err(err))
	}
	return nil
}

// Credit adjusts a user's balance by the given amount. Negative amounts
// deduct.
func (s *Service) Credit(ctx context.Context, userID int64, amount int64) error {
	if amount == 0 {
		return fmt.Errorf("billing: credit amount must be non-zero")
	}
	if err := s.store.AddBalance(ctx, userID, amount); err != nil {
		return err
	}
	s.log.Info("balance adjusted", logx.Int64("user", userID), logx.Int64("amount", amount))
	if err := s.notifyUser(ctx, userID,
		fmt.Sprintf("Your balance was adjusted by %d.", amount)); err != nil {
		s.log.Warn("user notification failed", logx.Int64("user", userID), logx.Err(err))
	}
	return nil
}

func (s *Service) Stats(ctx context.Context) (storage.AdminStats, error) {
	return s.store.AdminStats(ctx, s.now())
}

// Start registers the maintenance sweeps. Specs use the standard cron
// grammar including descriptors like "@daily".
func (s *Service) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.ExpirySweepSpec, func() { s.expirySweep(ctx) }); err != nil {
		return fmt.Errorf("billing: expiry sweep spec: %w", err)
	}
	if _, err := c.AddFunc(s.cfg.PendingNagSpec, func() { s.pendingNag(ctx) }); err != nil {
		return fmt.Errorf("billing: pending nag spec: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.Info("billing maintenance started",
		logx.String("expiry_sweep", s.cfg.ExpirySweepSpec),
		logx.String("pending_nag", s.cfg.PendingNagSpec))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	s.cron = nil
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// expirySweep warns every user whose subscription lapses within a day.
func (s *Service) expirySweep(ctx context.Context) {
	now := s.now()
	subs, err := s.store.ExpiringSubscriptions(ctx, now, 24*time.Hour)
	if err != nil {
		s.log.Warn("expiry sweep failed", logx.Err(err))
		return
	}
	for _, sub := range subs {
		msg := fmt.Sprintf("Your subscription expires %s. Renew to keep your broadcasts running.",
			sub.PaidUntil.Format("2006-01-02 15:04"))
		if err := s.notifyUser(ctx, sub.Owner, msg); err != nil {
			s.log.Debug("expiry reminder failed", logx.Int64("user", sub.Owner), logx.Err(err))
		}
	}
	if len(subs) > 0 {
		s.log.Info("expiry reminders sent", logx.Int("count", len(subs)))
	}
}

// pendingNag reminds admins about payments still waiting for a decision.
func (s *Service) pendingNag(ctx context.Context) {
	pending, err := s.store.PendingPayments(ctx)
	if err != nil {
		s.log.Warn("pending payment check failed", logx.Err(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	if err := s.notifyAdmins(ctx,
		fmt.Sprintf("%d payment(s) pending review.", len(pending))); err != nil {
		s.log.Debug("admin nag failed", logx.Err(err))
	}
}
