// Package bot is the interactive Telegram surface: menu navigation, the
// job-authoring dialog, destination registration, account linking, and
// the payment flow. All temporal logic lives in the broadcast scheduler;
// this layer is request/response CRUD against the store.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"xabar/internal/billing"
	rtsup "xabar/internal/runtime/supervisor"
	"xabar/internal/storage"
	logx "xabar/pkg/logx"
)

type Config struct {
	Token        string
	AdminUserIDs []int64
	PollTimeout  time.Duration

	// MinInterval bounds the cadence a user may choose at authoring time.
	MinInterval time.Duration
}

type Service struct {
	log     logx.Logger
	store   *storage.Store
	billing *billing.Service
	cfg     Config

	bot *tele.Bot

	dlgMu   sync.Mutex
	dialogs map[int64]*dialog

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, store *storage.Store, bill *billing.Service, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("bot: telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	s := &Service{
		log:     log,
		store:   store,
		billing: bill,
		cfg:     cfg,
		bot:     b,
		dialogs: make(map[int64]*dialog),
	}
	s.registerHandlers()
	return s, nil
}

func (s *Service) isAdmin(userID int64) bool {
	for _, id := range s.cfg.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "bot"))),
		rtsup.WithCancelOnError(false),
	)

	s.sup.Go0("bot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		s.bot.Stop()
	})

	// telebot's Start blocks until Stop; run it under a restart loop so
	// an unexpected poller exit self-heals.
	s.sup.GoRestart("bot.poll", func(context.Context) error {
		s.log.Info("polling started")
		s.bot.Start()
		s.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	sup := s.sup
	wasRunning := s.running
	s.running = false
	s.sup = nil
	s.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("bot stop timed out", logx.Err(err))
	}
	return nil
}

// NotifyUser implements billing.Notifier.
func (s *Service) NotifyUser(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.User{ID: userID}, text)
	return err
}

// NotifyAdmins implements billing.Notifier. Delivery is best-effort per
// admin; the last error is returned.
func (s *Service) NotifyAdmins(ctx context.Context, text string) error {
	var last error
	for _, id := range s.cfg.AdminUserIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(&tele.User{ID: id}, text); err != nil {
			s.log.Warn("admin notify failed", logx.Int64("admin", id), logx.Err(err))
			last = err
		}
	}
	return last
}
