// Package app assembles the process: configuration, logging, storage,
// the interactive bot surface, the billing maintenance, and the
// broadcast scheduler.
package app

import (
	"context"
	"fmt"
	"time"

	"xabar/internal/billing"
	"xabar/internal/bot"
	"xabar/internal/broadcast"
	"xabar/internal/config"
	rtsup "xabar/internal/runtime/supervisor"
	"xabar/internal/storage"
	"xabar/internal/transport/telegram"
	logx "xabar/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  *storage.Store
	sender *telegram.Sender

	bcast *broadcast.Service
	bill  *billing.Service
	bot   *bot.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	sender := telegram.NewSender(log.With(logx.String("comp", "sender")))

	bcastCfg, err := broadcast.FromSettings(cfg.Broadcast)
	if err != nil {
		return nil, err
	}
	bcast := broadcast.New(store, sender, bcastCfg, log.With(logx.String("comp", "broadcast")))

	bill := billing.New(store, nil, billing.Config{
		DailyPrice:      cfg.Billing.DailyPrice,
		Card:            cfg.Billing.Card,
		ExpirySweepSpec: cfg.Billing.ExpirySweepSpec,
		PendingNagSpec:  cfg.Billing.PendingNagSpec,
	}, log.With(logx.String("comp", "billing")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	botSvc, err := bot.New(bot.Config{
		Token:        cfg.Telegram.Token,
		AdminUserIDs: cfg.Telegram.AdminUserIDs,
		PollTimeout:  pollTimeout,
		MinInterval:  bcastCfg.MinInterval,
	}, store, bill, log.With(logx.String("comp", "bot")))
	if err != nil {
		return nil, err
	}
	// Billing pushes decisions back through the bot surface.
	bill.SetNotifier(botSvc)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		sender:  sender,
		bcast:   bcast,
		bill:    bill,
		bot:     botSvc,
	}, nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.bot.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.bill.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.bcast.Enabled() {
		if err := a.bcast.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	// Hot reload: logging and scheduler settings apply live; token and
	// storage changes need a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	bcastCfg, err := broadcast.FromSettings(cfg.Broadcast)
	if err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.bcast.Enabled()
	a.bcast.Apply(bcastCfg)
	switch {
	case wasEnabled && !bcastCfg.Enabled:
		a.log.Info("broadcast scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = a.bcast.Stop(stopCtx)
		cancel()
	case !wasEnabled && bcastCfg.Enabled:
		a.log.Info("broadcast scheduler enabled via config")
		_ = a.bcast.Start(ctx)
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Bounded shutdown steps so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	// Scheduler first so an in-flight pass can finish its bookkeeping
	// before the transports go away.
	step("broadcast", 10*time.Second, a.bcast.Stop)
	step("billing", 2*time.Second, a.bill.Stop)
	step("bot", 3*time.Second, a.bot.Stop)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = "xabar.db"
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func validateConfig(cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := broadcast.FromSettings(cfg.Broadcast); err != nil {
		return err
	}
	if cfg.Billing.DailyPrice < 0 {
		return fmt.Errorf("billing.daily_price must be >= 0")
	}
	return nil
}
