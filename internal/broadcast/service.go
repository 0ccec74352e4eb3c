package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "xabar/internal/runtime/supervisor"
	kit "xabar/internal/transport"
	logx "xabar/pkg/logx"
)

type Service struct {
	log    logx.Logger
	store  Store
	sender kit.Sender

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	credMu    sync.Mutex
	credLocks map[int64]*sync.Mutex

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	sup     *rtsup.Supervisor
}

func New(store Store, sender kit.Sender, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:       log,
		store:     store,
		sender:    sender,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(cfg.Pacing), 1),
		credLocks: make(map[int64]*sync.Mutex),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the runtime configuration. Pacing takes effect on the next
// send; a tick change is picked up after the current tick fires.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	if cfg.Pacing != s.cfg.Pacing {
		s.limiter = rate.NewLimiter(rate.Every(cfg.Pacing), 1)
	}
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// lockFor returns the mutex serializing sends under one credential.
func (s *Service) lockFor(credID int64) *sync.Mutex {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	m, ok := s.credLocks[credID]
	if !ok {
		m = &sync.Mutex{}
		s.credLocks[credID] = m
	}
	return m
}

func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "broadcast"))),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("broadcast.loop", s.run,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(true),
	)
	s.log.Info("broadcast scheduler started")
	return nil
}

// Stop signals the loop to exit between ticks and waits for an in-flight
// pass to finish. If the context runs out first, the loop is cancelled
// hard.
func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	sup := s.sup
	stopCh := s.stopCh
	wasRunning := s.running
	s.running = false
	s.sup = nil
	s.stopCh = nil
	s.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	close(stopCh)

	err := sup.Wait(ctx)
	if err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
		s.log.Warn("broadcast scheduler stop forced", logx.Err(err))
	}
	s.log.Info("broadcast scheduler stopped")
	return nil
}
