package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"worksrelay/internal/eventbus"
	"worksrelay/internal/relay"
	rtsup "worksrelay/internal/runtime/supervisor"
	"worksrelay/internal/storage"
	logx "worksrelay/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrEmpty     = errors.New("notification text is empty")
)

// Deliverer is implemented by *relay.Service.
type Deliverer interface {
	Send(ctx context.Context, source, userID, text string) (relay.Result, error)
}

type job struct {
	n   Notification
	key string
}

// Service is the async notification pipeline. It is safe for concurrent use.
type Service struct {
	log     logx.Logger
	deliver Deliverer
	bus     eventbus.Bus
	store   storage.Store
	dedup   *dedupSet
	sent    history

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	run     *run // nil while stopped
}

// run is one Start..Stop cycle.
type run struct {
	queue   chan job
	persist chan dedupWrite // nil unless dedup is persisted
	sup     *rtsup.Supervisor

	// Notify calls past the accept check; the queue closes once they finish
	inflight sync.WaitGroup
	closing  bool
	done     chan struct{}
}

func New(cfg Config, deliver Deliverer, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		deliver: deliver,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		store:   store,
		dedup:   newDedupSet(),
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Workers, queue size and dedup persistence take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	// burst = one second's worth
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Supervisor returns the running cycle's supervisor, or nil.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.sup
}

// Start launches the workers. It is a no-op when disabled or already running,
// and waits for a Stop in progress to finish first.
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		r := s.run
		if r == nil || !r.closing {
			break
		}
		s.mu.Unlock()
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	if s.run != nil || !s.cfg.Enabled {
		return
	}

	r := &run{
		queue: make(chan job, s.cfg.QueueSize),
		done:  make(chan struct{}),
		sup:   rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	if s.cfg.PersistDedup && s.store != nil {
		r.persist = make(chan dedupWrite, 1024)
		r.sup.GoRestart("dedup.persist", func(c context.Context) error {
			return s.persistLoop(c, r.persist)
		}, rtsup.WithPublishFirstError(true))
	}
	for i := 0; i < s.cfg.Workers; i++ {
		r.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.work(c, r.queue)
		}, rtsup.WithPublishFirstError(true))
	}
	s.run = r
	s.log.Debug("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new notifications and drains the queue until ctx ends, then
// abandons whatever is left.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return
	}
	first := !r.closing
	r.closing = true
	s.mu.Unlock()

	if first {
		go func() {
			r.inflight.Wait()
			close(r.queue)
			if r.persist != nil {
				close(r.persist)
			}
			_ = r.sup.Wait(context.Background())

			s.mu.Lock()
			if s.run == r {
				s.run = nil
			}
			s.mu.Unlock()
			close(r.done)
			s.log.Debug("notifier stopped")
		}()
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		r.sup.Cancel()
	}
}

// Notify queues n for asynchronous delivery. A notification suppressed by
// dedup returns nil.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	n.Text = strings.TrimSpace(n.Text)
	if n.Text == "" {
		return ErrEmpty
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	cfg, r := s.cfg, s.run
	switch {
	case !cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case r == nil || r.closing:
		s.mu.Unlock()
		return ErrStopped
	}
	r.inflight.Add(1)
	s.mu.Unlock()
	defer r.inflight.Done()

	key := dedupKey(n)
	if key != "" && cfg.DedupWindow > 0 && s.suppressed(ctx, key, cfg, r.persist) {
		eventbus.Emit(s.bus, eventbus.TypeNotifierDeduped, newEvent(n, key, nil))
		s.log.Debug("notification deduped", logx.String("source", n.Source), logx.String("key", key))
		return nil
	}

	select {
	case r.queue <- job{n: n, key: key}:
		eventbus.Emit(s.bus, eventbus.TypeNotifierQueued, newEvent(n, key, nil))
		return nil
	default:
		eventbus.Emit(s.bus, eventbus.TypeNotifierDropped, newEvent(n, key, ErrQueueFull))
		s.log.Warn("notifier queue full", logx.String("source", n.Source))
		return ErrQueueFull
	}
}

// Snapshot lists recently delivered notifications, oldest first.
func (s *Service) Snapshot() []HistoryItem { return s.sent.list() }
