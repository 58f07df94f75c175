package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "worksrelay/pkg/logx"
)

// Supervisor runs named goroutines under one cancelable context.
// Panics are recovered and reported as errors; the first error is kept for Err.
type Supervisor struct {
	ctx         context.Context
	cancel      context.CancelFunc
	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	err     error
	active  int
	started uint64
	tasks   map[string]*TaskStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first error returned by Go.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		tasks:  map[string]*TaskStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// TaskStats aggregates every run started under one name.
type TaskStats struct {
	Name     string    `json:"name"`
	Active   int       `json:"active"`
	Runs     uint64    `json:"runs"`
	Restarts uint64    `json:"restarts"`
	Panics   uint64    `json:"panics"`
	LastRun  time.Time `json:"last_run"`
	LastErr  string    `json:"last_err,omitempty"`
}

// Snapshot is the /debug/status view of a supervisor.
type Snapshot struct {
	Active  int         `json:"active"`
	Started uint64      `json:"started"`
	Err     string      `json:"err,omitempty"`
	Tasks   []TaskStats `json:"tasks"`
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	snap := Snapshot{Active: s.active, Started: s.started, Tasks: make([]TaskStats, 0, len(s.tasks))}
	if s.err != nil {
		snap.Err = s.err.Error()
	}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, *t)
	}
	s.mu.Unlock()
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}

func (s *Supervisor) task(name string) *TaskStats {
	t := s.tasks[name]
	if t == nil {
		t = &TaskStats{Name: name}
		s.tasks[name] = t
	}
	return t
}

func (s *Supervisor) begin(name string, restart bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.task(name)
	t.Active++
	t.Runs++
	t.LastRun = time.Now()
	if restart {
		t.Restarts++
	}
	s.active++
	s.started++
}

func (s *Supervisor) end(name string, err error, panicked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.task(name)
	t.Active--
	s.active--
	if panicked {
		t.Panics++
	}
	if err != nil {
		t.LastErr = err.Error()
	}
}

// fail records err as the first error; cancel also applies WithCancelOnError.
func (s *Supervisor) fail(err error, cancel bool) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	if cancel && s.cancelOnErr {
		s.cancel()
	}
}

// call runs fn once. A nil error is returned for context cancellation.
func (s *Supervisor) call(name string, fn func(context.Context) error) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err, panicked = fmt.Errorf("%s: panic: %v", name, r), true
		}
	}()
	err = fn(s.ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil, false
	}
	return fmt.Errorf("%s: %w", name, err), false
}

// Go runs fn once. Its error (or panic) becomes Err and, with
// WithCancelOnError, cancels every sibling.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.begin(name, false)
		s.log.Debug("goroutine started", logx.String("name", name))
		err, panicked := s.call(name, fn)
		s.end(name, err, panicked)
		if err != nil {
			s.fail(err, true)
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxRestarts int // 0 = unlimited
	publish     bool
}

// WithRestartBackoff bounds the jittered exponential delay between runs.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.minBackoff = min
		}
		if max > 0 {
			p.maxBackoff = max
		}
	}
}

// WithMaxRestarts stops restarting after n failed reruns.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// WithPublishFirstError surfaces failures through Err while the loop keeps restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publish = enabled }
}

func (p restartPolicy) delay(n int) time.Duration {
	if n > 16 {
		n = 16
	}
	d := p.minBackoff << n
	if d <= 0 || d > p.maxBackoff {
		d = p.maxBackoff
	}
	return d + time.Duration(rand.Int64N(int64(d)/5+1))
}

// GoRestart reruns fn after an error or panic until the context ends.
// A nil return stops the loop. Failures never cancel siblings.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	if p.maxBackoff < p.minBackoff {
		p.maxBackoff = p.minBackoff
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		step := 0
		for restarts := 0; ; restarts++ {
			s.begin(name, restarts > 0)
			runStart := time.Now()
			err, panicked := s.call(name, fn)
			if s.ctx.Err() != nil {
				// shutdown; whatever fn returned is not a failure
				err = nil
			}
			s.end(name, err, panicked)
			if err == nil {
				return
			}
			if p.publish {
				s.fail(err, false)
			}
			if p.maxRestarts > 0 && restarts >= p.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				return
			}
			if time.Since(runStart) >= 30*time.Second {
				step = 0
			}
			wait := p.delay(step)
			step++
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
}

// Stop cancels the context and waits like Wait.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
