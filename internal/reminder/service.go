package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"worksrelay/internal/eventbus"
	"worksrelay/internal/storage"
	logx "worksrelay/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether raw would be accepted by Upsert.
func ValidateSchedule(raw string) error {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := cronParser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}
	return nil
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		sender: sender,
		log:    log.With(logx.String("comp", "reminder")),
		bus:    bus,
		defs:   map[string]*entry{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Start begins triggering. Job contexts derive from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.stop = context.WithCancel(ctx)
	s.startCronLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("reminders", len(s.defs)))
}

// Stop stops triggering and waits for running jobs until ctx expires.
// Definitions are kept so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	stop := s.stop
	s.c = nil
	for _, e := range s.defs {
		e.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if stop != nil {
		stop()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Sync makes the registered reminders equal to rems: entries are upserted by
// name and names missing from rems are removed.
func (s *Service) Sync(rems []Reminder) error {
	keep := make(map[string]struct{}, len(rems))
	var errs []error
	for _, r := range rems {
		keep[strings.TrimSpace(r.Name)] = struct{}{}
		if err := s.Upsert(r); err != nil {
			errs = append(errs, fmt.Errorf("reminder %q: %w", r.Name, err))
		}
	}

	s.mu.Lock()
	var stale []string
	for name := range s.defs {
		if _, ok := keep[name]; !ok {
			stale = append(stale, name)
		}
	}
	s.mu.Unlock()
	for _, name := range stale {
		s.Remove(name)
	}
	return errors.Join(errs...)
}

// Upsert registers r, replacing any reminder with the same name.
func (s *Service) Upsert(r Reminder) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return errors.New("name required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return errors.New("message required")
	}
	ps, err := ParseSchedule(r.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(r.Name)
	e := &entry{r: r, spec: ps}
	if s.c != nil {
		if err := s.addLocked(e); err != nil {
			return err
		}
	} else if ps.Kind == SpecCron {
		if _, err := cronParser.Parse(ps.Cron); err != nil {
			return err
		}
	}
	s.defs[r.Name] = e
	s.log.Debug("reminder registered", logx.String("name", r.Name), logx.String("spec", ps.Spec()), logx.Duration("spread", e.spread))
	return nil
}

// Remove unschedules the named reminder. It returns true if something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("reminder removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	delete(s.defs, name)
	return true
}

// RunNow fires the named reminder immediately, outside the cron chain.
func (s *Service) RunNow(ctx context.Context, name string) error {
	return s.fire(ctx, strings.TrimSpace(name))
}

func (s *Service) addLocked(e *entry) error {
	name := e.r.Name
	job := cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		_ = s.fire(ctx, name)
	})

	if e.spec.Kind == SpecInterval {
		sched, jitter := intervalSchedule(e.spec.Every, time.Now().In(s.loc), name)
		e.spread = jitter
		e.entryID = s.c.Schedule(sched, job)
		return nil
	}
	id, err := s.c.AddJob(e.spec.Cron, job)
	if err != nil {
		return err
	}
	e.entryID = id
	return nil
}

func (s *Service) fire(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.defs[name]
	if !ok {
		s.mu.Unlock()
		return ErrUnknown
	}
	r := e.r
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = fallbackTimeout
	}
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		return errors.New("reminder sender not configured")
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	res, err := sender.Send(cctx, storage.SourceReminder, r.UserID, r.Message)
	cancel()

	s.mu.Lock()
	if cur := s.defs[name]; cur == e {
		e.runs++
		e.lastRun = time.Now()
		e.lastErr = ""
		if err != nil {
			e.failures++
			e.lastErr = err.Error()
		}
	}
	s.mu.Unlock()

	ev := Event{Name: name}
	if err != nil {
		ev.Error = err.Error()
		s.log.Debug("reminder send failed", logx.String("name", name), logx.Err(err))
	} else {
		s.log.Info("reminder sent", logx.String("name", name), logx.String("delivery_id", res.ID))
	}
	eventbus.Emit(s.bus, eventbus.TypeReminderFired, ev)
	return err
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	l := cronLogger{log: s.log, bus: s.bus}
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	for name, e := range s.defs {
		if err := s.addLocked(e); err != nil {
			s.log.Error("reminder register failed", logx.String("name", name), logx.Err(err))
		}
	}
	s.c.Start()
}

// restartLocked rebuilds cron in a new timezone. Running jobs finish on the old instance.
func (s *Service) restartLocked() {
	s.c.Stop()
	s.startCronLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("reminders", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		tz = loc.String()
	}
	out := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: tz}
	for name, e := range s.defs {
		it := Info{
			Name:      name,
			Spec:      e.spec.Spec(),
			Source:    e.spec.Source,
			UserID:    e.r.UserID,
			Timeout:   e.r.Timeout,
			Runs:      e.runs,
			Failures:  e.failures,
			LastRun:   e.lastRun,
			LastError: e.lastErr,
		}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			it.Next = ce.Next
			it.Prev = ce.Prev
		}
		out.Reminders = append(out.Reminders, it)
	}
	sort.Slice(out.Reminders, func(i, j int) bool { return out.Reminders[i].Name < out.Reminders[j].Name })
	return out
}
