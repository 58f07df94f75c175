package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"worksrelay/internal/eventbus"
	"worksrelay/internal/httpapi"
	"worksrelay/internal/notifier"
	"worksrelay/internal/relay"
	"worksrelay/internal/reminder"
	"worksrelay/internal/storage"
	"worksrelay/internal/works"
	logx "worksrelay/pkg/logx"
	"worksrelay/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	cache  works.CredentialCache
	rdb    *redis.Client
	tokens *works.TokenProvider
	sender *works.Sender
	relay  *relay.Service

	notif *notifier.Service
	rems  *reminder.Service
	http  *httpapi.Server

	shutdownTimeout time.Duration
	started         time.Time
}

// Option adjusts NewApp (tests).
type Option func(*options)

type options struct {
	manager *ConfigManager
}

// WithConfigManager replaces the file/env backed manager.
func WithConfigManager(m *ConfigManager) Option { return func(o *options) { o.manager = m } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	cfgm := o.manager
	if cfgm == nil {
		cfgm = NewConfigManager(cfgPath)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Alerts need the sender, which needs the logger; the sender is attached below.
	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))

	// undo releases what was opened so far, newest first.
	var undo []func()
	fail := func(err error) (*App, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return nil, err
	}
	undo = append(undo, func() { _ = logSvc.Close() })

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		st, err := storage.Open(openCtx, sc, log)
		cancel()
		if err != nil {
			return fail(err)
		}
		store = st
		undo = append(undo, func() { _ = st.Close() })
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	wcfg, err := mapWorksConfig(cfg)
	if err != nil {
		return fail(err)
	}
	cache, rdb := newCredentialCache(cfg, appLog)
	if rdb != nil {
		undo = append(undo, func() { _ = rdb.Close() })
	}
	wopts := []works.Option{works.WithLogger(log), works.WithBus(bus)}
	tokens := works.NewTokenProvider(wcfg, cache, wopts...)
	sender := works.NewSender(wcfg, tokens, wopts...)
	logSvc.SetAlertSender(sender)

	rel := relay.New(sender, store, bus, log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(ncfg, rel, log, bus, store)

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	rems := reminder.New(scfg, rel, log, bus)
	defs, err := mapReminders(cfg)
	if err == nil {
		err = rems.Sync(defs)
	}
	if err != nil {
		return fail(err)
	}

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgPath:         cfgPath,
		cfgm:            cfgm,
		log:             appLog,
		logs:            logSvc,
		bus:             bus,
		store:           store,
		cache:           cache,
		rdb:             rdb,
		tokens:          tokens,
		sender:          sender,
		relay:           rel,
		notif:           notif,
		rems:            rems,
		shutdownTimeout: shutdownTimeout(cfg),
	}
	deps := httpapi.Deps{
		Relay:     rel,
		Notifier:  notif,
		Reminders: rems,
		Status:    a.Status,
		Log:       log,
	}
	if store != nil {
		deps.Audit = store
	}
	a.http = httpapi.NewServer(hcfg, deps)
	return a, nil
}

var newRedisClient = redis.NewClient

// newCredentialCache picks the credential slot. Redis is only a shared slot:
// when it is unreachable the provider degrades to fetching on each request.
func newCredentialCache(cfg *Config, log logx.Logger) (works.CredentialCache, *redis.Client) {
	tc := cfg.Works.TokenCache
	if !strings.EqualFold(strings.TrimSpace(tc.Driver), "redis") {
		return works.NewMemoryCache(), nil
	}
	rdb := newRedisClient(&redis.Options{
		Addr:     strings.TrimSpace(tc.RedisAddr),
		Password: tc.RedisPass,
		DB:       tc.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis credential cache unreachable", logx.String("addr", tc.RedisAddr), logx.Err(err))
	}
	return works.NewRedisCache(rdb, tc.KeyPrefix, strings.TrimSpace(cfg.Works.ClientID)), rdb
}

// HTTP returns the inbound API server.
func (a *App) HTTP() *httpapi.Server { return a.http }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Status is the /debug/status payload.
func (a *App) Status() any {
	out := map[string]any{
		"uptime":    time.Since(a.started).Truncate(time.Second).String(),
		"reminders": a.rems.Snapshot(),
		"notifier": map[string]any{
			"enabled": a.notif.Enabled(),
			"history": a.notif.Snapshot(),
		},
		"alerts_dropped": a.logs.AlertsDropped(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	if sup := a.http.Supervisor(); sup != nil {
		out["http"] = sup.Snapshot()
	}
	if sup := a.notif.Supervisor(); sup != nil {
		out["notifier_supervisor"] = sup.Snapshot()
	}

	mode, fallback := a.sender.Target()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if a.store != nil {
		recent, err := a.store.RecentAudit(ctx, storage.AuditQuery{Limit: 10})
		if err != nil {
			out["deliveries"] = map[string]any{"error": err.Error()}
		} else {
			out["deliveries"] = recent
		}
	}
	out["works"] = map[string]any{
		"target_mode":      mode,
		"fallback_user_id": fallback,
		"token_valid":      a.cache.Valid(ctx, time.Now()),
		"token_cache":      cacheDriver(a.cache),
	}
	return out
}

func cacheDriver(c works.CredentialCache) string {
	if _, ok := c.(*works.RedisCache); ok {
		return "redis"
	}
	return "memory"
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		if _, err := mapWorksConfig(cfg); err != nil {
			return err
		}
		if _, err := mapHTTPConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapReminders(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.http.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	// a serve loop that dies outside Stop takes the app down with it
	a.sup.Go("http", a.http.Wait)
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.rems.Enabled() {
		a.rems.Start(a.sup.Context())
	}

	// Keep this debug-level; token refreshes and reminder fires are frequent.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", systemd.RunWatchdog)

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	_, _ = systemd.Status("relaying on " + a.http.Addr())

	a.log.Info("app started", logx.String("addr", a.http.Addr()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("http", a.shutdownTimeout, func(c context.Context) error { a.http.Stop(c); return nil })
	step("reminders", 2*time.Second, func(c context.Context) error { a.rems.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("credential cache", 1*time.Second, func(c context.Context) error {
		// the redis slot is shared with other replicas; leave it
		if a.rdb != nil {
			return a.rdb.Close()
		}
		return a.cache.Clear(c)
	})
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event logger, watchdog).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
