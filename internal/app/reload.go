package app

import (
	"context"
	"strings"
	"time"

	"worksrelay/internal/config"
	logx "worksrelay/pkg/logx"
	"worksrelay/pkg/systemd"
)

// reloadLoop fans committed configs out to the live components.
// Configs reaching here already passed the manager's validator.
func (a *App) reloadLoop(c context.Context, sub chan *Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			_, _ = systemd.Reloading()
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
			_, _ = systemd.Ready()
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *Config) {
	sections, attrs, reminderChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(reminderChanged) > 0 {
		a.log.Debug("reminder changes detected", logx.Any("reminders", reminderChanged))
	}
	if restart, what := config.RestartRequired(oldCfg, newCfg, sections); restart {
		a.log.Warn("config change needs a restart to take effect", logx.String("section", what))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	a.sender.SetTarget(newCfg.Works.TargetMode, strings.TrimSpace(newCfg.Works.FallbackUserID))
	a.http.ApplyDebug(mapDebugConfig(newCfg))

	a.applyReminders(c, newCfg)
	a.applyNotifier(c, newCfg)

	a.log.Info("config reloaded", fields...)
}

func (a *App) applyReminders(c context.Context, newCfg *Config) {
	scfg, err := mapSchedulerConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	defs, err := mapReminders(newCfg)
	if err != nil {
		a.log.Warn("invalid reminders; keeping previous", logx.Err(err))
		return
	}

	prevEnabled := a.rems.Enabled()
	a.rems.Apply(scfg)
	if err := a.rems.Sync(defs); err != nil {
		a.log.Warn("reminder sync incomplete", logx.Err(err))
	}

	switch {
	case prevEnabled && !scfg.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.rems.Stop(stopCtx)
		cancel()
	case !prevEnabled && scfg.Enabled:
		a.log.Info("scheduler enabled via config")
		a.rems.Start(c)
	}
}

func (a *App) applyNotifier(c context.Context, newCfg *Config) {
	ncfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	prevEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case prevEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prevEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(c)
	}
}
