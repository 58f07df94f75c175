package config

import (
	"reflect"
	"sort"
	"strings"

	logx "worksrelay/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets),
// and (3) the names of reminders that were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// HTTP (never log debug token)
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if strings.TrimSpace(oh.Addr) != strings.TrimSpace(nh.Addr) ||
		oh.ReadTimeout != nh.ReadTimeout ||
		oh.WriteTimeout != nh.WriteTimeout ||
		oh.ShutdownTimeout != nh.ShutdownTimeout ||
		oh.Debug.Enabled != nh.Debug.Enabled ||
		oh.Debug.MutexProfileFraction != nh.Debug.MutexProfileFraction ||
		oh.Debug.BlockProfileRate != nh.Debug.BlockProfileRate ||
		(oh.Debug.Token != "") != (nh.Debug.Token != "") {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.debug_enabled", nh.Debug.Enabled),
			logx.Bool("http.debug_token_set", nh.Debug.Token != ""),
		)
	}

	// Works: credentials are compared but only presence is logged.
	ow, nw := oldCfg.Works, newCfg.Works
	credsChanged := ow.ClientID != nw.ClientID ||
		ow.ClientSecret != nw.ClientSecret ||
		ow.ServiceAccount != nw.ServiceAccount ||
		ow.PrivateKeyPath != nw.PrivateKeyPath ||
		ow.BotID != nw.BotID ||
		ow.TokenURL != nw.TokenURL ||
		ow.APIBaseURL != nw.APIBaseURL ||
		ow.Scopes != nw.Scopes ||
		ow.RequestTimeout != nw.RequestTimeout ||
		!reflect.DeepEqual(ow.TokenCache, nw.TokenCache)
	targetChanged := ow.FallbackUserID != nw.FallbackUserID || ow.TargetMode != nw.TargetMode
	if credsChanged || targetChanged {
		changed = append(changed, "works")
		attrs = append(attrs,
			logx.Bool("works.credentials_changed", credsChanged),
			logx.Bool("works.target_changed", targetChanged),
			logx.String("works.target_mode", strings.TrimSpace(nw.TargetMode)),
			logx.String("works.token_cache", strings.TrimSpace(nw.TokenCache.Driver)),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	// Scheduler
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	reminderChanged := diffReminders(oldCfg.Reminders, newCfg.Reminders)
	if len(reminderChanged) > 0 {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Int("reminders.changed_count", len(reminderChanged)),
			logx.Int("reminders.count", len(newCfg.Reminders)),
		)
	}

	// Notifier
	// Note: section may be nil (omitted). Treat nil as runtime defaults for a more accurate summary.
	defN := &NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        0,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
	oldN := oldCfg.Notifier
	newN := newCfg.Notifier
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	// Storage (nil means disabled; never log the mongo uri)
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.uri_set", strings.TrimSpace(nS.URI) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs, reminderChanged
}

// RestartRequired reports whether a change in sections needs a process restart
// to take effect.
func RestartRequired(oldCfg, newCfg *Config, sections []string) (bool, string) {
	for _, s := range sections {
		switch s {
		case "storage":
			return true, "storage"
		case "http":
			if oldCfg != nil && newCfg != nil && strings.TrimSpace(oldCfg.HTTP.Addr) != strings.TrimSpace(newCfg.HTTP.Addr) {
				return true, "http.addr"
			}
		case "works":
			if oldCfg == nil || newCfg == nil {
				continue
			}
			o, n := oldCfg.Works, newCfg.Works
			o.FallbackUserID, n.FallbackUserID = "", ""
			o.TargetMode, n.TargetMode = "", ""
			if o != n {
				return true, "works credentials"
			}
		}
	}
	return false, ""
}

func diffReminders(oldR, newR []ReminderConfig) []string {
	oldM := make(map[string]ReminderConfig, len(oldR))
	for _, r := range oldR {
		oldM[strings.TrimSpace(r.Name)] = r
	}
	newM := make(map[string]ReminderConfig, len(newR))
	for _, r := range newR {
		newM[strings.TrimSpace(r.Name)] = r
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, okO := oldM[name]
		n, okN := newM[name]
		if okO != okN || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
