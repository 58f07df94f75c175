package app

import (
	"fmt"
	"strings"
	"time"

	"worksrelay/internal/httpapi"
	"worksrelay/internal/notifier"
	"worksrelay/internal/reminder"
	"worksrelay/internal/storage"
	"worksrelay/internal/works"
	logx "worksrelay/pkg/logx"
)

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	dl := strings.ToLower(strings.TrimSpace(driver))
	switch dl {
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: dl, Path: path, BusyTimeout: busy}, true, nil
	case "mongo", "mongodb":
		uri := strings.TrimSpace(sc.URI)
		if uri == "" {
			return storage.Config{}, false, fmt.Errorf("storage.uri is required when storage.driver=mongo")
		}
		return storage.Config{Driver: "mongo", URI: uri, Database: strings.TrimSpace(sc.Database)}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapWorksConfig(cfg *Config) (works.Config, error) {
	w := cfg.Works
	timeout, err := parseDurationOrDefault("works.request_timeout", w.RequestTimeout, 10*time.Second)
	if err != nil {
		return works.Config{}, err
	}
	return works.Config{
		ClientID:       strings.TrimSpace(w.ClientID),
		ClientSecret:   w.ClientSecret,
		ServiceAccount: strings.TrimSpace(w.ServiceAccount),
		PrivateKeyPath: strings.TrimSpace(w.PrivateKeyPath),
		BotID:          strings.TrimSpace(w.BotID),
		FallbackUserID: strings.TrimSpace(w.FallbackUserID),
		TargetMode:     w.TargetMode,
		TokenURL:       strings.TrimSpace(w.TokenURL),
		APIBaseURL:     strings.TrimSpace(w.APIBaseURL),
		Scopes:         strings.TrimSpace(w.Scopes),
		RequestTimeout: timeout,
	}, nil
}

func mapLoggingConfig(cfg *Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			UserID:     strings.TrimSpace(l.Alert.UserID),
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapHTTPConfig(cfg *Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := parseDurationOrDefault("http.read_timeout", h.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := parseDurationOrDefault("http.write_timeout", h.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         strings.TrimSpace(h.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		Debug:        mapDebugConfig(cfg),
	}, nil
}

func mapDebugConfig(cfg *Config) httpapi.DebugConfig {
	d := cfg.HTTP.Debug
	return httpapi.DebugConfig{
		Enabled:              d.Enabled,
		Token:                strings.TrimSpace(d.Token),
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
}

func shutdownTimeout(cfg *Config) time.Duration {
	d, err := parseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// mapNotifierConfig maps the notifier section into notifier.Config (parsed durations).
//
// If cfg.notifier is omitted, the notifier is enabled with the defaults below.
// Retries are opt-in: a remote 4xx is not worth repeating by default.
func mapNotifierConfig(cfg *Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        0,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     10 * time.Second,
		DedupWindow:     1 * time.Minute,
		DedupMaxEntries: 2000,
	}

	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	out.RetryBase, err = parseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	out.RetryMaxDelay, err = parseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	out.SendTimeout, err = parseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	out.DedupWindow, err = parseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}

	if out.Workers < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	}
	if out.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if out.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if out.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	if out.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.dedup_max_entries must be >= 0")
	}
	return out, nil
}

func mapSchedulerConfig(cfg *Config) (reminder.Config, error) {
	def, err := parseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 30*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Timezone:       strings.TrimSpace(cfg.Scheduler.Timezone),
		DefaultTimeout: def,
	}, nil
}

// mapReminders converts the reminder list, skipping disabled entries.
// Schedules are checked here so a bad expression rejects the whole reload.
func mapReminders(cfg *Config) ([]reminder.Reminder, error) {
	out := make([]reminder.Reminder, 0, len(cfg.Reminders))
	for i, r := range cfg.Reminders {
		field := fmt.Sprintf("reminders[%d]", i)
		if err := reminder.ValidateSchedule(r.Schedule); err != nil {
			return nil, &ConfigError{Field: field + ".schedule", Err: err}
		}
		if r.Disabled {
			continue
		}
		timeout, err := parseDurationOrDefault(field+".timeout", r.Timeout, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, reminder.Reminder{
			Name:     strings.TrimSpace(r.Name),
			Schedule: strings.TrimSpace(r.Schedule),
			UserID:   strings.TrimSpace(r.UserID),
			Message:  r.Message,
			Timeout:  timeout,
		})
	}
	return out, nil
}
