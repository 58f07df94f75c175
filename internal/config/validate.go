package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks cfg eagerly so missing credentials fail at startup instead of
// producing a malformed remote request mid-flight.
//
// All missing works.* fields are reported at once in a single *ConfigError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Err: ErrMissing}
	}

	w := cfg.Works
	required := []struct {
		field string
		val   string
	}{
		{"works.client_id", w.ClientID},
		{"works.client_secret", w.ClientSecret},
		{"works.service_account", w.ServiceAccount},
		{"works.private_key_path", w.PrivateKeyPath},
		{"works.bot_id", w.BotID},
		{"works.fallback_user_id", w.FallbackUserID},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Field: strings.Join(missing, ", "), Err: ErrMissing}
	}

	switch strings.ToLower(strings.TrimSpace(w.TargetMode)) {
	case "", TargetFallback, TargetCaller:
	default:
		return &ConfigError{Field: "works.target_mode", Err: fmt.Errorf("unknown mode %q (want %q or %q)", w.TargetMode, TargetFallback, TargetCaller)}
	}
	for _, u := range []struct{ field, raw string }{
		{"works.token_url", w.TokenURL},
		{"works.api_base_url", w.APIBaseURL},
	} {
		if strings.TrimSpace(u.raw) == "" {
			continue
		}
		pu, err := url.Parse(strings.TrimSpace(u.raw))
		if err != nil || pu.Scheme == "" || pu.Host == "" {
			return &ConfigError{Field: u.field, Err: fmt.Errorf("invalid url %q", u.raw)}
		}
	}
	switch strings.ToLower(strings.TrimSpace(w.TokenCache.Driver)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(w.TokenCache.RedisAddr) == "" {
			return &ConfigError{Field: "works.token_cache.redis_addr", Err: ErrMissing}
		}
	default:
		return &ConfigError{Field: "works.token_cache.driver", Err: fmt.Errorf("unknown driver %q", w.TokenCache.Driver)}
	}

	durations := []struct{ field, raw string }{
		{"works.request_timeout", w.RequestTimeout},
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.shutdown_timeout", cfg.HTTP.ShutdownTimeout},
		{"scheduler.default_timeout", cfg.Scheduler.DefaultTimeout},
	}
	if n := cfg.Notifier; n != nil {
		durations = append(durations,
			struct{ field, raw string }{"notifier.retry_base", n.RetryBase},
			struct{ field, raw string }{"notifier.retry_max_delay", n.RetryMaxDelay},
			struct{ field, raw string }{"notifier.send_timeout", n.SendTimeout},
			struct{ field, raw string }{"notifier.dedup_window", n.DedupWindow},
		)
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			return &ConfigError{Field: "notifier", Err: fmt.Errorf("numeric values must be >= 0")}
		}
	}
	if s := cfg.Storage; s != nil {
		durations = append(durations, struct{ field, raw string }{"storage.busy_timeout", s.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.field, d.raw); err != nil {
			return &ConfigError{Field: d.field, Err: err}
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return &ConfigError{Field: "scheduler.timezone", Err: fmt.Errorf("invalid %q: %w", tz, err)}
		}
	}

	seen := map[string]struct{}{}
	for i, r := range cfg.Reminders {
		field := fmt.Sprintf("reminders[%d]", i)
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return &ConfigError{Field: field + ".name", Err: ErrMissing}
		}
		if _, dup := seen[name]; dup {
			return &ConfigError{Field: field + ".name", Err: fmt.Errorf("duplicate reminder %q", name)}
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(r.Schedule) == "" {
			return &ConfigError{Field: field + ".schedule", Err: ErrMissing}
		}
		if strings.TrimSpace(r.Message) == "" {
			return &ConfigError{Field: field + ".message", Err: ErrMissing}
		}
		if _, err := ParseDurationField(field+".timeout", r.Timeout); err != nil {
			return &ConfigError{Field: field + ".timeout", Err: err}
		}
	}

	if cfg.Logging.Alert.Enabled && strings.TrimSpace(cfg.Logging.Alert.UserID) == "" {
		return &ConfigError{Field: "logging.alert.user_id", Err: ErrMissing}
	}
	if cfg.Logging.Alert.RatePerSec < 0 {
		return &ConfigError{Field: "logging.alert.rate_per_sec", Err: fmt.Errorf("must be >= 0")}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return &ConfigError{Field: "storage.path", Err: ErrMissing}
			}
		case "mongo", "mongodb":
			if strings.TrimSpace(s.URI) == "" {
				return &ConfigError{Field: "storage.uri", Err: ErrMissing}
			}
		default:
			return &ConfigError{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", s.Driver)}
		}
	}
	return nil
}
