package config

type Config struct {
	HTTP    HTTPConfig    `json:"http"`
	Works   WorksConfig   `json:"works"`
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the reminder trigger (cron/interval).
	Scheduler SchedulerConfig  `json:"scheduler"`
	Reminders []ReminderConfig `json:"reminders,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

// HTTPConfig controls the inbound API server.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type HTTPConfig struct {
	Addr            string `json:"addr,omitempty"` // default: ":8000"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	Debug DebugConfig `json:"debug,omitempty"`
}

// DebugConfig gates /debug/status and /debug/pprof/*.
//
// Security note: set a token when the server is reachable from outside localhost.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// Target modes for WorksConfig.TargetMode.
const (
	// TargetFallback always delivers to FallbackUserID and discards the caller's user id.
	// This is the historical behavior of the relay.
	TargetFallback = "fallback"
	// TargetCaller delivers to the caller's user id (fallback when empty).
	TargetCaller = "caller"
)

// WorksConfig holds NAVER WORKS credentials and endpoints.
//
// The six credential fields are required and can be provided via
// NAVER_WORKS_* environment variables instead of the file.
type WorksConfig struct {
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	ServiceAccount string `json:"service_account"`
	PrivateKeyPath string `json:"private_key_path"`
	BotID          string `json:"bot_id"`
	FallbackUserID string `json:"fallback_user_id"`

	// TargetMode is "fallback" (default) or "caller".
	TargetMode string `json:"target_mode,omitempty"`

	TokenURL       string `json:"token_url,omitempty"`    // default: https://auth.worksmobile.com/oauth2/v2.0/token
	APIBaseURL     string `json:"api_base_url,omitempty"` // default: https://www.worksapis.com/v1.0
	Scopes         string `json:"scopes,omitempty"`       // default: "bot user directory"
	RequestTimeout string `json:"request_timeout,omitempty"`

	TokenCache TokenCacheConfig `json:"token_cache,omitempty"`
}

// TokenCacheConfig selects where the single access-token slot lives.
//
// Driver values:
//   - "memory" (default): one slot per process
//   - "redis": one slot shared by every replica using the same key
type TokenCacheConfig struct {
	Driver    string `json:"driver,omitempty"`
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisPass string `json:"redis_password,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards high-severity log records to an operator as NAVER WORKS messages.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	UserID     string `json:"user_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the reminder scheduler.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone (IANA, e.g. "Asia/Seoul").
	Timezone string `json:"timezone,omitempty"`
	// DefaultTimeout bounds a reminder send when the reminder has no timeout of its own.
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// ReminderConfig is one scheduled message.
//
// Example:
//
//	{ "name": "daily-tasks", "schedule": "daily@09:00", "user_id": "u1", "message": "오늘 할 일을 확인하세요! ✅" }
type ReminderConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	UserID   string `json:"user_id,omitempty"`
	Message  string `json:"message"`
	Timeout  string `json:"timeout,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true.
// RetryMax defaults to 0: deliveries are attempted once unless retries are opted in.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/relay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// mongo only
	URI      string `json:"uri,omitempty"`
	Database string `json:"database,omitempty"`
}
