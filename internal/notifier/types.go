package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

const (
	defaultWorkers       = 2
	defaultQueueSize     = 512
	defaultRatePerSec    = 3
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 10 * time.Second
	defaultSendTimeout   = 10 * time.Second
	defaultDedupMax      = 2000
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = defaultDedupMax
	}
	return c
}

// Notification is one message waiting for delivery.
// UserID is passed through to the relay, which decides the actual target.
type Notification struct {
	Source string
	UserID string
	Text   string
}

type HistoryItem struct {
	At     time.Time
	Source string
	Text   string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Source string    `json:"source"`
	UserID string    `json:"user_id,omitempty"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
