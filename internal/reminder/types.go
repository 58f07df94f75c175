package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"worksrelay/internal/eventbus"
	"worksrelay/internal/relay"
	logx "worksrelay/pkg/logx"
)

var ErrUnknown = errors.New("unknown reminder")

const fallbackTimeout = 30 * time.Second

// Config controls the reminder trigger.
type Config struct {
	Enabled        bool
	Timezone       string // IANA TZ, e.g. "Asia/Seoul"; empty means Local
	DefaultTimeout time.Duration
}

// Reminder is one scheduled message.
type Reminder struct {
	Name     string
	Schedule string
	UserID   string
	Message  string
	Timeout  time.Duration
}

// Sender is implemented by *relay.Service.
type Sender interface {
	Send(ctx context.Context, source, userID, text string) (relay.Result, error)
}

type entry struct {
	r       Reminder
	spec    ParsedSpec
	entryID cron.EntryID
	spread  time.Duration

	runs     uint64
	failures uint64
	lastRun  time.Time
	lastErr  string
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	bus    eventbus.Bus
	cfg    Config
	loc    *time.Location
	sender Sender

	c      *cron.Cron
	defs   map[string]*entry
	runCtx context.Context
	stop   context.CancelFunc
}

// Info describes one registered reminder.
type Info struct {
	Name      string
	Spec      string
	Source    string
	UserID    string
	Timeout   time.Duration
	Next      time.Time
	Prev      time.Time
	Runs      uint64
	Failures  uint64
	LastRun   time.Time
	LastError string
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Reminders []Info
}

// Event is the payload of reminder.fired events.
type Event struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}
