package httpapi

import (
	"context"
	"time"

	"worksrelay/internal/notifier"
	"worksrelay/internal/relay"
	"worksrelay/internal/storage"
	logx "worksrelay/pkg/logx"
)

// Config controls the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        DebugConfig
}

// DebugConfig gates the /debug routes. It can change at runtime.
type DebugConfig struct {
	Enabled              bool
	Token                string
	MutexProfileFraction int
	BlockProfileRate     int
}

// Relay is implemented by *relay.Service.
type Relay interface {
	Send(ctx context.Context, source, userID, text string) (relay.Result, error)
}

// Notifier is implemented by *notifier.Service.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// ReminderRunner is implemented by *reminder.Service.
type ReminderRunner interface {
	RunNow(ctx context.Context, name string) error
}

// AuditReader is implemented by storage.Store.
type AuditReader interface {
	RecentAudit(ctx context.Context, q storage.AuditQuery) ([]storage.AuditEntry, error)
}

// Deps are the collaborators handlers call. Everything but Relay may be nil.
type Deps struct {
	Relay     Relay
	Notifier  Notifier
	Reminders ReminderRunner
	Audit     AuditReader
	Status    func() any
	Log       logx.Logger
}

type notifyRequest struct {
	UserID    string  `json:"userId"`
	UserIDAlt string  `json:"user_id"`
	Message   *string `json:"message"`
}

func (r notifyRequest) user() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.UserIDAlt
}

type taskCreatedRequest struct {
	UserID      string `json:"userId"`
	UserIDAlt   string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}
