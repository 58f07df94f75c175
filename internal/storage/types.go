package storage

import (
	"time"

	"github.com/google/uuid"
)

// Config selects and configures a driver. Driver "" or "none" disables storage.
type Config struct {
	Driver      string
	Path        string        // sqlite
	BusyTimeout time.Duration // sqlite; 0 leaves the driver default

	URI      string // mongo
	Database string // mongo; default "worksrelay"
}

// Delivery sources.
const (
	SourceAPI         = "api"
	SourceTaskCreated = "task_created"
	SourceReminder    = "reminder"
)

// AuditEntry records one outbound message attempt.
// Message text is not stored, only its length.
type AuditEntry struct {
	ID          string    `json:"id" bson:"_id"`
	At          time.Time `json:"at" bson:"at"`
	Source      string    `json:"source" bson:"source"`
	RequestedID string    `json:"requested_user_id,omitempty" bson:"requested_user_id,omitempty"`
	TargetID    string    `json:"target_user_id" bson:"target_user_id"`
	TextLen     int       `json:"text_len" bson:"text_len"`
	OK          bool      `json:"ok" bson:"ok"`
	Status      int       `json:"status,omitempty" bson:"status,omitempty"`
	Error       string    `json:"error,omitempty" bson:"error,omitempty"`
	TookMS      int64     `json:"took_ms" bson:"took_ms"`
}

func (e *AuditEntry) fill() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditQuery filters RecentAudit. Empty fields match everything.
type AuditQuery struct {
	Source   string
	TargetID string
	Limit    int
}

func (q AuditQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultAuditLimit
	case q.Limit > maxAuditLimit:
		return maxAuditLimit
	}
	return q.Limit
}
