package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "worksrelay/pkg/logx"
)

// Store is what the relay and notifier persist through.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns matching entries, newest first.
	RecentAudit(ctx context.Context, q AuditQuery) ([]AuditEntry, error)

	// GetDedup reports a key only while its window is still open.
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "mongo", "mongodb":
		return openMongo(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
