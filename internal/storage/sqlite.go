package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "worksrelay/pkg/logx"
)

//go:embed schema.sql
var sqliteSchema string

// expired dedup rows are swept every this many writes
const sqlitePruneEvery = 500

const deliveryColumns = `id, at_ms, source, requested_user_id, target_user_id, text_len, ok, status, error, took_ms`

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	writes atomic.Uint64
}

// sqliteDSN puts the pragmas on the DSN so every pooled connection gets them.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if busy > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	}
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// one writer; the audit volume is a few rows per message
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	e.fill()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(`+deliveryColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.UnixMilli(), e.Source, e.RequestedID, e.TargetID,
		e.TextLen, e.OK, e.Status, e.Error, e.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, q AuditQuery) ([]AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, q.Source)
	}
	if q.TargetID != "" {
		where = append(where, "target_user_id = ?")
		args = append(args, q.TargetID)
	}
	stmt := `SELECT ` + deliveryColumns + ` FROM deliveries`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY at_ms DESC, rowid DESC LIMIT ?`
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AuditEntry{}
	for rows.Next() {
		var (
			e  AuditEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &at, &e.Source, &e.RequestedID, &e.TargetID,
			&e.TextLen, &e.OK, &e.Status, &e.Error, &e.TookMS); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until_ms) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET until_ms = excluded.until_ms`,
		key, until.UnixMilli(),
	)
	if err != nil {
		return err
	}
	if s.writes.Add(1)%sqlitePruneEvery == 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until_ms < ?`, time.Now().UnixMilli())
		if err != nil {
			s.log.Debug("dedup prune failed", logx.Err(err))
		} else if n, _ := res.RowsAffected(); n > 0 {
			s.log.Debug("dedup pruned", logx.Int("rows", int(n)))
		}
	}
	return nil
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT until_ms FROM dedup WHERE key = ? AND until_ms >= ?`,
		key, time.Now().UnixMilli(),
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
