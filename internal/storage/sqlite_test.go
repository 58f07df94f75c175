package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(context.Background(), Config{Driver: driver}, logxNop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	for _, driver := range []string{"etcd", "file"} {
		_, err := Open(context.Background(), Config{Driver: driver}, logxNop())
		require.Error(t, err, driver)
	}
}

func TestSQLiteDSNCarriesPragmas(t *testing.T) {
	t.Parallel()
	dsn := sqliteDSN("/var/lib/relay.db", 1500*time.Millisecond)
	require.True(t, strings.HasPrefix(dsn, "file:/var/lib/relay.db?"))
	for _, p := range []string{"journal_mode%28WAL%29", "synchronous%28NORMAL%29", "busy_timeout%281500%29"} {
		require.Contains(t, dsn, p)
	}
	require.NotContains(t, sqliteDSN("x.db", 0), "busy_timeout")
}

func openTestSQLite(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logxNop())
	require.NoError(t, err)
	return st
}

func TestSQLiteRecentAuditFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "relay.db"))
	defer st.Close()

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	entries := []AuditEntry{
		{At: base, Source: SourceAPI, RequestedID: "alice", TargetID: "fallback", TextLen: 2, OK: true, TookMS: 12},
		{At: base.Add(time.Second), Source: SourceReminder, TargetID: "fallback", Status: 500, Error: "boom"},
		{At: base.Add(2 * time.Second), Source: SourceAPI, TargetID: "bob", OK: true},
	}
	for _, e := range entries {
		require.NoError(t, st.AppendAudit(ctx, e))
	}

	all, err := st.RecentAudit(ctx, AuditQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "bob", all[0].TargetID, "newest first")
	require.NotEmpty(t, all[2].ID)
	require.True(t, all[2].At.Equal(base))
	require.Equal(t, "alice", all[2].RequestedID)
	require.True(t, all[2].OK)
	require.Equal(t, int64(12), all[2].TookMS)

	api, err := st.RecentAudit(ctx, AuditQuery{Source: SourceAPI})
	require.NoError(t, err)
	require.Len(t, api, 2)

	fb, err := st.RecentAudit(ctx, AuditQuery{Source: SourceReminder, TargetID: "fallback"})
	require.NoError(t, err)
	require.Len(t, fb, 1)
	require.Equal(t, 500, fb[0].Status)
	require.Equal(t, "boom", fb[0].Error)
	require.False(t, fb[0].OK)

	one, err := st.RecentAudit(ctx, AuditQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, one, 1)

	none, err := st.RecentAudit(ctx, AuditQuery{TargetID: "nobody"})
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestSQLiteDedupSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "relay.db")
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	st := openTestSQLite(t, path)
	require.NoError(t, st.PutDedup(ctx, "api|u1|hello", until.Add(-time.Minute)))
	require.NoError(t, st.PutDedup(ctx, "api|u1|hello", until))
	require.NoError(t, st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)))
	require.NoError(t, st.Close())

	st = openTestSQLite(t, path)
	defer st.Close()

	got, ok, err := st.GetDedup(ctx, "api|u1|hello")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(until))

	_, ok, err = st.GetDedup(ctx, "stale")
	require.NoError(t, err)
	require.False(t, ok, "an expired window is a miss")

	_, ok, err = st.GetDedup(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuditQueryLimit(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ in, want int }{
		{0, defaultAuditLimit},
		{-3, defaultAuditLimit},
		{7, 7},
		{maxAuditLimit + 1, maxAuditLimit},
	} {
		if got := (AuditQuery{Limit: tc.in}).limit(); got != tc.want {
			t.Fatalf("limit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
